package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"coordhub/audit"
	"coordhub/coordinator"
	"coordhub/whatsapp"
)

func newBroadcastCmd() *cobra.Command {
	var (
		message       string
		municipality  string
		onlyConfirmed bool
		dryRun        bool
	)

	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Send a WhatsApp message to every matching coordinator",
		Long: `Send a templated WhatsApp message. The placeholders {name},
{municipality} and {sector} are replaced per recipient.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(message) == "" {
				return errors.New("broadcast: --message is required")
			}
			ctx := operatorContext(cmd)
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := coordinator.NewService(pool, coordinator.NewRepository(pool), audit.NewRepository(pool))
			records, err := svc.List(ctx)
			if err != nil {
				return err
			}
			recipients := recipientsFor(records, municipality, onlyConfirmed)
			if len(recipients) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no coordinators match")
				return nil
			}

			out := cmd.OutOrStdout()
			if dryRun {
				for _, r := range recipients {
					fmt.Fprintf(out, "%s\t%s\t%s\n", r.Name, r.Phone, whatsapp.Render(message, r))
				}
				return nil
			}

			client := whatsappClient()
			if !client.Enabled() {
				return whatsapp.ErrNotConfigured
			}
			summary, err := client.SendBulk(ctx, recipients, message)
			if err != nil {
				return err
			}
			for _, r := range summary.Results {
				if !r.Success {
					fmt.Fprintf(out, "failed\t%s\t%s\t%s\n", r.Name, r.Phone, r.Error)
				}
			}
			fmt.Fprintf(out, "batch %s: %s\n", summary.BatchID, summary.Message)
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "message template")
	cmd.Flags().StringVar(&municipality, "municipality", "", "only coordinators of this municipality")
	cmd.Flags().BoolVar(&onlyConfirmed, "confirmed", false, "only confirmed coordinators")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print rendered messages without sending")
	return cmd
}

// recipientsFor selects coordinators by exact municipality (ignoring case and
// surrounding space) and, optionally, confirmation.
func recipientsFor(records []coordinator.Coordinator, municipality string, onlyConfirmed bool) []whatsapp.Recipient {
	municipality = strings.TrimSpace(municipality)
	var out []whatsapp.Recipient
	for _, c := range records {
		if municipality != "" && !strings.EqualFold(strings.TrimSpace(c.Municipality), municipality) {
			continue
		}
		if onlyConfirmed && !c.Confirmed {
			continue
		}
		out = append(out, whatsapp.Recipient{
			Name:         c.FullName,
			Phone:        c.Phone,
			Municipality: c.Municipality,
			Sector:       c.Sector,
		})
	}
	return out
}

func whatsappClient() *whatsapp.Client {
	return whatsapp.NewClient(whatsapp.Config{
		BaseURL:     viper.GetString("twilio_base_url"),
		AccountSID:  viper.GetString("twilio_account_sid"),
		AuthToken:   viper.GetString("twilio_auth_token"),
		From:        viper.GetString("twilio_whatsapp_from"),
		Concurrency: viper.GetInt("whatsapp_concurrency"),
	})
}
