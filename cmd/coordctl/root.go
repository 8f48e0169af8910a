package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"coordhub/audit"
	"coordhub/db"
)

// operator is the audit actor for every change made from the CLI.
const operator = "coordctl"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "coordctl",
	Short: "Operator tooling for the coordinator registry",
	Long: `Export the grouped coordinator listing, broadcast WhatsApp messages,
bootstrap administrator accounts and apply database migrations.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(func() {
		if err := initConfig(cfgFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.coordctl.yaml)")
	rootCmd.PersistentFlags().String("database-url", "", "postgres connection string (env DATABASE_URL)")
	_ = viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database-url"))

	rootCmd.AddCommand(newExportCmd(), newBroadcastCmd(), newUsersCmd(), newMigrateCmd())
}

// initConfig reads the optional config file and overlays the environment.
// Keys are snake_case and map to the upper-cased environment variable.
func initConfig(path string) error {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("coordctl: home dir: %w", err)
		}
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".coordctl")
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.SetDefault("whatsapp_concurrency", 4)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && path == "" {
			return nil
		}
		return fmt.Errorf("coordctl: read config: %w", err)
	}
	return nil
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	url := viper.GetString("database_url")
	if url == "" {
		return nil, errors.New("coordctl: database_url is not set")
	}
	return db.NewPool(ctx, url)
}

func operatorContext(cmd *cobra.Command) context.Context {
	return audit.WithActor(cmd.Context(), operator)
}
