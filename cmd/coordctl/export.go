package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"coordhub/audit"
	"coordhub/coordinator"
	"coordhub/export"
	"coordhub/projection"
)

func newExportCmd() *cobra.Command {
	var (
		query string
		out   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the grouped coordinator listing to an xlsx file",
		RunE: func(cmd *cobra.Command, args []string) error {
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
			page := projection.ProjectAll(records, projection.FilterState{Query: query})

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("export: create %s: %w", out, err)
			}
			if err := export.Coordinators(f, page); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("export: close %s: %w", out, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d coordinators to %s\n", page.Total, out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "free-text filter applied before grouping")
	cmd.Flags().StringVarP(&out, "out", "o", "coordinators.xlsx", "output file")
	return cmd
}
