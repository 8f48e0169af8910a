package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"coordhub/audit"
	"coordhub/auth"
)

func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage application accounts",
	}
	cmd.AddCommand(newCreateAdminCmd(), newUnlockCmd())
	return cmd
}

func newCreateAdminCmd() *cobra.Command {
	var (
		req        auth.CreateUserRequest
		mustChange bool
	)

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := operatorContext(cmd)
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			req.Role = auth.RoleAdmin
			if req.FullName == "" {
				req.FullName = req.Username
			}
			svc := auth.NewService(pool, auth.NewRepository(pool), audit.NewRepository(pool), viper.GetString("jwt_secret"))
			user, err := svc.CreateUser(ctx, req, mustChange)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (id %d)\n", user.Username, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Username, "username", "", "login name")
	cmd.Flags().StringVar(&req.Email, "email", "", "email address")
	cmd.Flags().StringVar(&req.FullName, "full-name", "", "display name (defaults to the username)")
	cmd.Flags().StringVar(&req.Password, "password", "", "initial password")
	cmd.Flags().BoolVar(&mustChange, "must-change", false, "force a password change on first login")
	for _, name := range []string{"username", "email", "password"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newUnlockCmd() *cobra.Command {
	var id int64

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Clear the lockout of an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := operatorContext(cmd)
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := auth.NewService(pool, auth.NewRepository(pool), audit.NewRepository(pool), viper.GetString("jwt_secret"))
			user, err := svc.Unlock(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unlocked %s\n", user.Username)
			return nil
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "user id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
