package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"UserManagementServer/internal/domain"
	"UserManagementServer/internal/service"
	"UserManagementServer/internal/store/postgres"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock <email>",
	Short: "Clear the lockout and failed-login counter of an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnlock,
}

var setRoleCmd = &cobra.Command{
	Use:   "set-role <email> <role>",
	Short: "Change the role of an account",
	Long: `Change the role of an account. Valid roles are ANONYMOUS,
AUTHENTICATED, MANAGER and ADMIN (case-insensitive).

Examples:
  userctl set-role alice@example.com manager`,
	Args: cobra.ExactArgs(2),
	RunE: runSetRole,
}

var (
	bootstrapEmail    string
	bootstrapPassword string
)

var bootstrapAdminCmd = &cobra.Command{
	Use:   "bootstrap-admin",
	Short: "Create a verified administrator unless the email is already registered",
	Args:  cobra.NoArgs,
	RunE:  runBootstrapAdmin,
}

func init() {
	rootCmd.AddCommand(unlockCmd, setRoleCmd, bootstrapAdminCmd)

	bootstrapAdminCmd.Flags().StringVar(&bootstrapEmail, "email", "", "Administrator email address")
	bootstrapAdminCmd.Flags().StringVar(&bootstrapPassword, "password", "", "Administrator password")
	_ = bootstrapAdminCmd.MarkFlagRequired("email")
	_ = bootstrapAdminCmd.MarkFlagRequired("password")
}

func runUnlock(cmd *cobra.Command, args []string) error {
	return withUsers(cmd.Context(), func(ctx context.Context, users *postgres.UsersStore) error {
		u, err := lookupByEmail(ctx, users, args[0])
		if err != nil {
			return err
		}
		if _, err := users.UnlockUser(ctx, u.ID); err != nil {
			return fmt.Errorf("unlock %s: %w", u.Email, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "unlocked %s\n", u.Email)
		return nil
	})
}

func runSetRole(cmd *cobra.Command, args []string) error {
	role, ok := domain.ParseRole(args[1])
	if !ok {
		return fmt.Errorf("unknown role %q", args[1])
	}
	return withUsers(cmd.Context(), func(ctx context.Context, users *postgres.UsersStore) error {
		u, err := lookupByEmail(ctx, users, args[0])
		if err != nil {
			return err
		}
		updated, err := users.UpdateUser(ctx, u.ID, domain.UserUpdate{Role: &role})
		if err != nil {
			return fmt.Errorf("set role for %s: %w", u.Email, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", updated.Email, updated.Role)
		return nil
	})
}

func runBootstrapAdmin(cmd *cobra.Command, args []string) error {
	return withUsers(cmd.Context(), func(ctx context.Context, users *postgres.UsersStore) error {
		created, err := service.BootstrapAdmin(ctx, users, bootstrapEmail, bootstrapPassword, nil)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %s\n", bootstrapEmail)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s already registered; nothing to do\n", bootstrapEmail)
		}
		return nil
	})
}

func withUsers(ctx context.Context, fn func(context.Context, *postgres.UsersStore) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, postgres.NewUsersStore(pool))
}

func lookupByEmail(ctx context.Context, users *postgres.UsersStore, email string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := users.GetUserByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, fmt.Errorf("no account with email %s", email)
	}
	if err != nil {
		return domain.User{}, err
	}
	return u.User, nil
}
