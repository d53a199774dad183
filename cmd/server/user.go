package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"vtu-service/internal/config"
	"vtu-service/internal/ledger/pgstore"
)

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage wallet users",
	}
	cmd.AddCommand(userCreateCmd())
	return cmd
}

func userCreateCmd() *cobra.Command {
	var id, pin string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a wallet user with an authorization PIN",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}
			if len(pin) < 4 {
				return errors.New("pin must be at least 4 characters")
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("failed to hash pin: %w", err)
			}

			store, err := pgstore.Connect(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.CreateUser(cmd.Context(), id, string(hash)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id")
	cmd.Flags().StringVar(&pin, "pin", "", "authorization pin")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("pin")
	return cmd
}
