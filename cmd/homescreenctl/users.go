package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/disciple-tools/homescreen-apps/internal/accounts"
	"github.com/disciple-tools/homescreen-apps/internal/boot"
	"github.com/disciple-tools/homescreen-apps/internal/crm"
)

var (
	createReq accounts.CreateAccountRequest
	hashInput string
)

// usersCmd manages CRM user accounts
var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user accounts",
}

var usersCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user account",
	Long: `Create a user who can log in to the dispatcher or receive contacts.

Roles default to multiplier; pass --role dispatcher to allow dispatching.`,
	RunE: runUsersCreate,
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Print the bcrypt hash of a password",
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := accounts.HashPassword(hashInput)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	f := usersCreateCmd.Flags()
	f.StringVar(&createReq.Username, "username", "", "Login name")
	f.StringVar(&createReq.Password, "password", "", "Password")
	f.StringVar(&createReq.Email, "email", "", "Email address for notifications")
	f.StringVar(&createReq.DisplayName, "display-name", "", "Display name (default: username)")
	f.StringSliceVar(&createReq.Roles, "role", nil, "Role, repeatable (administrator, dispatcher, multiplier)")
	f.StringSliceVar(&createReq.Languages, "language", nil, "Language key, repeatable")
	f.Int64SliceVar(&createReq.LocationGridIDs, "location", nil, "Location grid id, repeatable")
	f.Int64Var(&createReq.ContactID, "contact-id", 0, "Contact record that corresponds to the user")
	_ = usersCreateCmd.MarkFlagRequired("username")
	_ = usersCreateCmd.MarkFlagRequired("password")

	hashPasswordCmd.Flags().StringVar(&hashInput, "password", "", "Password to hash")
	_ = hashPasswordCmd.MarkFlagRequired("password")

	usersCmd.AddCommand(usersCreateCmd)
	usersCmd.AddCommand(hashPasswordCmd)
}

func runUsersCreate(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, _ *boot.RuntimeConfig, log *slog.Logger, store crm.Store) error {
		account, err := accounts.NewService(log, store).Create(ctx, createReq)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(account)
	})
}
