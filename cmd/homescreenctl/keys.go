package main

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/disciple-tools/homescreen-apps/internal/boot"
	"github.com/disciple-tools/homescreen-apps/internal/crm"
	"github.com/disciple-tools/homescreen-apps/internal/magiclink"
)

var (
	keyApp    string
	keyOwner  int64
	keyRotate bool
)

// keysCmd issues magic link keys
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage magic link keys",
}

var keysIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue the magic link of an app owner",
	Long: `Print the magic link an owner opens an app with.

An existing key is reused unless --rotate is given, which invalidates the old link.`,
	RunE: runKeysIssue,
}

func init() {
	f := keysIssueCmd.Flags()
	f.StringVar(&keyApp, "app", magiclink.TypeMyContacts, "App type")
	f.Int64Var(&keyOwner, "owner", 0, "Owner id: a user for user apps, a contact otherwise")
	f.BoolVar(&keyRotate, "rotate", false, "Replace any existing key")
	_ = keysIssueCmd.MarkFlagRequired("owner")

	keysCmd.AddCommand(keysIssueCmd)
}

func runKeysIssue(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, rc *boot.RuntimeConfig, log *slog.Logger, store crm.Store) error {
		links := magiclink.NewService(log, store, rc.Root, rc.BaseURL, magiclink.DefaultApps)
		link, err := links.Issue(ctx, keyApp, keyOwner, keyRotate)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(link)
	})
}
