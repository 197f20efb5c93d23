package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/claudeutils/claude-queue/internal/accounts"
	"github.com/claudeutils/claude-queue/internal/storage"
)

var accountCmd = &cobra.Command{
	Use:     "account",
	Aliases: []string{"accounts"},
	Short:   "Manage named credential profiles",
	Long: `Manage named profiles of executor credentials. One profile is
active at a time; switching replaces the credential files the executor
reads on spawn.

Examples:
  cq account save work
  cq account list
  cq account use personal
  cq account api-key set work anthropic --key sk-ant-...`,
}

var accountListBackups bool

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved profiles",
	RunE:  runAccountList,
}

var accountSaveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "Save current credentials as a named profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountSave,
}

var accountUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Switch to a saved profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountUse,
}

var accountNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Back up current credentials and clear for a fresh login",
	RunE:  runAccountNew,
}

var accountDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a saved profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountDelete,
}

var accountShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show details of one profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountShow,
}

func init() {
	accountListCmd.Flags().BoolVar(&accountListBackups, "backups", false, "Include backup snapshots")
	accountCmd.AddCommand(accountListCmd, accountSaveCmd, accountUseCmd,
		accountNewCmd, accountDeleteCmd, accountShowCmd, accountAPIKeyCmd)
	rootCmd.AddCommand(accountCmd)
}

// accountStore opens the account store directly on disk. Account
// commands work without the daemon; the root flock keeps them safe
// against a concurrently running serve.
func accountStore() (*accounts.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	fs := storage.NewFileStore(cfg.StorageDir)
	if err := fs.Init(); err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	return accounts.NewStore(fs), nil
}

func runAccountList(cmd *cobra.Command, args []string) error {
	store, err := accountStore()
	if err != nil {
		return err
	}
	infos, err := store.List(accountListBackups)
	if err != nil {
		return err
	}

	if GetOutput() == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}

	if len(infos) == 0 {
		fmt.Println("no saved profiles; save the current login with 'cq account save <name>'")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, " \tNAME\tPLAN\tEMAIL\tLAST USED")
	for _, info := range infos {
		marker := " "
		if info.IsActive {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			marker, info.Name, dashIfEmpty(info.SubscriptionType),
			dashIfEmpty(info.Email), formatLastUsed(info.LastUsed))
	}
	return w.Flush()
}

func runAccountSave(cmd *cobra.Command, args []string) error {
	store, err := accountStore()
	if err != nil {
		return err
	}
	if err := store.Save(args[0]); err != nil {
		return err
	}
	fmt.Printf("saved current credentials as %q\n", args[0])
	return nil
}

func runAccountUse(cmd *cobra.Command, args []string) error {
	store, err := accountStore()
	if err != nil {
		return err
	}
	if err := store.Use(args[0]); err != nil {
		return err
	}
	fmt.Printf("switched to %q\n", args[0])
	return nil
}

func runAccountNew(cmd *cobra.Command, args []string) error {
	store, err := accountStore()
	if err != nil {
		return err
	}
	backup, err := store.New()
	if err != nil {
		return err
	}
	if backup != "" {
		fmt.Printf("current credentials backed up as %q\n", backup)
	}
	fmt.Println("credentials cleared; log in with the executor, then 'cq account save <name>'")
	return nil
}

func runAccountDelete(cmd *cobra.Command, args []string) error {
	store, err := accountStore()
	if err != nil {
		return err
	}
	if err := store.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("deleted %q\n", args[0])
	return nil
}

func runAccountShow(cmd *cobra.Command, args []string) error {
	store, err := accountStore()
	if err != nil {
		return err
	}
	info, err := store.GetInfo(args[0])
	if err != nil {
		return err
	}

	if GetOutput() == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Printf("name:         %s\n", info.Name)
	fmt.Printf("plan:         %s\n", dashIfEmpty(info.SubscriptionType))
	fmt.Printf("email:        %s\n", dashIfEmpty(info.Email))
	fmt.Printf("credentials:  %v\n", info.HasCredentials)
	fmt.Printf("active:       %v\n", info.IsActive)
	fmt.Printf("created:      %s\n", info.Created.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("last used:    %s\n", formatLastUsed(info.LastUsed))

	keys, err := store.ListAPIKeys(info.Name)
	if err == nil && len(keys) > 0 {
		fmt.Println("api keys:")
		for _, key := range keys {
			fmt.Printf("  %s", key.Provider)
			if key.AuthMethod != "" {
				fmt.Printf(" (%s)", key.AuthMethod)
			}
			fmt.Println()
		}
	}
	return nil
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatLastUsed(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return formatAge(time.Since(t)) + " ago"
}
