package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/claudeutils/claude-queue/internal/accounts"
)

var (
	apiKeyValue     string
	apiKeyBearer    string
	apiKeyAccessKey string
	apiKeySecret    string
	apiKeySession   string
	apiKeyRegion    string
	apiKeyOverwrite bool
)

var accountAPIKeyCmd = &cobra.Command{
	Use:   "api-key",
	Short: "Manage API keys bound to a profile",
	Long: `Bind provider API credentials to a profile. When the profile
is active, the daemon injects the matching environment variables into
each executor spawn instead of relying on the interactive login.

Providers:
  anthropic    --key sk-ant-...
  bedrock      --bearer <token> --region us-west-2
  bedrock      --access-key <id> --secret <key> [--session <token>] --region eu-central-1`,
}

var apiKeySetCmd = &cobra.Command{
	Use:   "set <profile> <provider>",
	Short: "Store a provider credential on a profile",
	Args:  cobra.ExactArgs(2),
	RunE:  runAPIKeySet,
}

var apiKeyListCmd = &cobra.Command{
	Use:   "list <profile>",
	Short: "List providers configured on a profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyList,
}

var apiKeyRemoveCmd = &cobra.Command{
	Use:   "remove <profile> <provider>",
	Short: "Remove a provider credential from a profile",
	Args:  cobra.ExactArgs(2),
	RunE:  runAPIKeyRemove,
}

func init() {
	apiKeySetCmd.Flags().StringVar(&apiKeyValue, "key", "", "Anthropic API key")
	apiKeySetCmd.Flags().StringVar(&apiKeyBearer, "bearer", "", "Bedrock bearer token")
	apiKeySetCmd.Flags().StringVar(&apiKeyAccessKey, "access-key", "", "AWS access key ID")
	apiKeySetCmd.Flags().StringVar(&apiKeySecret, "secret", "", "AWS secret access key")
	apiKeySetCmd.Flags().StringVar(&apiKeySession, "session", "", "AWS session token")
	apiKeySetCmd.Flags().StringVar(&apiKeyRegion, "region", "", "AWS region")
	apiKeySetCmd.Flags().BoolVar(&apiKeyOverwrite, "overwrite", false, "Replace an existing key for the provider")
	accountAPIKeyCmd.AddCommand(apiKeySetCmd, apiKeyListCmd, apiKeyRemoveCmd)
}

func runAPIKeySet(cmd *cobra.Command, args []string) error {
	store, err := accountStore()
	if err != nil {
		return err
	}

	profile, provider := args[0], args[1]
	key := accounts.APIKey{Provider: provider}
	switch provider {
	case accounts.ProviderAnthropic:
		key.APIKey = apiKeyValue
	case accounts.ProviderBedrock:
		key.Region = apiKeyRegion
		if apiKeyAccessKey != "" {
			key.AuthMethod = accounts.AuthAccessKeys
			key.AccessKeyID = apiKeyAccessKey
			key.SecretAccessKey = apiKeySecret
			key.SessionToken = apiKeySession
		} else {
			key.AuthMethod = accounts.AuthBearerToken
			key.BearerToken = apiKeyBearer
		}
	}

	if err := store.SaveAPIKey(profile, key, apiKeyOverwrite); err != nil {
		return err
	}
	fmt.Printf("stored %s credential on %q\n", provider, profile)
	return nil
}

func runAPIKeyList(cmd *cobra.Command, args []string) error {
	store, err := accountStore()
	if err != nil {
		return err
	}
	keys, err := store.ListAPIKeys(args[0])
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Println("no api keys configured")
		return nil
	}
	for _, key := range keys {
		fmt.Printf("%s", key.Provider)
		if key.AuthMethod != "" {
			fmt.Printf(" (%s)", key.AuthMethod)
		}
		fmt.Printf("  added %s\n", key.Created.Local().Format("2006-01-02"))
	}
	return nil
}

func runAPIKeyRemove(cmd *cobra.Command, args []string) error {
	store, err := accountStore()
	if err != nil {
		return err
	}
	if err := store.DeleteAPIKey(args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("removed %s credential from %q\n", args[1], args[0])
	return nil
}
