package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"cancel", "rm"},
	Short:   "Cancel a prompt",
	Long: `Cancel a prompt by ID. A queued prompt is cancelled in place;
an executing prompt has its subprocess interrupted first. Completed and
failed prompts cannot be cancelled.

Examples:
  cq remove 4f9d2c1a
  cq rm 4f9d2c1a-77b0-4f2e-9c3d-1a2b3c4d5e6f`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

func init() {
	rootCmd.AddCommand(removeCmd)
}

func runRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	id, err := resolvePromptID(newAPIClient(baseURL(cfg)), args[0])
	if err != nil {
		return err
	}
	if err := newAPIClient(baseURL(cfg)).delete("/queue/prompts/" + id); err != nil {
		return err
	}
	fmt.Printf("cancelled %s\n", shortID(id))
	return nil
}

// resolvePromptID expands a unique ID prefix to the full prompt ID.
func resolvePromptID(client *apiClient, prefix string) (string, error) {
	var prompts []struct {
		ID string `json:"id"`
	}
	if err := client.get("/queue/prompts", &prompts); err != nil {
		return "", err
	}

	var match string
	for _, p := range prompts {
		if p.ID == prefix {
			return p.ID, nil
		}
		if len(prefix) >= 4 && len(p.ID) > len(prefix) && p.ID[:len(prefix)] == prefix {
			if match != "" {
				return "", fmt.Errorf("prompt ID prefix %q is ambiguous", prefix)
			}
			match = p.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no prompt matches %q", prefix)
	}
	return match, nil
}
