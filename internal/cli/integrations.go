package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/calsched/calsched/internal/models"
	"github.com/calsched/calsched/internal/store"
)

// integrationsCmd represents the integrations command
var integrationsCmd = &cobra.Command{
	Use:     "integrations",
	Aliases: []string{"i", "integration", "creds"},
	Short:   "Show stored calendar integrations",
	Long: `Display every stored calendar integration: user, provider, status,
account email, and token expiry.

Examples:
  # Show all integrations
  calsched integrations

  # Filter by status
  calsched integrations --status EXPIRED

  # Output as JSON
  calsched integrations --json | jq '.'`,
	RunE: runIntegrations,
}

var integrationsFlags struct {
	Status string
	UserID string
}

func init() {
	integrationsCmd.Flags().StringVar(&integrationsFlags.Status, "status", "", "Filter by status (ACTIVE, EXPIRED, REVOKED)")
	integrationsCmd.Flags().StringVar(&integrationsFlags.UserID, "user", "", "Filter by user ID")

	RootCmd.AddCommand(integrationsCmd)
}

// IntegrationDisplayInfo is the row shape for output.
type IntegrationDisplayInfo struct {
	UserID       string `json:"user_id"`
	Provider     string `json:"provider"`
	Status       string `json:"status"`
	AccountEmail string `json:"account_email,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
}

func runIntegrations(cmd *cobra.Command, args []string) error {
	sqliteStore, err := store.NewSQLiteStore(globalFlags.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer sqliteStore.Close()

	creds := sqliteStore.ListCredentials(models.ProviderID(""))

	rows := make([]IntegrationDisplayInfo, 0, len(creds))
	for _, cred := range creds {
		if integrationsFlags.Status != "" && cred.Status != models.CredentialStatus(integrationsFlags.Status) {
			continue
		}
		if integrationsFlags.UserID != "" && cred.UserID != integrationsFlags.UserID {
			continue
		}
		row := IntegrationDisplayInfo{
			UserID:       cred.UserID,
			Provider:     string(cred.Provider),
			Status:       string(cred.Status),
			AccountEmail: cred.AccountEmail,
		}
		if cred.ExpiresAt != nil {
			row.ExpiresAt = cred.ExpiresAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, row)
	}

	if globalFlags.JSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No integrations found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tPROVIDER\tSTATUS\tEMAIL\tEXPIRES")
	for _, row := range rows {
		expires := row.ExpiresAt
		if expires == "" {
			expires = "-"
		}
		email := row.AccountEmail
		if email == "" {
			email = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", row.UserID, row.Provider, row.Status, email, expires)
	}
	return w.Flush()
}
