package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/calsched/calsched/internal/config"
	"github.com/calsched/calsched/internal/store"
	"github.com/calsched/calsched/internal/tokenimport"
)

// doctorCmd represents the doctor command
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose system and configuration issues",
	Long: `Perform a system diagnostic for CalSched.

This command checks:
- System information (OS, Go version, etc.)
- Configuration validity
- Database accessibility
- Google OAuth application settings
- Token import directory

Example:
  calsched doctor`,
	RunE: runDoctor,
}

func init() {
	RootCmd.AddCommand(doctorCmd)
}

// DoctorReport represents the complete diagnostic report
type DoctorReport struct {
	Timestamp       time.Time     `json:"timestamp"`
	Checks          []DoctorCheck `json:"checks"`
	Recommendations []string      `json:"recommendations"`
}

// DoctorCheck represents a single diagnostic check
type DoctorCheck struct {
	Category    string `json:"category"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	report := DoctorReport{
		Timestamp: time.Now().UTC(),
		Checks:    []DoctorCheck{},
	}

	report.Checks = append(report.Checks, DoctorCheck{
		Category: "System",
		Name:     "Runtime",
		Status:   "ok",
		Message:  fmt.Sprintf("%s/%s, %s, %d CPUs", runtime.GOOS, runtime.GOARCH, runtime.Version(), runtime.NumCPU()),
	})

	report.Checks = append(report.Checks, checkConfiguration()...)
	report.Checks = append(report.Checks, checkDatabase())
	report.Recommendations = generateRecommendations(report.Checks)

	return outputDoctorReport(report)
}

func checkConfiguration() []DoctorCheck {
	checks := []DoctorCheck{}

	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		checks = append(checks, DoctorCheck{
			Category:    "Config",
			Name:        "Load",
			Status:      "error",
			Message:     err.Error(),
			Remediation: "Fix or create " + globalFlags.Config,
		})
		return checks
	}

	checks = append(checks, DoctorCheck{
		Category: "Config",
		Name:     "Load",
		Status:   "ok",
		Message:  fmt.Sprintf("loaded %s (version %s)", globalFlags.Config, cfg.Version),
	})

	if cfg.Google.ClientID == "" || cfg.Google.ClientSecret == "" {
		checks = append(checks, DoctorCheck{
			Category:    "Google",
			Name:        "OAuth application",
			Status:      "error",
			Message:     "client_id or client_secret is not set",
			Remediation: "Set google.client_id and google.client_secret (env substitution is supported)",
		})
	} else {
		checks = append(checks, DoctorCheck{
			Category: "Google",
			Name:     "OAuth application",
			Status:   "ok",
			Message:  "client credentials configured",
		})
	}

	if cfg.Import.Enabled {
		tokenDir := tokenimport.ResolveTokenDir(cfg.Import.TokenDir)
		if tokenDir == "" {
			checks = append(checks, DoctorCheck{
				Category:    "Import",
				Name:        "Token directory",
				Status:      "warning",
				Message:     "import is enabled but no token directory is configured",
				Remediation: "Set import.token_dir or CALSCHED_TOKEN_DIR",
			})
		} else if info, err := os.Stat(tokenDir); err != nil || !info.IsDir() {
			checks = append(checks, DoctorCheck{
				Category:    "Import",
				Name:        "Token directory",
				Status:      "warning",
				Message:     fmt.Sprintf("token directory %s is not accessible", tokenDir),
				Remediation: "Create the directory or disable import",
			})
		} else {
			tokens, _ := tokenimport.DiscoverTokenFiles(tokenDir)
			checks = append(checks, DoctorCheck{
				Category: "Import",
				Name:     "Token directory",
				Status:   "ok",
				Message:  fmt.Sprintf("%s (%d token files)", tokenDir, len(tokens)),
			})
		}
	}

	return checks
}

func checkDatabase() DoctorCheck {
	s, err := store.NewSQLiteStore(globalFlags.DBPath)
	if err != nil {
		return DoctorCheck{
			Category:    "Database",
			Name:        "SQLite",
			Status:      "error",
			Message:     err.Error(),
			Remediation: "Check that the parent directory of " + globalFlags.DBPath + " is writable",
		}
	}
	defer s.Close()

	stats := s.Stats()
	return DoctorCheck{
		Category: "Database",
		Name:     "SQLite",
		Status:   "ok",
		Message:  fmt.Sprintf("%s (%d credentials, %d mappings)", globalFlags.DBPath, stats.Credentials, stats.Mappings),
	}
}

func generateRecommendations(checks []DoctorCheck) []string {
	recs := []string{}
	for _, check := range checks {
		if check.Status != "ok" && check.Remediation != "" {
			recs = append(recs, check.Remediation)
		}
	}
	return recs
}

func outputDoctorReport(report DoctorReport) error {
	if globalFlags.JSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tCHECK\tSTATUS\tMESSAGE")
	for _, check := range report.Checks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", check.Category, check.Name, check.Status, check.Message)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(report.Recommendations) > 0 {
		fmt.Println("\nRecommendations:")
		for _, rec := range report.Recommendations {
			fmt.Printf("  - %s\n", rec)
		}
	}
	return nil
}
