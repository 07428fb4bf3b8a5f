package cli

import (
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// GlobalFlags contains global flags available for all commands
type GlobalFlags struct {
	Config  string
	DBPath  string
	Verbose bool
	JSON    bool
	NoColor bool
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "calsched",
	Short: "CalSched - Calendar Availability and Meeting-Time Scheduling",
	Long: `CalSched is the calendar scheduling engine of the task tracker.

It maintains per-user calendar integrations, aggregates busy intervals
across participants, suggests ranked meeting slots, and books chosen
slots as provider-side events.

Usage:
  calsched [command] [flags]

Available Commands:
  serve         Start the scheduling server (main mode)
  integrations  Show stored calendar integrations
  doctor        Diagnose system and configuration issues

Flags:
  --config string   Path to configuration file (default "config.yaml")
  --db string       Path to SQLite database (default "./data/calsched.db")
  --verbose         Enable verbose output
  --json            Output in JSON format
  --no-color        Disable colored output

Use "calsched [command] --help" for more information about a command.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
}

// InitRoot initializes the root command with global flags
func InitRoot() {
	configPath := os.Getenv("CALSCHED_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	dbPath := os.Getenv("CALSCHED_DB_PATH")
	if dbPath == "" {
		dbPath = "./data/calsched.db"
	}

	RootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", configPath, "Path to configuration file")
	RootCmd.PersistentFlags().StringVar(&globalFlags.DBPath, "db", dbPath, "Path to SQLite database")
	RootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose output")
	RootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format")
	RootCmd.PersistentFlags().BoolVar(&globalFlags.NoColor, "no-color", false, "Disable colored output")

	RootCmd.AddCommand(versionCmd)
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of CalSched",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion()
	},
}

var globalFlags GlobalFlags

// GetGlobalFlags returns the global flags
func GetGlobalFlags() GlobalFlags {
	return globalFlags
}

// printVersion prints the version information
func printVersion() {
	info := GetVersionInfo()
	println("CalSched Version:", info.Version)
	println("Go Version:", info.GoVersion)
	println("OS/Arch:", info.OS+"/"+info.Arch)
	println("Build Date:", info.BuildDate)
}

// VersionInfo contains version information
type VersionInfo struct {
	Version   string
	GoVersion string
	OS        string
	Arch      string
	BuildDate string
}

// GetVersionInfo returns version information
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   "0.1.0",
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		BuildDate: "unknown",
	}
}
