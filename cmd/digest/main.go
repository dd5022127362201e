package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cuemby/digest/pkg/config"
	"github.com/cuemby/digest/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// v holds the merged configuration once PersistentPreRunE has run
var v *viper.Viper

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "digest",
	Short: "Digest - scheduled group summaries that repair themselves",
	Long: `Digest schedules a daily summary job for every configured chat group,
feeds due summaries through a supervised queue consumer, and keeps the
scheduler, the queue consumer and the group configuration consistent.

Run "digest serve" to start the pipeline; the other commands talk to a
running server or operate on its data directory.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configFile, _ := cmd.Flags().GetString("config")

		var err error
		v, err = config.NewViper(configFile)
		if err != nil {
			return err
		}
		bindFlags(cmd)

		log.Init(log.Config{
			Level:      log.Level(v.GetString("log.level")),
			JSONOutput: v.GetBool("log.json"),
			Output:     os.Stderr,
			Version:    Version,
		})
		return nil
	},
}

// flagKeys maps command-line flags to configuration keys
var flagKeys = map[string]string{
	"data-dir":    "data_dir",
	"log-level":   "log.level",
	"log-json":    "log.json",
	"api-addr":    "api.addr",
	"grpc-addr":   "api.grpc_addr",
	"webhook-url": "processor.webhook_url",
	"server":      "client.server",
}

// bindFlags lets flags that were set override file and environment values
func bindFlags(cmd *cobra.Command) {
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

func loadConfig() (*config.Config, error) {
	return config.LoadWithViper(v)
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Digest version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./digest.yaml or ~/.digest/digest.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(groupCmd)
	rootCmd.AddCommand(storeCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Digest version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}
