package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/cuemby/digest/pkg/api"
	"github.com/cuemby/digest/pkg/client"
	"github.com/cuemby/digest/pkg/repair"
	"github.com/cuemby/digest/pkg/storage"
	"github.com/cuemby/digest/pkg/types"
)

func newClient() (*client.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return client.NewClient(cfg.Client.Server), nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show the health of a running server",
	Long: `Ask a running server for a health check and print the result.

The check may fix problems on the way (start a stopped scheduler, respawn a
dead consumer, remove orphaned jobs) when the server runs with
health.auto_repair. With --json the command exits non-zero when the system
is unhealthy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		viaGRPC, _ := cmd.Flags().GetString("grpc")

		if viaGRPC != "" {
			serving, err := client.GRPCServing(viaGRPC)
			if err != nil {
				return err
			}
			if !serving {
				return errors.New("digest is NOT_SERVING")
			}
			fmt.Println("digest is SERVING")
			return nil
		}

		c, err := newClient()
		if err != nil {
			return err
		}

		if !asJSON {
			text, err := c.HealthText()
			if err != nil {
				return err
			}
			fmt.Print(text)
			return nil
		}

		report, err := c.Health()
		if err != nil {
			return err
		}
		if err := printJSON(os.Stdout, report); err != nil {
			return err
		}
		if !report.Healthy {
			return errors.New("system is unhealthy")
		}
		return nil
	},
}

// Repair command
var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Run a full repair on a running server",
	Long: `Run the five repair stages on a running server: restart the queue
consumer, start the scheduler, clean up invalid group configs, recreate
missing jobs and remove orphaned ones, then take a final health check.

Every stage runs even when an earlier one fails. The command exits non-zero
only when the repair could not run at all.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		c, err := newClient()
		if err != nil {
			return err
		}
		report, err := c.Repair()
		if err != nil {
			return errors.Wrap(err, "repair failed")
		}

		if asJSON {
			return printJSON(os.Stdout, report)
		}
		fmt.Print(repair.Format(report))
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{healthCmd, repairCmd} {
		cmd.Flags().String("server", "", "Admin API address of the running server")
		cmd.Flags().Bool("json", false, "Print the JSON report")
	}
	healthCmd.Flags().String("grpc", "", "Query the gRPC health service at this address instead")
}

// Group commands
var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage group summary schedules",
}

func parseGroupArg(arg string) (types.GroupID, error) {
	id, err := types.ParseGroupID(arg)
	if err != nil {
		return 0, errors.Wrap(err, "group ID must be a non-negative integer")
	}
	return id, nil
}

var groupSetCmd = &cobra.Command{
	Use:   "set GROUP_ID",
	Short: "Create or update a group and schedule its daily summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseGroupArg(args[0])
		if err != nil {
			return err
		}
		hour, _ := cmd.Flags().GetInt("hour")
		minute, _ := cmd.Flags().GetInt("minute")
		minMessages, _ := cmd.Flags().GetInt("min-messages")
		style, _ := cmd.Flags().GetString("style")

		c, err := newClient()
		if err != nil {
			return err
		}
		resp, err := c.SetGroup(id, api.GroupRequest{
			Hour:              hour,
			Minute:            minute,
			LeastMessageCount: minMessages,
			Style:             style,
		})
		if err != nil {
			return err
		}

		fmt.Printf("✓ Group %s scheduled\n", id)
		fmt.Printf("  Job: %s\n", resp.Job.Name)
		fmt.Printf("  Schedule: %s\n", resp.Job.Spec)
		if !resp.Job.Next.IsZero() {
			fmt.Printf("  Next run: %s\n", resp.Job.Next.Format("2006-01-02 15:04:05 MST"))
		}
		return nil
	},
}

var groupRemoveCmd = &cobra.Command{
	Use:     "remove GROUP_ID",
	Aliases: []string{"rm"},
	Short:   "Remove a group and its scheduled summary",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseGroupArg(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.RemoveGroup(id); err != nil {
			if client.IsNotFound(err) {
				return errors.Newf("group %s is not configured", id)
			}
			return err
		}
		fmt.Printf("✓ Group %s removed\n", id)
		return nil
	},
}

var groupListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List configured groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		groups, err := c.ListGroups()
		if err != nil {
			return err
		}
		if len(groups) == 0 {
			fmt.Println("No groups configured")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "GROUP\tTIME\tMIN MESSAGES\tSTYLE\tJOB")
		for _, g := range groups {
			style := g.Config.Style
			if style == "" {
				style = "-"
			}
			fmt.Fprintf(w, "%s\t%02d:%02d\t%d\t%s\t%s\n",
				g.ID, g.Config.Hour, g.Config.Minute, g.Config.LeastMessageCount, style, g.Job)
		}
		return w.Flush()
	},
}

func init() {
	groupCmd.AddCommand(groupSetCmd)
	groupCmd.AddCommand(groupRemoveCmd)
	groupCmd.AddCommand(groupListCmd)
	groupCmd.PersistentFlags().String("server", "", "Admin API address of the running server")

	groupSetCmd.Flags().Int("hour", 0, "Hour of the daily summary (0-23)")
	groupSetCmd.Flags().Int("minute", 0, "Minute of the daily summary (0-59)")
	groupSetCmd.Flags().Int("min-messages", 1, "Skip the summary when fewer messages were posted")
	groupSetCmd.Flags().String("style", "", "Summary style passed to the processor")
	_ = groupSetCmd.MarkFlagRequired("hour")
}

// Store commands operate on the data directory directly and need the
// server to be stopped: bbolt holds an exclusive file lock.
var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Import, export or clean up group configs in the data directory",
	Long: `Operate directly on the group config database in the data directory.

The server must be stopped first; the database is locked while it runs.`,
}

func openStore() (*storage.BoltStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, errors.Wrapf(err, "failed to create data directory %s", cfg.DataDir)
	}
	return storage.NewBoltStore(cfg.DataDir)
}

var storeImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import group configs from a YAML file",
	Long: `Import group configs from a YAML file of the form:

  groups:
    "123":
      hour: 21
      minute: 30
      least_message_count: 10

Invalid entries are skipped and listed; valid ones are stored.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return errors.Wrap(err, "failed to open import file")
		}
		defer f.Close()

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		result, err := storage.ImportYAML(store, f)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Imported %d groups\n", result.Imported)
		for _, skipped := range result.Skipped {
			fmt.Printf("  skipped: %s\n", skipped)
		}
		return nil
	},
}

var storeExportCmd = &cobra.Command{
	Use:   "export [FILE]",
	Short: "Export group configs as YAML (stdout by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 0 {
			return storage.ExportYAML(store, os.Stdout)
		}

		f, err := os.Create(args[0])
		if err != nil {
			return errors.Wrap(err, "failed to create export file")
		}
		if err := storage.ExportYAML(store, f); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	},
}

var storeCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove group records with invalid keys or values",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.CleanupInvalidGroups()
		if err != nil {
			return err
		}
		fmt.Printf("✓ Removed %d invalid group configs\n", n)
		return nil
	},
}

func init() {
	storeCmd.AddCommand(storeImportCmd)
	storeCmd.AddCommand(storeExportCmd)
	storeCmd.AddCommand(storeCleanupCmd)
	storeCmd.PersistentFlags().String("data-dir", "", "Data directory for group configs")
}
