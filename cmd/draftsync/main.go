package main

import (
	"fmt"
	"os"

	"draftsync/internal/app"
	"draftsync/internal/config"
	"draftsync/internal/draft"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
func newApp(cmd *cobra.Command) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "draftsync",
	Short: "Offline-tolerant draft synchronization",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init TENANT_ID USER_ID",
	Short: "Initialize configuration",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		// Each installation gets its own device ID; lock ownership and the
		// local database name key off it.
		deviceID := uuid.New().String()

		cfg := config.NewConfig(args[0], args[1], deviceID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Tenant ID: %s\n", cfg.TenantID)
		fmt.Printf("User ID:   %s\n", cfg.UserID)
		fmt.Printf("Device ID: %s\n", cfg.DeviceID)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Tenant ID: %s\n", cfg.TenantID)
		fmt.Printf("User ID:   %s\n", cfg.UserID)
		fmt.Printf("Device ID: %s\n", cfg.DeviceID)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Local:     %s\n", cfg.Local.Type)
		fmt.Printf("Remote:    %s\n", cfg.Remote.Type)
		fmt.Printf("Feed:      %s\n", cfg.Feed.Type)
		return nil
	},
}

// draft command
var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Manage drafts",
}

var draftListCmd = &cobra.Command{
	Use:   "list",
	Short: "List drafts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.ListDrafts()
		if err != nil {
			return err
		}

		if len(recs) == 0 {
			fmt.Println("No drafts.")
			return nil
		}

		for _, r := range recs {
			synced := "local-only"
			if r.Synced() {
				synced = fmt.Sprintf("v%d", r.RemoteVersion)
			}
			fmt.Printf("%s  %-16s  %-15s  %-9s  step:%d  %s  %s\n",
				r.ID,
				r.ClientName,
				r.Type,
				r.Status,
				r.CurrentStep,
				r.LastModified.Format("2006-01-02 15:04:05"),
				synced,
			)
		}
		return nil
	},
}

var draftShowCmd = &cobra.Command{
	Use:   "show DRAFT_ID",
	Short: "View a draft and its form data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, data, err := a.ShowDraft(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("ID:        %s\n", rec.ID)
		fmt.Printf("Client:    %s\n", rec.ClientName)
		fmt.Printf("Type:      %s\n", rec.Type)
		fmt.Printf("Status:    %s\n", rec.Status)
		fmt.Printf("Step:      %d\n", rec.CurrentStep)
		fmt.Printf("Modified:  %s\n", rec.LastModified.Format("2006-01-02 15:04:05"))
		if rec.Synced() {
			fmt.Printf("Version:   %d\n", rec.RemoteVersion)
		} else {
			fmt.Printf("Version:   local-only\n")
		}
		if rec.LinkedAssessmentID != "" {
			fmt.Printf("Linked:    %s\n", rec.LinkedAssessmentID)
		}
		if len(data) > 0 {
			fmt.Printf("Fields:    %d\n", len(data))
			for k, v := range data {
				fmt.Printf("  %s=%v\n", k, v)
			}
		}
		return nil
	},
}

var draftRmCmd = &cobra.Command{
	Use:   "rm DRAFT_ID",
	Short: "Delete a draft locally and remotely",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteDraft(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("deleting draft: %w", err)
		}
		fmt.Printf("Deleted draft %s\n", args[0])
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Manage synchronization",
}

var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Push pending changes and drain the offline queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.SyncNow(cmd.Context()); err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		state, lastErr := a.SyncState()
		fmt.Printf("Sync state: %s\n", state)
		if lastErr != "" {
			fmt.Printf("Last error: %s\n", lastErr)
		}
		if c := a.Conflict(); c != nil {
			fmt.Printf("Conflict on %s (%s): remote v%d updated %s\n",
				c.DraftID, c.ClientName, c.RemoteVersion,
				c.RemoteUpdatedAt.Format("2006-01-02 15:04:05"))
			fmt.Println("Resolve with: draftsync sync resolve keep-mine|use-theirs")
		}
		return nil
	},
}

var syncQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "View the offline queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.Queue()
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}

		for _, e := range entries {
			retry := ""
			if e.Attempts > 0 {
				retry = fmt.Sprintf("  attempts:%d next:%s", e.Attempts,
					e.NotBefore.Format("15:04:05"))
			}
			fmt.Printf("%s  %-6s  %s  %s%s\n",
				e.ID, e.Action, e.DraftID,
				e.Timestamp.Format("2006-01-02 15:04:05"), retry)
		}
		return nil
	},
}

var syncResolveCmd = &cobra.Command{
	Use:   "resolve keep-mine|use-theirs",
	Short: "Resolve a pending sync conflict",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var how draft.Resolution
		switch args[0] {
		case "keep-mine":
			how = draft.KeepMine
		case "use-theirs":
			how = draft.UseTheirs
		default:
			return fmt.Errorf("unknown resolution %q (want keep-mine or use-theirs)", args[0])
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Resolve(cmd.Context(), how); err != nil {
			return fmt.Errorf("resolving conflict: %w", err)
		}
		fmt.Printf("Conflict resolved (%s)\n", args[0])
		return nil
	},
}

// lock command
var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Manage edit locks",
}

var lockStatusCmd = &cobra.Command{
	Use:   "status DRAFT_ID",
	Short: "View a draft's edit lock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		info, err := a.LockStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if info == nil {
			fmt.Println("Unlocked.")
			return nil
		}
		stale := ""
		if info.Stale {
			stale = "  [stale]"
		}
		fmt.Printf("Locked by %s (device %s) since %s%s\n",
			info.LockedBy, info.DeviceID,
			info.LockedAt.Format("2006-01-02 15:04:05"), stale)
		return nil
	},
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release DRAFT_ID",
	Short: "Release this user's edit lock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ReleaseLock(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("releasing lock: %w", err)
		}
		fmt.Printf("Released lock on %s\n", args[0])
		return nil
	},
}

// audit command
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View recent local audit events",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		events, err := a.Audit(limit)
		if err != nil {
			return err
		}

		if len(events) == 0 {
			fmt.Println("No audit events recorded.")
			return nil
		}

		for _, e := range events {
			fmt.Printf("%s  %-24s  %s  %s\n",
				e.Timestamp.Format("2006-01-02 15:04:05"),
				e.Event, e.DraftID, e.Detail)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	draftCmd.AddCommand(draftListCmd)
	draftCmd.AddCommand(draftShowCmd)
	draftCmd.AddCommand(draftRmCmd)

	syncCmd.AddCommand(syncRunCmd)
	syncCmd.AddCommand(syncQueueCmd)
	syncCmd.AddCommand(syncResolveCmd)

	lockCmd.AddCommand(lockStatusCmd)
	lockCmd.AddCommand(lockReleaseCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(draftCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().IntP("limit", "n", 50, "Maximum number of events to show")
}
