package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dirsafe/internal/app"
	"dirsafe/internal/config"
	"dirsafe/internal/crypt"
	"dirsafe/internal/fsutil"
	"dirsafe/internal/scheduler"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. When encryption is enabled
// and no key file is present, the key is taken from a passphrase at the
// prompt. The caller must defer a.Close().
func newApp() (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	if a.NeedsKey() {
		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			a.Close()
			return nil, err
		}
		a.SetKey(pass)
	}

	return a, nil
}

// readPassphrase reads a passphrase without echo.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if len(pass) == 0 {
		return "", fmt.Errorf("empty passphrase")
	}
	return string(pass), nil
}

var rootCmd = &cobra.Command{
	Use:   "dirsafe",
	Short: "Directory backup tool",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init SOURCE DEST",
	Short: "Initialize configuration",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		cfg.Backup.SourcePath = args[0]
		cfg.Backup.DestPath = args[1]

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Source:   %s\n", cfg.Backup.SourcePath)
		fmt.Printf("Dest:     %s\n", cfg.Backup.DestPath)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
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
		fmt.Printf("Source:      %s\n", cfg.Backup.SourcePath)
		fmt.Printf("Dest:        %s\n", cfg.Backup.DestPath)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Catalog:     %s (%s)\n", cfg.Store.Path, cfg.Store.Type)
		fmt.Printf("Compression: enabled=%v level=%d\n", cfg.Compression.Enabled, cfg.Compression.Level)
		fmt.Printf("Encryption:  enabled=%v key=%s\n", cfg.Encryption.Enabled, cfg.Encryption.KeyPath)
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Execute backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		incremental, _ := cmd.Flags().GetBool("incremental")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		a.SetProgressFunc(func(stage string, pct float64) {
			fmt.Printf("\r%-8s %3.0f%%", stage, pct)
			if pct >= 100 {
				fmt.Println()
			}
		})

		res, err := a.Backup(incremental)
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
		if res == nil {
			fmt.Println("No changes since last backup.")
			return nil
		}

		fmt.Printf("Backup %s complete: %d file(s), %s in %s\n",
			res.BackupID,
			res.FilesSaved,
			fsutil.FormatBytes(res.TotalSize),
			fsutil.FormatDuration(res.Duration),
		)
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore TARGET",
	Short: "Restore a backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("backup")
		file, _ := cmd.Flags().GetString("file")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if file != "" {
			if err := a.RestoreFile(name, file, args[0]); err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			fmt.Printf("Restored %s to %s\n", file, args[0])
			return nil
		}

		if err := a.Restore(name, args[0]); err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		fmt.Printf("Restored to %s\n", args[0])
		return nil
	},
}

// verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify backup integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("backup")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Verify(name)
		if err != nil {
			return fmt.Errorf("verify failed: %w", err)
		}

		if res.OK() {
			note := ""
			if !res.ContentChecked {
				note = " (no key: existence and size only)"
			}
			fmt.Printf("Backup %s OK: %d file(s) checked%s\n", res.BackupID, res.FilesChecked, note)
			return nil
		}
		for _, p := range res.Problems {
			fmt.Printf("PROBLEM: %s\n", p)
		}
		return fmt.Errorf("%d problem(s) found", len(res.Problems))
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		infos, err := a.List()
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No backups found.")
			return nil
		}

		for _, info := range infos {
			fmt.Printf("%s  %s  %s\n",
				info.Name,
				fsutil.FormatTimestamp(info.Timestamp),
				fsutil.FormatBytes(info.Size),
			)
		}
		fmt.Printf("\n%d backup(s), %s original, ratio %.2f\n",
			a.Catalog().Len(),
			fsutil.FormatBytes(a.Catalog().TotalSize()),
			a.Catalog().CompressionRatio(),
		)
		return nil
	},
}

// key command
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage encryption keys",
}

var keyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a random key file",
	RunE: func(cmd *cobra.Command, args []string) error {
		bits, _ := cmd.Flags().GetInt("bits")

		a, err := newAppNoPrompt()
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.GenerateKey(bits); err != nil {
			return fmt.Errorf("generating key: %w", err)
		}
		fmt.Printf("Generated %d-bit key\n", bits)
		return nil
	},
}

var keyDeriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Derive a key from a passphrase",
	RunE: func(cmd *cobra.Command, args []string) error {
		salt, _ := cmd.Flags().GetString("salt")
		if salt == "" {
			var err error
			salt, err = crypt.GenerateSalt()
			if err != nil {
				return err
			}
			fmt.Printf("Salt: %s\n", salt)
		}

		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}

		fmt.Printf("Key:  %s\n", crypt.DeriveKey(pass, salt))
		return nil
	},
}

// schedule command
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage backup schedules",
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add NAME KIND",
	Short: "Add a schedule (once, hourly, daily, weekly, monthly, custom)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")

		kind, err := scheduler.ParseKind(args[1])
		if err != nil {
			return err
		}

		a, err := newAppNoPrompt()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Scheduler().Schedule(args[0], kind, interval); err != nil {
			return err
		}
		if err := a.SaveSchedules(); err != nil {
			return err
		}
		fmt.Printf("Scheduled %s (%s)\n", args[0], kind)
		return nil
	},
}

var scheduleAtCmd = &cobra.Command{
	Use:   "at NAME TIME",
	Short: "Schedule a one-shot backup at a time (2006-01-02 15:04:05)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		when, err := fsutil.ParseTimestamp(args[1])
		if err != nil {
			return fmt.Errorf("parsing time: %w", err)
		}

		a, err := newAppNoPrompt()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Scheduler().ScheduleAt(args[0], when); err != nil {
			return err
		}
		if err := a.SaveSchedules(); err != nil {
			return err
		}
		fmt.Printf("Scheduled %s at %s\n", args[0], fsutil.FormatTimestamp(when))
		return nil
	},
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  scheduleMutate(func(s *scheduler.Scheduler, name string) error { return s.Cancel(name) }),
}

var schedulePauseCmd = &cobra.Command{
	Use:   "pause NAME",
	Short: "Pause a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  scheduleMutate(func(s *scheduler.Scheduler, name string) error { return s.Pause(name) }),
}

var scheduleResumeCmd = &cobra.Command{
	Use:   "resume NAME",
	Short: "Resume a paused schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  scheduleMutate(func(s *scheduler.Scheduler, name string) error { return s.Resume(name) }),
}

// scheduleMutate wraps a schedule table mutation with app setup and
// persistence.
func scheduleMutate(fn func(*scheduler.Scheduler, string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newAppNoPrompt()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := fn(a.Scheduler(), args[0]); err != nil {
			return err
		}
		return a.SaveSchedules()
	}
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAppNoPrompt()
		if err != nil {
			return err
		}
		defer a.Close()

		entries := a.Scheduler().Entries()
		if len(entries) == 0 {
			fmt.Println("No schedules.")
			return nil
		}

		for _, e := range entries {
			state := "enabled"
			if !e.Enabled {
				state = "paused"
			}
			next := "-"
			if !e.NextRun.IsZero() {
				next = fsutil.FormatTimestamp(e.NextRun)
			}
			fmt.Printf("%-20s %-8s %-8s next: %s\n", e.Name, e.Kind, state, next)
		}
		return nil
	},
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run scheduled backups until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sched := a.Scheduler()
		if sched.ActiveCount() == 0 {
			return fmt.Errorf("no enabled schedules")
		}

		sched.Start()
		if next, ok := sched.NextScheduledTime(); ok {
			fmt.Printf("Scheduler running, next backup at %s\n", fsutil.FormatTimestamp(next))
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nStopping scheduler...")
		sched.Stop()
		return a.SaveSchedules()
	},
}

// newAppNoPrompt builds the app without prompting for a passphrase, for
// commands that never touch file contents.
func newAppNoPrompt() (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// key subcommands
	keyCmd.AddCommand(keyGenerateCmd)
	keyGenerateCmd.Flags().Int("bits", 256, "Key size in bits (128, 192, or 256)")
	keyCmd.AddCommand(keyDeriveCmd)
	keyDeriveCmd.Flags().String("salt", "", "Salt for key derivation (generated when empty)")

	// schedule subcommands
	scheduleCmd.AddCommand(scheduleAddCmd)
	scheduleAddCmd.Flags().Duration("interval", 0, "Interval for custom schedules (e.g. 90m)")
	scheduleCmd.AddCommand(scheduleAtCmd)
	scheduleCmd.AddCommand(scheduleRemoveCmd)
	scheduleCmd.AddCommand(schedulePauseCmd)
	scheduleCmd.AddCommand(scheduleResumeCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleRunCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(backupCmd)
	backupCmd.Flags().BoolP("incremental", "i", false, "Back up only changed files")
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().String("backup", "", "Backup directory name (default: latest)")
	restoreCmd.Flags().String("file", "", "Restore a single file by source-relative path")
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().String("backup", "", "Backup directory name (default: latest)")
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(scheduleCmd)
}
