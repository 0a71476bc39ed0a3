package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/chronobot/internal/app/builders"
	"github.com/aatumaykin/chronobot/internal/tenantsync"
)

// tenantsCmd represents the tenants command
var tenantsCmd = &cobra.Command{
	Use:   "tenants",
	Short: "Manage tenant documents",
	Long:  `Validate YAML tenant documents and import them into storage.`,
}

var tenantsValidateCmd = &cobra.Command{
	Use:   "validate <file.yaml>...",
	Short: "Validate tenant documents",
	Long:  `Validate tenant documents without touching storage. Every error of every file is printed.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		failed := 0
		for _, path := range args {
			t, err := tenantsync.LoadFile(path)
			if err != nil {
				failed++
				fmt.Fprintf(out, "✗ %s\n", path)
				printJoined(cmd, err)
				continue
			}
			fmt.Fprintf(out, "✓ %s: chat %d, %d broadcasts, %d deletion policies\n",
				path, t.ChatID, len(t.Broadcasts), len(t.Policies))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d documents are invalid", failed, len(args))
		}
		return nil
	},
}

var tenantsImportCmd = &cobra.Command{
	Use:   "import <file.yaml>...",
	Short: "Import tenant documents into storage",
	Long: `Validate and import tenant documents. Editable fields are replaced,
bookkeeping of existing items is kept. A document with any error is skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Logging.Output = "stderr"
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}

		p, err := builders.NewStorageBuilder(cfg, log).Build(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = p.Close() }()

		syncer := tenantsync.New("", p.Store, p.Counter, log)
		out := cmd.OutOrStdout()
		var errs []error
		for _, path := range args {
			t, err := syncer.ImportFile(cmd.Context(), path)
			if err != nil {
				errs = append(errs, err)
				fmt.Fprintf(out, "✗ %s\n", path)
				printJoined(cmd, err)
				continue
			}
			fmt.Fprintf(out, "✓ %s: chat %d imported\n", path, t.ChatID)
		}
		return errors.Join(errs...)
	},
}

// printJoined prints every error of a joined error on its own line.
func printJoined(cmd *cobra.Command, err error) {
	for _, e := range flatten(err) {
		fmt.Fprintf(cmd.OutOrStdout(), "    - %v\n", e)
	}
}

func flatten(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range j.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	if inner := errors.Unwrap(err); inner != nil {
		if _, ok := inner.(interface{ Unwrap() []error }); ok {
			return flatten(inner)
		}
	}
	return []error{err}
}

func init() {
	tenantsCmd.AddCommand(tenantsValidateCmd)
	tenantsCmd.AddCommand(tenantsImportCmd)
}
