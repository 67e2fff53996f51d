package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"runcard/config"
	"runcard/pkg/ocr"
	"runcard/process"
	"runcard/process/report"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *globalConfig
		cfg.Database.AutoMigrate = false
		st, err := requireStore(cmd.Context(), &cfg, slog.Default())
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migration completed")
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print monthly totals over stored records",
	RunE: func(cmd *cobra.Command, args []string) error {
		month, _ := cmd.Flags().GetString("month")
		list, _ := cmd.Flags().GetBool("list")
		if month == "" {
			month = time.Now().UTC().Format("2006-01")
		}
		st, err := requireStore(cmd.Context(), globalConfig, slog.Default())
		if err != nil {
			return err
		}
		defer st.Close()
		_, err = report.Run(cmd.Context(), st, month, cmd.OutOrStdout(), list)
		return err
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-run extraction for uploads marked failed",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := globalConfig
		log := slog.Default()
		st, err := requireStore(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer st.Close()
		kind, err := ocr.ParseRecordKind(cfg.Watch.Kind)
		if err != nil {
			return err
		}
		p, rec := newPipeline(cfg, log)
		defer rec.Close()

		r := process.NewRunner(metricsExtractor{ex: p}, process.StoreSink{Store: st}, process.Options{
			Dir:               cfg.Watch.Dir,
			ProcessedDir:      cfg.Watch.ProcessedDir,
			Kind:              kind,
			MaxProcessedBytes: cfg.Watch.MaxProcessedBytes,
		}, log)
		stats, err := r.Retry(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "retried: ok=%d failed=%d missing=%d\n", stats.Processed, stats.Failed, stats.Skipped)
		return err
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Print a bcrypt hash for auth.password_hash",
	Long: `Hashes the password given with --password, or the first line of stdin.

  runcard hash-password --password 's3cret!'
  echo 's3cret!' | runcard hash-password`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, _ := cmd.Flags().GetString("password")
		if pw == "" {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			pw = strings.TrimRight(line, "\r\n")
		}
		h, err := hashPassword(pw)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), h)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(redacted(*globalConfig))
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

// redacted masks secrets for display.
func redacted(cfg config.Config) config.Config {
	mask := func(s *string) {
		if *s != "" {
			*s = "***"
		}
	}
	mask(&cfg.Auth.PasswordHash)
	mask(&cfg.Auth.JWTSecret)
	mask(&cfg.Database.DSN)
	return cfg
}

func init() {
	rootCmd.AddCommand(migrateCmd, reportCmd, retryCmd, hashPasswordCmd, configCmd)
	reportCmd.Flags().String("month", "", "month as YYYY-MM (default: current month, UTC)")
	reportCmd.Flags().Bool("list", false, "list every record of the month")
	hashPasswordCmd.Flags().String("password", "", "password to hash (default: read from stdin)")
}
