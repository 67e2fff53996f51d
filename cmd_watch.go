package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"runcard/pkg/ocr"
	"runcard/process"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Process screenshots dropped into a directory",
	Long: `Processes the screenshots already in the directory, then keeps watching
for new ones. With a database configured, records are stored and processed
files are moved to the processed directory; otherwise results are only
logged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := globalConfig
		if cmd.Flags().Changed("dir") {
			cfg.Watch.Dir, _ = cmd.Flags().GetString("dir")
		}
		if cmd.Flags().Changed("workers") {
			cfg.Watch.Workers, _ = cmd.Flags().GetInt("workers")
		}
		if cmd.Flags().Changed("kind") {
			cfg.Watch.Kind, _ = cmd.Flags().GetString("kind")
		}
		once, _ := cmd.Flags().GetBool("once")
		kind, err := ocr.ParseRecordKind(cfg.Watch.Kind)
		if err != nil {
			return err
		}
		if fi, err := os.Stat(cfg.Watch.Dir); err != nil || !fi.IsDir() {
			return fmt.Errorf("watch dir %q is not a directory", cfg.Watch.Dir)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		log := slog.Default()

		p, rec := newPipeline(cfg, log)
		defer rec.Close()

		st, err := openStore(ctx, cfg, log)
		if err != nil {
			return err
		}
		var sink process.Sink
		if st != nil {
			defer st.Close()
			sink = process.StoreSink{Store: st}
		} else {
			log.Warn("no database configured; results are logged only")
		}

		r := process.NewRunner(metricsExtractor{ex: p}, sink, process.Options{
			Dir:               cfg.Watch.Dir,
			ProcessedDir:      cfg.Watch.ProcessedDir,
			Kind:              kind,
			Workers:           cfg.Watch.Workers,
			Debounce:          cfg.Watch.Debounce,
			MaxProcessedBytes: cfg.Watch.MaxProcessedBytes,
			HashDistance:      process.DefaultHashDistance,
			OnResult: func(res process.Result) {
				if res.Record != nil && sink == nil {
					_ = writeRecord(cmd.OutOrStdout(), "json", res.Name, res.Record)
				}
			},
		}, log)
		if err := r.Preload(ctx); err != nil {
			return err
		}

		if once {
			stats, err := r.RunDir(ctx)
			log.Info("done", "processed", stats.Processed, "skipped", stats.Skipped, "duplicates", stats.Duplicates, "failed", stats.Failed)
			return err
		}
		err = r.Watch(ctx)
		stats := r.Stats()
		log.Info("stopped", "processed", stats.Processed, "skipped", stats.Skipped, "duplicates", stats.Duplicates, "failed", stats.Failed)
		return err
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("dir", "public/runs", "directory to watch")
	watchCmd.Flags().Int("workers", 0, "concurrent extractions (0 = number of CPUs)")
	watchCmd.Flags().String("kind", "daily", "record kind (daily, monthly)")
	watchCmd.Flags().Bool("once", false, "process existing files and exit")
}
