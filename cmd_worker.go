package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"runcard/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume extraction jobs from the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := globalConfig
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		log := slog.Default()

		p, rec := newPipeline(cfg, log)
		defer rec.Close()

		st, err := openStore(ctx, cfg, log)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close()
		} else {
			log.Warn("no database configured; job results are not stored")
		}
		ca, err := openCache(ctx, cfg)
		if err != nil {
			return err
		}
		if ca != nil {
			defer ca.Close()
		}

		h := &queue.Handler{
			Extractor: metricsExtractor{ex: p},
			Sink:      jobSink(st, ca, log),
			Logger:    log,
		}
		if st != nil {
			h.Failures = jobFailures(st)
		}
		w, err := queue.NewWorker(queue.WorkerConfig{
			RedisURL:    cfg.Queue.RedisURL,
			Queue:       cfg.Queue.Name,
			Concurrency: cfg.Queue.Concurrency,
		}, h, log)
		if err != nil {
			return err
		}
		return w.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
