package main

import (
	"encoding/json"
	"time"

	"github.com/okian/pulse/internal/loadtest"
	"github.com/okian/pulse/pkg/logger"
	"github.com/spf13/cobra"
)

func newBurstCmd() *cobra.Command {
	var (
		cfg   loadtest.Config
		limit int
	)
	cmd := &cobra.Command{
		Use:   "burst",
		Short: "Fire concurrent diagnostic calls at a running server and verify the outcome",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.Init(); err != nil {
				return err
			}
			cfg.Logger = logger.Get()

			rep, err := loadtest.Run(cmd.Context(), &cfg)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(rep); err != nil {
				return err
			}
			if limit > 0 {
				return loadtest.Verify(rep, limit)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", "http://localhost:9080", "base URL of the pulse server")
	f.IntVar(&cfg.Subjects, "subjects", 5, "number of subjects to seed")
	f.IntVar(&cfg.Requests, "requests", 100, "diagnostic calls per subject")
	f.IntVar(&cfg.Workers, "workers", 50, "concurrent callers")
	f.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "per-request timeout")
	f.BoolVar(&cfg.Async, "async", false, "queue calls and poll for results")
	f.StringVar(&cfg.Priority, "priority", "", "queue lane for async calls: high, default or low")
	f.IntVar(&cfg.MutateEvery, "mutate-every", 0, "rewrite each subject every N calls, 0 to disable")
	f.DurationVar(&cfg.ResultWait, "result-wait", 10*time.Second, "how long async callers wait for a result")
	f.Float64Var(&cfg.Rate, "rate", 0, "cap on dispatched calls per second, 0 for no cap")
	f.IntVar(&limit, "limit", 0, "per-subject diagnostic limit to verify against, 0 to skip")
	return cmd
}
