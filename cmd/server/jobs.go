package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whatsapp-provider/internal/billing"
	"whatsapp-provider/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	jobWorker bool
	jobMonth  string
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Roll daily usage up into monthly summaries",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"aggregate",
			jobWorker,
			func(cfg *config.Config) time.Duration { return cfg.Jobs.AggregationInterval },
			func(s *billing.Service, ctx context.Context) error {
				month := jobMonth
				if month == "" {
					month = s.CurrentMonth()
				}
				_, err := s.AggregateUsage(ctx, month)
				return err
			},
		)
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete usage metrics and signup sessions past retention",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"cleanup",
			jobWorker,
			func(cfg *config.Config) time.Duration { return cfg.Jobs.CleanupInterval },
			func(s *billing.Service, ctx context.Context) error {
				_, err := s.Cleanup(ctx)
				return err
			},
		)
	},
}

var invoiceCmd = &cobra.Command{
	Use:   "invoice",
	Short: "Issue invoices for last month's summaries",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"invoice",
			jobWorker,
			func(cfg *config.Config) time.Duration { return cfg.Jobs.InvoiceInterval },
			func(s *billing.Service, ctx context.Context) error {
				var err error
				if jobMonth == "" {
					_, err = s.GenerateInvoices(ctx)
				} else {
					_, err = s.InvoiceMonth(ctx, jobMonth)
				}
				return err
			},
		)
	},
}

func init() {
	rootCmd.AddCommand(aggregateCmd, cleanupCmd, invoiceCmd)

	for _, c := range []*cobra.Command{aggregateCmd, cleanupCmd, invoiceCmd} {
		c.Flags().BoolVar(&jobWorker, "worker", false, "Run continuously using configured interval")
	}
	aggregateCmd.Flags().StringVar(&jobMonth, "month", "", "Month to aggregate (YYYY-MM), defaults to the current month")
	invoiceCmd.Flags().StringVar(&jobMonth, "month", "", "Month to invoice (YYYY-MM), defaults to last month")
}

func runCommand(
	name string,
	worker bool,
	intervalResolver func(cfg *config.Config) time.Duration,
	fn func(s *billing.Service, ctx context.Context) error,
) {
	a, cleanup := mustBuildApp()
	defer cleanup()

	if worker {
		runWorker(name, intervalResolver(a.cfg), a.billing, fn)
		return
	}

	ctx := context.Background()
	runJob(name, func() error { return fn(a.billing, ctx) })
}

func runWorker(
	name string,
	interval time.Duration,
	svc *billing.Service,
	fn func(s *billing.Service, ctx context.Context) error,
) {
	if interval <= 0 {
		logrus.WithField("job", name).Fatal("invalid worker interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runJob(name, func() error { return fn(svc, ctx) })

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			logrus.WithField("job", name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJob(name, func() error { return fn(svc, ctx) })
		}
	}
}

func runJob(name string, fn func() error) {
	start := time.Now()
	err := fn()
	latency := time.Since(start)
	if err != nil {
		logrus.WithError(err).WithField("job", name).WithField("latency", latency.String()).Error("job_failed")
		return
	}
	logrus.WithField("job", name).WithField("latency", latency.String()).Info("job_completed")
}
