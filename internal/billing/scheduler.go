package billing

import (
	"context"
	"time"

	"whatsapp-provider/internal/config"
)

// Job is a named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Jobs returns the scheduled billing tasks with intervals from cfg.
func (s *Service) Jobs(cfg config.JobsConfig) []Job {
	return []Job{
		{Name: "aggregate", Interval: cfg.AggregationInterval, Run: func(ctx context.Context) error {
			_, err := s.AggregateUsage(ctx, s.CurrentMonth())
			return err
		}},
		{Name: "cleanup", Interval: cfg.CleanupInterval, Run: func(ctx context.Context) error {
			_, err := s.Cleanup(ctx)
			return err
		}},
		{Name: "invoice", Interval: cfg.InvoiceInterval, Run: func(ctx context.Context) error {
			_, err := s.GenerateInvoices(ctx)
			return err
		}},
	}
}

// Schedule runs each job on its own ticker until ctx is cancelled. Jobs with
// a non-positive interval are skipped.
func (s *Service) Schedule(ctx context.Context, jobs ...Job) {
	for _, job := range jobs {
		if job.Interval <= 0 {
			continue
		}
		go s.loop(ctx, job)
	}
}

func (s *Service) loop(ctx context.Context, job Job) {
	entry := s.log.WithField("job", job.Name)
	entry.WithField("interval", job.Interval.String()).Info("Job scheduled")

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := job.Run(ctx); err != nil {
				entry.WithError(err).Error("Scheduled job failed")
			}
		}
	}
}
