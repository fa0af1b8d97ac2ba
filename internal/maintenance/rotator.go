package maintenance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ruslanbekov/magic-auth/internal/metrics"
)

// archiver is the slice of the audit logger the rotator needs.
type archiver interface {
	Rotate(ctx context.Context, cutoff time.Time, dest io.Writer) (int, error)
}

// Rotator archives old security events to a JSON-lines file on a cron
// schedule and deletes them from the database afterwards.
type Rotator struct {
	audit       archiver
	logger      *slog.Logger
	schedule    cron.Schedule
	retention   time.Duration
	archivePath string
}

func NewRotator(auditLog archiver, logger *slog.Logger, cronExpr string, retention time.Duration, archivePath string) (*Rotator, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parse rotation schedule: %w", err)
	}

	return &Rotator{
		audit:       auditLog,
		logger:      logger.With("component", "rotator"),
		schedule:    schedule,
		retention:   retention,
		archivePath: archivePath,
	}, nil
}

func (r *Rotator) Start(ctx context.Context) {
	r.logger.Info("audit rotator started", "retention", r.retention, "archive", r.archivePath)

	for {
		next := r.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("audit rotator shut down")
			return
		case <-timer.C:
			if err := r.RotateOnce(ctx); err != nil {
				r.logger.Error("audit rotation", "error", err)
			}
		}
	}
}

// RotateOnce runs a single rotation cycle. The archive file is synced
// before rows are deleted so a crash in between cannot lose events.
func (r *Rotator) RotateOnce(ctx context.Context) error {
	f, err := os.OpenFile(r.archivePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	cutoff := time.Now().UTC().Add(-r.retention)

	archived, err := r.audit.Rotate(ctx, cutoff, f)
	if err != nil {
		return err
	}
	if archived > 0 {
		metrics.EventsRotatedTotal.Add(float64(archived))
		r.logger.Info("archived security events", "count", archived, "cutoff", cutoff)
	}
	return nil
}
