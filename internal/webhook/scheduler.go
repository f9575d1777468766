package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/Hamdan0407/backend-perfumes-sub000/internal/config"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/store"
)

const sweepBatchSize = 50

// Sweeper periodically re-dispatches pending ledger rows through the
// same handler table as live delivery. Rows older than the retry window
// are left alone for manual inspection.
type Sweeper struct {
	db        *sql.DB
	processor *Processor
	interval  time.Duration
	window    time.Duration
	logger    *zap.Logger
	done      chan struct{}
}

func NewSweeper(db *sql.DB, processor *Processor, cfg *config.WebhookConfig, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		db:        db,
		processor: processor,
		interval:  cfg.RetryInterval,
		window:    cfg.RetryWindow,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// WaitStopped blocks until the sweep loop has exited.
func (s *Sweeper) WaitStopped() { <-s.done }

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.window)

	events, err := store.ListUnprocessedWebhookEvents(ctx, s.db, cutoff, sweepBatchSize)
	if err != nil {
		s.logger.Error("list pending webhook events", zap.Error(err))
		return
	}
	if len(events) == 0 {
		return
	}

	s.logger.Info("retrying pending webhook events", zap.Int("count", len(events)))

	for i := range events {
		event := &events[i]

		var env Envelope
		if err := json.Unmarshal([]byte(event.Payload), &env); err != nil {
			// Stored payloads came through signature verification, so a
			// parse failure means the row is corrupt. Record the error;
			// the row ages out of the retry window on its own.
			s.logger.Error("stored webhook payload unparseable",
				zap.String("event_id", event.EventID), zap.Error(err))
			if markErr := store.MarkWebhookFailed(ctx, s.db, event.ID, "stored payload unparseable: "+err.Error()); markErr != nil {
				s.logger.Error("mark webhook failed", zap.Error(markErr))
			}
			continue
		}

		// One bad event must not abort the rest of the batch.
		if _, err := s.processor.process(ctx, event, &env); err != nil {
			s.logger.Warn("webhook retry failed",
				zap.String("event_id", event.EventID), zap.Error(err))
		}

		if ctx.Err() != nil {
			return
		}
	}
}
