package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Hamdan0407/backend-perfumes-sub000/internal/database"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/models"
)

const webhookColumns = `id, event_id, event_type, payload, processed, processing_result, error_message, created_at, processed_at`

func scanWebhookEvent(row rowScanner) (*models.WebhookEvent, error) {
	event := &models.WebhookEvent{}
	var processedAt sql.NullTime

	err := row.Scan(
		&event.ID,
		&event.EventID,
		&event.EventType,
		&event.Payload,
		&event.Processed,
		&event.ProcessingResult,
		&event.ErrorMessage,
		&event.CreatedAt,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}

	if processedAt.Valid {
		t := processedAt.Time
		event.ProcessedAt = &t
	}

	return event, nil
}

// InsertWebhookEvent creates the pending ledger row for an event id before
// its handler runs. The unique constraint on event_id turns a concurrent
// redelivery into ErrDuplicateEvent so only one goroutine processes it.
func InsertWebhookEvent(ctx context.Context, db *sql.DB, eventID, eventType, payload string) (*models.WebhookEvent, error) {
	row := db.QueryRowContext(ctx,
		`INSERT INTO webhook_events (event_id, event_type, payload, processed, processing_result, error_message, created_at)
		 VALUES ($1, $2, $3, FALSE, '', '', NOW())
		 RETURNING `+webhookColumns,
		eventID, eventType, payload)

	event, err := scanWebhookEvent(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, database.ErrDuplicateEvent
		}
		return nil, fmt.Errorf("insert webhook event: %w", err)
	}

	return event, nil
}

func GetWebhookEventByEventID(ctx context.Context, db *sql.DB, eventID string) (*models.WebhookEvent, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+webhookColumns+` FROM webhook_events WHERE event_id = $1`, eventID)

	event, err := scanWebhookEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get webhook event: %w", err)
	}

	return event, nil
}

func MarkWebhookProcessed(ctx context.Context, db *sql.DB, id int64, result string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE webhook_events
		 SET processed = TRUE, processing_result = $1, error_message = '', processed_at = NOW()
		 WHERE id = $2`,
		result, id)
	if err != nil {
		return fmt.Errorf("mark webhook processed: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("mark webhook processed: event %d not found", id)
	}
	return nil
}

// MarkWebhookFailed records the handler error and leaves the row pending so
// the retry sweep picks it up again. The processed timestamp stays NULL; it
// is only ever set by successful processing.
func MarkWebhookFailed(ctx context.Context, db *sql.DB, id int64, errMsg string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE webhook_events
		 SET processed = FALSE, error_message = $1
		 WHERE id = $2`,
		errMsg, id)
	if err != nil {
		return fmt.Errorf("mark webhook failed: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("mark webhook failed: event %d not found", id)
	}
	return nil
}

// ListUnprocessedWebhookEvents returns pending rows created after the
// cutoff, oldest first. Rows older than the cutoff are considered stale and
// left for manual inspection rather than resurrected.
func ListUnprocessedWebhookEvents(ctx context.Context, db *sql.DB, createdAfter time.Time, limit int) ([]models.WebhookEvent, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+webhookColumns+` FROM webhook_events
		 WHERE processed = FALSE AND created_at >= $1
		 ORDER BY created_at
		 LIMIT $2`,
		createdAfter, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed webhook events: %w", err)
	}
	defer rows.Close()

	var events []models.WebhookEvent
	for rows.Next() {
		event, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		events = append(events, *event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return events, nil
}
