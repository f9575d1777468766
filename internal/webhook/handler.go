// Package webhook receives payment gateway callbacks, verifies them, and
// records every delivery in an idempotency ledger before any handler
// runs. Redeliveries of a processed event return the recorded result;
// failed events stay pending and are retried by the sweeper.
package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Hamdan0407/backend-perfumes-sub000/internal/checkout"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/database"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/models"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/store"
)

// SignatureVerifier checks the gateway's webhook signature header
// against the raw payload bytes.
type SignatureVerifier interface {
	VerifyWebhookSignature(payload []byte, signatureHeader string) error
}

// PaymentConfirmer is the confirmation entry the authorized-payment
// handler dispatches to.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, remoteOrderID, remotePaymentID string) (*models.Order, error)
}

// Envelope is the wire shape of a gateway webhook delivery.
type Envelope struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID          string `json:"id"`
				OrderID     string `json:"order_id"`
				Description string `json:"description"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// HandlerFunc processes one parsed event and returns the result string
// recorded in the ledger.
type HandlerFunc func(ctx context.Context, env *Envelope) (string, error)

type Processor struct {
	db       *sql.DB
	verifier SignatureVerifier
	logger   *zap.Logger
	handlers map[string]HandlerFunc
}

func NewProcessor(db *sql.DB, verifier SignatureVerifier, confirmer PaymentConfirmer, logger *zap.Logger) *Processor {
	p := &Processor{
		db:       db,
		verifier: verifier,
		logger:   logger,
	}
	p.handlers = map[string]HandlerFunc{
		"payment.authorized": p.handlePaymentAuthorized(confirmer),
		"payment.captured":   p.handlePaymentAuthorized(confirmer),
		"payment.failed":     p.handlePaymentFailed,
	}
	return p
}

// Handle verifies and processes one live delivery. The signature check
// happens before anything touches the database, so forged payloads never
// leave a trace in the ledger. Returns the ledger row in its final state.
func (p *Processor) Handle(ctx context.Context, payload []byte, signature string) (*models.WebhookEvent, error) {
	if err := p.verifier.VerifyWebhookSignature(payload, signature); err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("malformed webhook payload: %w", err)
	}
	if env.ID == "" {
		return nil, fmt.Errorf("malformed webhook payload: missing event id")
	}

	existing, err := store.GetWebhookEventByEventID(ctx, p.db, env.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Processed {
		p.logger.Info("duplicate webhook delivery, returning recorded result",
			zap.String("event_id", env.ID),
			zap.String("result", existing.ProcessingResult))
		return existing, nil
	}

	event := existing
	if event == nil {
		event, err = store.InsertWebhookEvent(ctx, p.db, env.ID, env.Event, string(payload))
		if err != nil {
			// A concurrent delivery won the insert race; let it do the work.
			if err == database.ErrDuplicateEvent {
				return store.GetWebhookEventByEventID(ctx, p.db, env.ID)
			}
			return nil, err
		}
	}

	return p.process(ctx, event, &env)
}

// process dispatches a pending ledger row through the handler table.
// Both live deliveries and sweeper retries come through here.
func (p *Processor) process(ctx context.Context, event *models.WebhookEvent, env *Envelope) (*models.WebhookEvent, error) {
	handler, ok := p.handlers[env.Event]
	if !ok {
		result := "event type not handled"
		if err := store.MarkWebhookProcessed(ctx, p.db, event.ID, result); err != nil {
			return nil, err
		}
		p.logger.Info("webhook event type not handled",
			zap.String("event_id", event.EventID),
			zap.String("event_type", env.Event))
		event.Processed = true
		event.ProcessingResult = result
		return event, nil
	}

	result, err := handler(ctx, env)
	if err != nil {
		p.logger.Error("webhook handler failed, event left pending",
			zap.String("event_id", event.EventID),
			zap.String("event_type", env.Event),
			zap.Error(err))
		if markErr := store.MarkWebhookFailed(ctx, p.db, event.ID, err.Error()); markErr != nil {
			return nil, markErr
		}
		event.ErrorMessage = err.Error()
		return event, err
	}

	if err := store.MarkWebhookProcessed(ctx, p.db, event.ID, result); err != nil {
		return nil, err
	}
	event.Processed = true
	event.ProcessingResult = result
	event.ErrorMessage = ""

	p.logger.Info("webhook processed",
		zap.String("event_id", event.EventID),
		zap.String("event_type", env.Event),
		zap.String("result", result))

	return event, nil
}

func (p *Processor) handlePaymentAuthorized(confirmer PaymentConfirmer) HandlerFunc {
	return func(ctx context.Context, env *Envelope) (string, error) {
		entity := env.Payload.Payment.Entity
		if entity.OrderID == "" {
			return "", fmt.Errorf("payment entity missing order_id")
		}

		order, err := confirmer.ConfirmPayment(ctx, entity.OrderID, entity.ID)
		if err != nil {
			// A post-payment shortfall already cancelled the order and
			// queued a refund; that is a final outcome, not a retry case.
			var shortfall *checkout.StockUnavailableError
			if errors.As(err, &shortfall) {
				return fmt.Sprintf("order %s cancelled pending refund: %s",
					order.OrderNumber, shortfall.Error()), nil
			}
			// A missing order usually means the webhook raced checkout's
			// remote id write; pending status lets the sweeper retry.
			return "", err
		}

		return fmt.Sprintf("order %s -> %s", order.OrderNumber, order.Status), nil
	}
}

// handlePaymentFailed records the failure for audit. The order stays
// PLACED: the customer can retry payment against the same gateway order,
// and no stock was ever deducted for it.
func (p *Processor) handlePaymentFailed(ctx context.Context, env *Envelope) (string, error) {
	entity := env.Payload.Payment.Entity
	p.logger.Warn("payment failed at gateway",
		zap.String("remote_order_id", entity.OrderID),
		zap.String("remote_payment_id", entity.ID),
		zap.String("description", entity.Description))
	return fmt.Sprintf("payment %s failed: %s", entity.ID, entity.Description), nil
}
