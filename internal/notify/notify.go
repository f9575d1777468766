// Package notify publishes order notifications to Kafka. Delivery is
// best-effort by design: the payment transaction has already committed by
// the time anything here runs, and no failure in this package may surface
// back to it.
package notify

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Hamdan0407/backend-perfumes-sub000/internal/models"
)

const (
	EventOrderConfirmed     = "order.confirmed"
	EventOrderStatusChanged = "order.status_changed"
	EventRefundRequired     = "order.refund_required"
)

type Event struct {
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	OccurredAt  time.Time       `json:"occurred_at"`
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	UserID      int64           `json:"user_id"`
	Status      string          `json:"status"`
	Total       decimal.Decimal `json:"total"`
	Note        string          `json:"note,omitempty"`
}

// Notifier is what checkout depends on; the Kafka producer below is the
// production implementation.
type Notifier interface {
	OrderConfirmed(order *models.Order)
	OrderStatusChanged(order *models.Order, note string)
	RefundRequired(order *models.Order, reason string)
}

type Producer struct {
	writer  *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	logger  *zap.Logger
}

func NewProducer(brokers []string, topic string, buf int, logger *zap.Logger) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		logger:  logger,
	}
}

// Start runs the writer loop until ctx is cancelled, then drains whatever
// is left in the inbox before closing the writer.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				for {
					select {
					case m := <-p.inbox:
						p.write(m)
					default:
						if err := p.writer.Close(); err != nil {
							p.logger.Warn("close notification writer", zap.Error(err))
						}
						return
					}
				}
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

func (p *Producer) write(m kafka.Message) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.writer.WriteMessages(writeCtx, m); err != nil {
		p.logger.Warn("publish notification", zap.ByteString("key", m.Key), zap.Error(err))
	}
}

// WaitClosed blocks until the writer loop has drained and exited.
func (p *Producer) WaitClosed() { <-p.closeCh }

func (p *Producer) OrderConfirmed(order *models.Order) {
	p.publish(EventOrderConfirmed, order, "")
}

func (p *Producer) OrderStatusChanged(order *models.Order, note string) {
	p.publish(EventOrderStatusChanged, order, note)
}

func (p *Producer) RefundRequired(order *models.Order, reason string) {
	p.publish(EventRefundRequired, order, reason)
}

func (p *Producer) publish(eventType string, order *models.Order, note string) {
	event := Event{
		EventID:     uuid.NewString(),
		EventType:   eventType,
		OccurredAt:  time.Now().UTC(),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		Total:       order.Total,
		Note:        note,
	}

	value, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("marshal notification", zap.String("event_type", eventType), zap.Error(err))
		return
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(order.ID, 10)),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(eventType)},
		},
	}

	// Dropping beats blocking a request goroutine on a slow broker.
	select {
	case p.inbox <- msg:
	default:
		p.logger.Warn("notification inbox full, dropping event",
			zap.String("event_type", eventType),
			zap.String("order_number", order.OrderNumber))
	}
}
