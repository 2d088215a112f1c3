// Package events publishes audit events about completed bulk operations to
// an AMQP exchange, so downstream consumers (reporting, notifications) can
// react without polling the history store.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/damworks/aem-assets-mcp/internal/aem"
)

const routingKeyBulkCompleted = "bulk_update.completed"

// BulkCompleted is the wire payload for a finished bulk run.
type BulkCompleted struct {
	RunID      string    `json:"runId"`
	FolderPath string    `json:"folderPath"`
	Requested  int       `json:"requested"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Publisher emits events to a topic exchange. A nil Publisher is valid and
// publishes nothing, so callers never need to branch on configuration.
type Publisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *slog.Logger
}

// Connect dials the broker and declares the exchange. An empty URL returns a
// nil publisher.
func Connect(url, exchange string, logger *slog.Logger) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing AMQP broker: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening AMQP channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}

	return &Publisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// PublishBulkCompleted emits one bulk_update.completed event. Publish
// failures are logged, not propagated; audit events are best effort.
func (p *Publisher) PublishBulkCompleted(ctx context.Context, runID string, result aem.BulkUpdateResult, finishedAt time.Time) {
	if p == nil {
		return
	}

	event := BulkCompleted{
		RunID:      runID,
		FolderPath: result.FolderPath,
		Requested:  result.Requested,
		Succeeded:  len(result.Succeeded),
		Failed:     len(result.Failed),
		FinishedAt: finishedAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("failed to encode bulk event", "error", err)
		return
	}

	err = p.channel.PublishWithContext(ctx, p.exchange, routingKeyBulkCompleted, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   finishedAt,
		Body:        payload,
	})
	if err != nil {
		p.logger.Warn("failed to publish bulk event", "error", err, "runId", runID)
	}
}

// Close releases the channel and connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
