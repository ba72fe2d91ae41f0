// Package queue publishes committed economy entries to RabbitMQ so external
// consumers (billing, analytics) can follow the coin flow. Publishing is best
// effort: a broker outage is logged and the purchase still stands, the
// economy_log table remains the source of truth.
package queue

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"infinityworld.gg/internal/store"
)

const economyQueue = "economy.log"

// EconomyPublisher writes entries to a durable queue. A nil or unconfigured
// publisher drops entries silently, which keeps local development brokerless.
type EconomyPublisher struct {
	url    string
	logger *log.Logger
}

func NewEconomyPublisher(url string, logger *log.Logger) *EconomyPublisher {
	if logger == nil {
		logger = log.Default()
	}
	return &EconomyPublisher{url: url, logger: logger}
}

// PublishEntry sends one committed entry. Dialing per publish keeps the
// publisher stateless across broker restarts; entry volume here is a handful
// per player action, not a firehose.
func (p *EconomyPublisher) PublishEntry(ctx context.Context, e store.EconomyEntry) {
	if p == nil || p.url == "" {
		return
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.logger.Printf("amqp dial failed, dropping entry %s: %v", e.ID, err)
		return
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.logger.Printf("amqp channel failed, dropping entry %s: %v", e.ID, err)
		return
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(economyQueue, true, false, false, false, nil); err != nil {
		p.logger.Printf("amqp queue declare failed, dropping entry %s: %v", e.ID, err)
		return
	}

	body, err := json.Marshal(e)
	if err != nil {
		p.logger.Printf("marshal entry %s: %v", e.ID, err)
		return
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", economyQueue, false, false, pub); err != nil {
		p.logger.Printf("amqp publish failed, dropping entry %s: %v", e.ID, err)
	}
}
