package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/dcstrange/websocket-push-system/internal/tasks"
)

// ResultConsumer feeds worker results into a handler, typically the
// dispatcher. Each server instance uses its own durable name so every
// instance sees every result; only the one holding the correlation delivers,
// the rest drop.
type ResultConsumer struct {
	js      nats.JetStreamContext
	subject string
	durable string
	handler func(tasks.Result)
	sub     *nats.Subscription
}

func NewResultConsumer(js nats.JetStreamContext, subject, durable string, handler func(tasks.Result)) *ResultConsumer {
	return &ResultConsumer{
		js:      js,
		subject: subject,
		durable: durable,
		handler: handler,
	}
}

func (c *ResultConsumer) Start() error {
	sub, err := c.js.Subscribe(c.subject, c.handle,
		nats.Durable(c.durable),
		nats.ManualAck(),
		nats.AckWait(ackWait),
		nats.MaxAckPending(maxAckPending),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to results: %w", err)
	}
	c.sub = sub
	slog.Info("consuming task results", "subject", c.subject, "durable", c.durable)
	return nil
}

func (c *ResultConsumer) Stop() {
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			slog.Warn("draining result subscription failed", "error", err)
		}
	}
}

func (c *ResultConsumer) handle(msg *nats.Msg) {
	var res tasks.Result
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		slog.Error("discarding undecodable result", "error", err)
		_ = msg.Ack()
		return
	}

	c.handler(res)
	if err := msg.Ack(); err != nil {
		slog.Warn("acking result failed", "request_id", res.RequestID, "error", err)
	}
}
