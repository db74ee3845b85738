// Package dispatch delivers outbound queue messages to plugin endpoints. It
// drains the outbox serially; a failed delivery leaves the message pending
// for a later attempt, and an expired message is dropped without any plugin
// call.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/camber-cd/camber/internal/log"
	"github.com/camber-cd/camber/internal/plugin"
	"github.com/camber-cd/camber/internal/queue"
)

// pollInterval is how often the delivery loop checks for pending messages.
const pollInterval = 1 * time.Second

// Deliverer drains the outbox and invokes plugin capability calls.
type Deliverer struct {
	outbox  *queue.Outbox
	plugins *plugin.Registry
	logger  *slog.Logger
}

func New(outbox *queue.Outbox, plugins *plugin.Registry) *Deliverer {
	return &Deliverer{
		outbox:  outbox,
		plugins: plugins,
		logger:  log.WithComponent("dispatch"),
	}
}

// Start runs the delivery loop until ctx is cancelled.
func (d *Deliverer) Start(ctx context.Context) error {
	d.logger.Info("delivery loop started")
	defer d.logger.Info("delivery loop stopped")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.drain(ctx); err != nil {
				d.logger.Error("failed to drain outbox", "error", err)
			}
		}
	}
}

// drain delivers pending messages oldest first. A failed message stays
// pending at the head of its plugin's queue, so the rest of that plugin's
// messages are passed over for the remainder of the pass; messages for other
// plugins keep flowing. The next tick retries everything.
func (d *Deliverer) drain(ctx context.Context) error {
	var failed []string
	for {
		msg, err := d.outbox.Dequeue(ctx, failed...)
		if err != nil {
			return err
		}
		if msg == nil {
			return nil
		}
		if !d.deliver(ctx, msg) {
			failed = append(failed, msg.PluginID)
		}
	}
}

// deliver reports whether the message was delivered.
func (d *Deliverer) deliver(ctx context.Context, msg *queue.Message) bool {
	logger := d.logger.With("message_id", msg.ID, "topic", string(msg.Topic), "plugin_id", msg.PluginID, "attempt", msg.Attempt)

	p, ok := d.plugins.Get(msg.PluginID)
	if !ok {
		// The plugin may register before the message expires; keep it pending.
		d.fail(ctx, msg, fmt.Errorf("plugin %q is not registered", msg.PluginID), logger)
		return false
	}

	var err error
	switch msg.Topic {
	case queue.TopicServerPing:
		err = p.Endpoint.ServerPing(ctx)
	case queue.TopicCreateAgent:
		var body queue.CreateAgentMessage
		if err = json.Unmarshal(msg.Payload, &body); err == nil {
			err = p.Endpoint.CreateAgent(ctx, body.AutoRegisterKey, body.Environment, body.Configuration, body.JobIdentifier)
		}
	case queue.TopicJobCompletion:
		var body queue.JobCompletionMessage
		if err = json.Unmarshal(msg.Payload, &body); err == nil {
			err = p.Endpoint.ReportJobCompletion(ctx, body.ElasticAgentID, body.JobIdentifier, body.ElasticProfileConfig, body.ClusterProfileConfig)
		}
	default:
		err = fmt.Errorf("unknown topic %q", msg.Topic)
	}

	if err != nil {
		d.fail(ctx, msg, err, logger)
		return false
	}
	if markErr := d.outbox.MarkDelivered(ctx, msg.ID); markErr != nil {
		logger.Error("failed to mark message delivered", "error", markErr)
		return false
	}
	logger.Debug("message delivered")
	return true
}

func (d *Deliverer) fail(ctx context.Context, msg *queue.Message, deliveryErr error, logger *slog.Logger) {
	logger.Warn("delivery failed, message stays pending until expiry", "error", deliveryErr)
	if err := d.outbox.MarkFailed(ctx, msg.ID, deliveryErr); err != nil {
		logger.Error("failed to record delivery error", "error", err)
	}
}
