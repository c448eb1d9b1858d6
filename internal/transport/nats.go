// Package transport carries gossip over NATS. Each node owns one inbox
// subject; envelopes from a round become one message each, published
// fire-and-forget with trace context in the headers.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/sync-engine/internal/gossip"
)

var propagator = propagation.TraceContext{}

const subjectPrefix = "syncd.gossip."

// Subject is the inbox subject for a node.
func Subject(nodeID string) string { return subjectPrefix + nodeID }

// NATS is the gossip carrier. It satisfies the engine's Sender.
type NATS struct {
	nc  *nats.Conn
	sub *nats.Subscription
}

// Dial connects to the NATS server. Reconnects are unbounded; the
// engine's rounds tolerate the gap.
func Dial(url, name string) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATS{nc: nc}, nil
}

// Send publishes one envelope to the target's inbox, traceparent
// injected into the headers. No acknowledgment is awaited.
func (t *NATS) Send(ctx context.Context, env gossip.Envelope) error {
	data, err := gossip.EncodeMessage(env.Message)
	if err != nil {
		return fmt.Errorf("encode gossip: %w", err)
	}
	hdr := nats.Header{}
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	return t.nc.PublishMsg(&nats.Msg{Subject: Subject(env.To), Data: data, Header: hdr})
}

// Subscribe binds the local inbox and hands decoded messages to the
// handler with the extracted trace context. Undecodable payloads are
// dropped here; version gating stays with the engine.
func (t *NATS) Subscribe(nodeID string, handler func(context.Context, gossip.Message)) error {
	sub, err := t.nc.Subscribe(Subject(nodeID), func(m *nats.Msg) {
		ctx := propagator.Extract(context.Background(), propagation.HeaderCarrier(m.Header))
		tr := otel.Tracer("syncd-nats")
		ctx, span := tr.Start(ctx, "gossip.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()

		msg, err := gossip.DecodeMessage(m.Data)
		if err != nil {
			slog.Warn("gossip payload dropped", "subject", m.Subject, "error", err)
			return
		}
		handler(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", Subject(nodeID), err)
	}
	t.sub = sub
	return nil
}

// Close unsubscribes and drains the connection so in-flight messages
// still reach the handler.
func (t *NATS) Close() {
	if t.sub != nil {
		_ = t.sub.Unsubscribe()
	}
	if t.nc != nil {
		_ = t.nc.Drain()
	}
}
