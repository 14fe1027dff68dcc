// Package events carries portal events between components over an
// embedded, in-process NATS server.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

// SubjectPrefix is prepended to the event type to form the NATS subject
const SubjectPrefix = "portal.events."

// Publisher is implemented by anything that can emit portal events
type Publisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

// Bus is an in-process event bus
type Bus struct {
	ns *server.Server
	nc *nats.Conn
}

// NewBus starts an embedded NATS server that accepts no network clients and connects to it
func NewBus() (*Bus, error) {
	ns, err := server.NewServer(&server.Options{
		ServerName: "portal-events",
		DontListen: true,
		NoLog:      true,
		NoSigs:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating event server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("event server did not start")
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.InProcessServer(ns), nats.Name("portal"))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("connecting to event server: %w", err)
	}

	return &Bus{ns: ns, nc: nc}, nil
}

// Publish emits an event on portal.events.<type>
func (b *Bus) Publish(ctx context.Context, evt domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", evt.Type, err)
	}
	return b.nc.Publish(SubjectPrefix+evt.Type, data)
}

// Subscribe delivers every event to handler until the returned func is called.
// Data arrives decoded from JSON, so typed payloads come back as maps.
func (b *Bus) Subscribe(handler func(domain.Event)) (func(), error) {
	sub, err := b.nc.Subscribe(SubjectPrefix+">", func(msg *nats.Msg) {
		var evt domain.Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			zap.L().Warn("dropping malformed event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		handler(evt)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to events: %w", err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// Flush waits until published events have reached the server
func (b *Bus) Flush() error {
	return b.nc.Flush()
}

// Close drains the connection and stops the embedded server
func (b *Bus) Close() {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
	}
	b.ns.Shutdown()
	b.ns.WaitForShutdown()
}
