package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "assetpipe.build"

// NATSSink publishes events as JSON to a NATS subject. Subjects are
// suffixed with the event kind, e.g. "assetpipe.build.error".
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSink connects to url.
func NewNATSSink(url, subject string) (*NATSSink, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	conn, err := nats.Connect(url,
		nats.Name("assetpipe"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryRuntime, "failed to connect to NATS").
			WithContext("url", url).
			Build()
	}
	slog.Info("NATS event sink connected", "url", url, "subject", subject)
	return &NATSSink{conn: conn, subject: subject}, nil
}

// Subject returns the subject an event is published on.
func (n *NATSSink) Subject(ev BuildEvent) string {
	return n.subject + "." + string(ev.Kind)
}

// Publish implements Sink.
func (n *NATSSink) Publish(_ context.Context, ev BuildEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.conn.Publish(n.Subject(ev), data)
}

// Close drains and closes the connection.
func (n *NATSSink) Close() error {
	if n == nil || n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}
