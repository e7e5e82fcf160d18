// Package eventbus implements the optional mutation-export sink (D1):
// every store insert/delete is published, best-effort, to NATS for
// downstream consumers that are not Overseer clients. It is grounded on
// the teacher's use of github.com/nats-io/nats.go, repurposed from
// message ingestion to mutation egress.
package eventbus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/odin-platform/overseer/internal/model"
)

// mutationEvent is the JSON envelope published for every insert/delete.
type mutationEvent struct {
	Key     string      `json:"key"`
	Value   interface{} `json:"value,omitempty"`
	Deleted bool        `json:"deleted"`
}

// Publisher publishes mutation events to a NATS subject derived from a
// configured prefix and the mutated key. Publish never returns an error
// to the store: failures are logged and otherwise swallowed, since event
// export sits off the critical ack path by design.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	log    zerolog.Logger
}

// Connect dials url and returns a Publisher, or an error if the dial
// fails. Overseer treats a failed dial as "event export disabled" rather
// than a fatal startup error — see S9 in the expanded specification.
func Connect(url, subjectPrefix string, log zerolog.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, prefix: subjectPrefix, log: log.With().Str("component", "eventbus").Logger()}, nil
}

// Publish implements store.EventPublisher.
func (p *Publisher) Publish(key model.Key, value *model.Value, deleted bool) {
	event := mutationEvent{Key: string(key), Deleted: deleted}
	if value != nil {
		switch value.Tag() {
		case model.TagString:
			s, _ := value.AsString()
			event.Value = s
		case model.TagInteger:
			i, _ := value.AsInteger()
			event.Value = i
		}
	}
	body, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("key", string(key)).Msg("failed to marshal mutation event")
		return
	}
	subject := fmt.Sprintf("%s.mutation.%s", p.prefix, key)
	if err := p.conn.Publish(subject, body); err != nil {
		p.log.Debug().Err(err).Str("subject", subject).Msg("mutation publish failed, dropping")
	}
}

// Close closes the underlying NATS connection without draining it.
func (p *Publisher) Close() {
	p.conn.Close()
}
