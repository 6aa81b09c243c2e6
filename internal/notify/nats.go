package notify

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
)

type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATS publishes incident events on a subject.
type NATS struct {
	conn    natsConn
	subject string
}

// NewNATS connects to url.
func NewNATS(url, subject string) (*NATS, error) {
	conn, err := nats.Connect(url, nats.Name("envintel"))
	if err != nil {
		return nil, eris.Wrapf(err, "notify: nats connect %s", url)
	}
	return &NATS{conn: conn, subject: subject}, nil
}

func (n *NATS) Publish(_ context.Context, inc *model.Incident) error {
	data, err := json.Marshal(NewEvent(inc))
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}
	return eris.Wrapf(n.conn.Publish(n.subject, data), "notify: nats publish %s", inc.ID)
}

// Close flushes pending messages and closes the connection.
func (n *NATS) Close() error {
	return n.conn.Drain()
}
