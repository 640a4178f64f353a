package probe

import (
	"fmt"
	"log"

	"PacketRadar/internal/config"
	"PacketRadar/internal/model"
	"PacketRadar/internal/wire"

	"github.com/nats-io/nats.go"
)

// Publisher is responsible for publishing packet records to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.ProbeConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("pr-probe"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Printf("Connected to NATS server at %s", cfg.NATSURL)
	return NewPublisherWithConn(nc, cfg.Subject), nil
}

// NewPublisherWithConn wraps an existing connection.
func NewPublisherWithConn(nc *nats.Conn, subject string) *Publisher {
	return &Publisher{nc: nc, subject: subject}
}

// Publish encodes a record and publishes it to the configured subject.
func (p *Publisher) Publish(rec model.PacketRecord) error {
	data, err := wire.Marshal(rec)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

// Flush blocks until every published message has reached the server.
func (p *Publisher) Flush() error {
	return p.nc.Flush()
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			log.Printf("Failed to drain NATS connection: %v", err)
		}
		log.Println("NATS connection drained and closed.")
	}
}
