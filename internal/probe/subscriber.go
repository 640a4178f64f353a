package probe

import (
	"fmt"
	"log"
	"time"

	"PacketRadar/internal/config"
	"PacketRadar/internal/model"
	"PacketRadar/internal/wire"

	"github.com/nats-io/nats.go"
)

// PacketHandler is a function that processes a received record.
type PacketHandler func(rec model.PacketRecord)

// Subscriber is responsible for subscribing to a NATS subject and decoding messages.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
}

// NewSubscriber creates a new NATS subscriber.
func NewSubscriber(cfg config.ProbeConfig) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("pr-engine"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Printf("Connected to NATS server at %s", cfg.NATSURL)
	return NewSubscriberWithConn(nc, cfg.Subject), nil
}

// NewSubscriberWithConn wraps an existing connection.
func NewSubscriberWithConn(nc *nats.Conn, subject string) *Subscriber {
	return &Subscriber{nc: nc, subject: subject}
}

// Start subscribes to the subject and hands every decodable record to handler.
// Malformed payloads are logged and dropped.
func (s *Subscriber) Start(handler PacketHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		rec, err := wire.Unmarshal(msg.Data)
		if err != nil {
			log.Printf("Error decoding packet record: %v", err)
			return
		}
		handler(rec)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %q: %w", s.subject, err)
	}
	s.sub = sub
	log.Printf("Subscribed to '%s'. Waiting for messages...", s.subject)
	return nil
}

// drainTimeout bounds how long Close waits for in-flight callbacks.
const drainTimeout = 5 * time.Second

// Close drains the subscription, waiting for pending and in-flight
// callbacks to return, then closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			log.Printf("Error draining subscription: %v", err)
			s.sub.Unsubscribe()
		} else {
			deadline := time.Now().Add(drainTimeout)
			for s.sub.IsValid() && time.Now().Before(deadline) {
				time.Sleep(10 * time.Millisecond)
			}
			if s.sub.IsValid() {
				log.Printf("Subscription drain timed out after %s", drainTimeout)
			}
		}
	}
	if s.nc != nil {
		s.nc.Close()
		log.Println("NATS connection closed.")
	}
}
