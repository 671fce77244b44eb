package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// ClientName identifies console connections on the NATS server.
const ClientName = "zeusctl"

// Headers set on every StageEvent published to NATS, so subscribers can
// filter without decoding the body.
const (
	HeaderEventID = "Zeus-Event-Id"
	HeaderUser    = "Zeus-User"
	HeaderStage   = "Zeus-Stage"
)

// NATSPublisher publishes events as JSON on their topic subject.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name(ClientName))
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc}, nil
}

// Publish sends event on topic. A StageEvent also carries its id, user and
// stage as headers.
func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	msg := nats.NewMsg(topic)
	msg.Data = data
	if ev, ok := event.(StageEvent); ok {
		msg.Header.Set(HeaderEventID, ev.ID)
		msg.Header.Set(HeaderUser, ev.User)
		if ev.Stage != "" {
			msg.Header.Set(HeaderStage, ev.Stage)
		}
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// Flush waits until the server has processed every published event.
func (p *NATSPublisher) Flush() error {
	return p.conn.Flush()
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NATSSubscriber receives console events from NATS. It reconnects forever.
type NATSSubscriber struct {
	conn *nats.Conn
}

// NewNATSSubscriber connects to url. opts are applied after the defaults,
// e.g. disconnect and reconnect handlers.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	defaults := []nats.Option{
		nats.Name(ClientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Subscribe returns the raw payloads published on subjects matching topic
// ("zeus.>" for everything). cancel unsubscribes and closes the channel.
func (s *NATSSubscriber) Subscribe(topic string) (<-chan []byte, func(), error) {
	return subscribe(s.conn, topic, func(msg *nats.Msg) ([]byte, bool) {
		return msg.Data, true
	})
}

// SubscribeStages returns the stage events published on subjects matching
// topic. When user is set, events of other users are skipped by header.
// Payloads that are not stage events are dropped.
func (s *NATSSubscriber) SubscribeStages(topic, user string) (<-chan StageEvent, func(), error) {
	return subscribe(s.conn, topic, func(msg *nats.Msg) (StageEvent, bool) {
		var ev StageEvent
		if user != "" && msg.Header.Get(HeaderUser) != user {
			return ev, false
		}
		if err := json.Unmarshal(msg.Data, &ev); err != nil || ev.ID == "" {
			return ev, false
		}
		return ev, true
	})
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}

// subscribe delivers every message decode accepts. Messages arriving while
// the channel is full are dropped so the NATS client never blocks.
func subscribe[T any](conn *nats.Conn, topic string, decode func(*nats.Msg) (T, bool)) (<-chan T, func(), error) {
	ch := make(chan T, subscriberBuffer)
	var (
		mu     sync.Mutex
		closed bool
		once   sync.Once
	)

	sub, err := conn.Subscribe(topic, func(msg *nats.Msg) {
		v, ok := decode(msg)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- v:
		default:
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	// The subscription must reach the server before events published on
	// other connections are routed to it.
	if err := conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		close(ch)
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}

	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			closed = true
			mu.Unlock()
			drainAndClose(ch)
		})
	}
	return ch, cancel, nil
}
