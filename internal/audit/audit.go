// Package audit emits every message the coordinator sends or receives to an
// append-only store, keyed by msg_id, parent_id and session. The
// coordinator's responsibility ends at emitting; storage and downstream
// monitoring are external concerns, so emitters are fire-and-forget and an
// emitter failure never fails the request that triggered it.
package audit

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/msmaccel/accelerd/internal/wire"
	"github.com/segmentio/kafka-go"
)

// Message directions as recorded in the audit trail.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Entry is one audited exchange leg.
type Entry struct {
	Direction string
	ClientID  string
	Message   wire.Message
	Raw       []byte
}

// Emitter receives every message leg. Implementations must not block the
// caller for long and must swallow their own failures.
type Emitter interface {
	Emit(e Entry)
	Close() error
}

// Multi fans an entry out to several emitters.
type Multi []Emitter

func (m Multi) Emit(e Entry) {
	for _, em := range m {
		em.Emit(e)
	}
}

func (m Multi) Close() error {
	var first error
	for _, em := range m {
		if err := em.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Nop discards everything.
type Nop struct{}

func (Nop) Emit(Entry)   {}
func (Nop) Close() error { return nil }

// SQLite writes entries to the messages table.
type SQLite struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLite creates a sqlite-backed emitter.
func NewSQLite(db *sql.DB, log *slog.Logger) *SQLite {
	if log == nil {
		log = slog.Default()
	}
	return &SQLite{db: db, log: log}
}

func (s *SQLite) Emit(e Entry) {
	parent := ""
	if e.Message.ParentHeader != nil {
		parent = e.Message.ParentHeader.MsgID
	}
	_, err := s.db.Exec(`INSERT INTO messages (msg_id, parent_id, session, msg_type, direction, client_id, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Message.Header.MsgID, parent, e.Message.Header.Session,
		e.Message.Header.MsgType, e.Direction, e.ClientID, string(e.Raw))
	if err != nil {
		s.log.Warn("Failed to record audit message", "msg_id", e.Message.Header.MsgID, "error", err)
	}
}

func (s *SQLite) Close() error { return nil }

// Kafka publishes raw envelopes to a topic, keyed by session so one worker's
// exchanges land in order on one partition.
type Kafka struct {
	writer *kafka.Writer
	log    *slog.Logger
}

// NewKafka creates a Kafka emitter for the given broker list (comma
// separated) and topic.
func NewKafka(brokers, topic string, log *slog.Logger) *Kafka {
	if log == nil {
		log = slog.Default()
	}
	return &Kafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(brokers, ",")...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
		log: log,
	}
}

func (k *Kafka) Emit(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Message.Header.Session),
		Value: e.Raw,
	})
	if err != nil {
		k.log.Warn("Failed to publish audit message", "msg_id", e.Message.Header.MsgID, "error", err)
	}
}

func (k *Kafka) Close() error { return k.writer.Close() }

// Channel is an in-process emitter backed by a Go channel, used by tests.
type Channel struct {
	ch chan Entry
}

// NewChannel creates a channel emitter with the given buffer size.
func NewChannel(buffer int) *Channel {
	return &Channel{ch: make(chan Entry, buffer)}
}

func (c *Channel) Emit(e Entry) {
	select {
	case c.ch <- e:
	default:
	}
}

// Entries returns the channel of emitted entries.
func (c *Channel) Entries() <-chan Entry { return c.ch }

func (c *Channel) Close() error {
	close(c.ch)
	return nil
}
