package stream

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable wraps infrastructure failures of the transport.
	// Callers may retry operations that fail with it.
	ErrUnavailable = errors.New("stream transport unavailable")

	// ErrNoGroup is returned when reading or claiming for a group that was
	// never created with EnsureGroup.
	ErrNoGroup = errors.New("consumer group does not exist")
)

// PayloadField is the entry field holding an encoded event envelope.
const PayloadField = "payload"

// Message is one delivered stream entry.
type Message struct {
	Topic  string
	ID     string
	Fields map[string]string
}

// ReadArgs selects new entries for a consumer of a group.
type ReadArgs struct {
	Group    string
	Consumer string
	Topics   []string
	// Count caps the entries returned per topic. Zero means no cap.
	Count int64
	// Block bounds the wait for new entries. Zero or less returns immediately.
	Block time.Duration
}

// ClaimArgs selects entries pending longer than MinIdle for takeover.
type ClaimArgs struct {
	Topic    string
	Group    string
	Consumer string
	MinIdle  time.Duration
	Count    int64
}

// Transport is an append-only log with consumer groups.
type Transport interface {
	// EnsureGroup creates topic and group if missing. A new group starts at
	// the current tail, so it only receives entries appended afterwards.
	EnsureGroup(ctx context.Context, topic, group string) error

	// Append adds an entry and returns its transport-assigned ID.
	Append(ctx context.Context, topic string, fields map[string]string) (string, error)

	// ReadGroup returns entries never delivered to the group and marks them
	// pending for args.Consumer. It returns nil, nil when the wait times out.
	ReadGroup(ctx context.Context, args ReadArgs) ([]Message, error)

	// Ack removes entries from the group's pending list.
	Ack(ctx context.Context, topic, group string, ids ...string) error

	// Claim transfers entries idle for at least args.MinIdle to args.Consumer
	// and returns them for redelivery.
	Claim(ctx context.Context, args ClaimArgs) ([]Message, error)

	Close() error
}

// Topic returns the stream name for an event type or queue name under namespace.
func Topic(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + ":" + name
}
