// Package redisstream implements stream.Transport on Redis Streams.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/insurance-ai/backoffice/internal/stream"
	"github.com/redis/go-redis/v9"
)

// Transport maps stream operations onto XADD, XGROUP, XREADGROUP, XACK and XAUTOCLAIM.
type Transport struct {
	client redis.UniversalClient
	maxLen int64
}

// Option configures a Transport.
type Option func(*Transport)

// WithMaxLen trims each topic to roughly n entries on append.
func WithMaxLen(n int64) Option {
	return func(t *Transport) { t.maxLen = n }
}

// New wraps an existing client. Close closes the client.
func New(client redis.UniversalClient, opts ...Option) *Transport {
	t := &Transport{client: client}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Dial parses a redis:// URL, connects and pings the server.
func Dial(ctx context.Context, url string, opts ...Option) (*Transport, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, unavailable("ping", err)
	}
	return New(client, opts...), nil
}

var _ stream.Transport = (*Transport)(nil)

func unavailable(op string, err error) error {
	if strings.HasPrefix(err.Error(), "NOGROUP") {
		return fmt.Errorf("%w: %s: %v", stream.ErrNoGroup, op, err)
	}
	return fmt.Errorf("%w: %s: %v", stream.ErrUnavailable, op, err)
}

// EnsureGroup runs XGROUP CREATE topic group $ MKSTREAM, tolerating BUSYGROUP.
func (t *Transport) EnsureGroup(ctx context.Context, topic, group string) error {
	err := t.client.XGroupCreateMkStream(ctx, topic, group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return unavailable("xgroup create", err)
	}
	return nil
}

// Append runs XADD with an approximate MAXLEN when configured.
func (t *Transport) Append(ctx context.Context, topic string, fields map[string]string) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	id, err := t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		MaxLen: t.maxLen,
		Approx: t.maxLen > 0,
		Values: values,
	}).Result()
	if err != nil {
		return "", unavailable("xadd", err)
	}
	return id, nil
}

// ReadGroup runs XREADGROUP with the ">" cursor on every topic.
func (t *Transport) ReadGroup(ctx context.Context, args stream.ReadArgs) ([]stream.Message, error) {
	streams := make([]string, 0, len(args.Topics)*2)
	streams = append(streams, args.Topics...)
	for range args.Topics {
		streams = append(streams, ">")
	}

	// go-redis treats Block 0 as "forever"; a negative value omits BLOCK.
	block := args.Block
	if block <= 0 {
		block = -1
	}

	res, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    args.Group,
		Consumer: args.Consumer,
		Streams:  streams,
		Count:    args.Count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, unavailable("xreadgroup", err)
	}

	var msgs []stream.Message
	for _, s := range res {
		for _, m := range s.Messages {
			msgs = append(msgs, toMessage(s.Stream, m))
		}
	}
	return msgs, nil
}

// Ack runs XACK.
func (t *Transport) Ack(ctx context.Context, topic, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := t.client.XAck(ctx, topic, group, ids...).Err(); err != nil {
		return unavailable("xack", err)
	}
	return nil
}

// Claim runs one XAUTOCLAIM pass from the start of the pending list.
func (t *Transport) Claim(ctx context.Context, args stream.ClaimArgs) ([]stream.Message, error) {
	res, _, err := t.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   args.Topic,
		Group:    args.Group,
		Consumer: args.Consumer,
		MinIdle:  args.MinIdle,
		Start:    "0-0",
		Count:    args.Count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, unavailable("xautoclaim", err)
	}

	msgs := make([]stream.Message, 0, len(res))
	for _, m := range res {
		msgs = append(msgs, toMessage(args.Topic, m))
	}
	return msgs, nil
}

// Ping checks that the server is reachable.
func (t *Transport) Ping(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the underlying client.
func (t *Transport) Close() error {
	return t.client.Close()
}

func toMessage(topic string, m redis.XMessage) stream.Message {
	fields := make(map[string]string, len(m.Values))
	for k, v := range m.Values {
		switch s := v.(type) {
		case string:
			fields[k] = s
		default:
			fields[k] = fmt.Sprint(v)
		}
	}
	return stream.Message{Topic: topic, ID: m.ID, Fields: fields}
}
