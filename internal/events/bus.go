package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "rtc:room-events"

// RedisBus fans events out across API replicas through Redis pub/sub.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	log     *slog.Logger
}

func NewRedisBus(rdb *redis.Client, channel string, log *slog.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBus{rdb: rdb, channel: channel, log: log}
}

func (b *RedisBus) Emit(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// Backoff bounds the wait between resubscribe attempts; the wait doubles
// after each failure up to Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

var DefaultBackoff = Backoff{Base: 500 * time.Millisecond, Max: 30 * time.Second}

// Listen keeps a subscription alive until ctx is canceled, resubscribing with
// backoff whenever Redis drops it or refuses the initial subscribe.
func (b *RedisBus) Listen(ctx context.Context, fn func(Event)) error {
	keepSubscribed(ctx, b.log, DefaultBackoff, func(ctx context.Context) error {
		return b.Subscribe(ctx, fn)
	})
	return nil
}

func keepSubscribed(ctx context.Context, log *slog.Logger, bo Backoff, subscribe func(context.Context) error) {
	wait := bo.Base
	for {
		started := time.Now()
		err := subscribe(ctx)
		if ctx.Err() != nil {
			return
		}
		// a subscription that held for a while starts the ladder over
		if time.Since(started) >= bo.Max {
			wait = bo.Base
		}
		if err == nil {
			err = errSubscriptionClosed
		}
		log.Warn("event subscription lost; retrying", "err", err, "in", wait)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		wait = min(wait*2, bo.Max)
	}
}

var errSubscriptionClosed = errors.New("subscription channel closed")

// Subscribe delivers every event on the channel to fn until ctx is canceled
// or the subscription ends. Callers wanting it kept alive use Listen.
func (b *RedisBus) Subscribe(ctx context.Context, fn func(Event)) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			e, err := decodeEvent([]byte(msg.Payload))
			if err != nil {
				b.log.Warn("dropping malformed event", "err", err)
				continue
			}
			fn(e)
		}
	}
}

func decodeEvent(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, err
	}
	if e.Type == "" {
		return Event{}, fmt.Errorf("event type missing")
	}
	return e, nil
}
