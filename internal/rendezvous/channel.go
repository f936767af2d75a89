package rendezvous

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/sugawarayuuta/sonnet"
)

const DefaultPollInterval = time.Millisecond

// Channel publishes and awaits typed keys on a Store. Await polls until the
// key shows up; there is no timeout, only cancellation.
type Channel struct {
	store     Store
	namespace string
	poll      time.Duration
}

// NewChannel wraps store. A non-empty namespace prefixes every key so runs
// sharing one registry do not see each other's entries.
func NewChannel(store Store, namespace string, poll time.Duration) *Channel {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Channel{store: store, namespace: namespace, poll: poll}
}

func (c *Channel) name(k Key) string {
	if c.namespace == "" {
		return k.String()
	}
	return c.namespace + ":" + k.String()
}

func (c *Channel) Publish(ctx context.Context, k Key, value []byte) error {
	if err := c.store.Publish(ctx, c.name(k), value); err != nil {
		return fmt.Errorf("publish %s: %w", k, err)
	}
	return nil
}

func (c *Channel) Await(ctx context.Context, k Key) ([]byte, error) {
	name := c.name(k)
	n, watch := c.store.(notifier)
	timer := time.NewTimer(c.poll)
	defer timer.Stop()
	for {
		var changed <-chan struct{}
		if watch {
			changed = n.Changed()
		}
		v, err := c.store.Fetch(ctx, name)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("await %s: %w", k, err)
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(c.poll)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("await %s: %w", k, ctx.Err())
		case <-changed:
		case <-timer.C:
		}
	}
}

// PublishSignal stores v as 8 little-endian bytes.
func (c *Channel) PublishSignal(ctx context.Context, k Key, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return c.Publish(ctx, k, buf[:])
}

func (c *Channel) AwaitSignal(ctx context.Context, k Key) (uint64, error) {
	raw, err := c.Await(ctx, k)
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("signal %s has %d bytes, want 8", k, len(raw))
	}
	return binary.LittleEndian.Uint64(raw), nil
}

func (c *Channel) PublishJSON(ctx context.Context, k Key, v any) error {
	raw, err := sonnet.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", k, err)
	}
	return c.Publish(ctx, k, raw)
}

func (c *Channel) AwaitJSON(ctx context.Context, k Key, v any) error {
	raw, err := c.Await(ctx, k)
	if err != nil {
		return err
	}
	if err := sonnet.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", k, err)
	}
	return nil
}

// Barrier publishes self's terminate key and waits for every participant's.
func (c *Channel) Barrier(ctx context.Context, self int, participants []int) error {
	if err := c.PublishSignal(ctx, Terminate(self), 1); err != nil {
		return err
	}
	for _, p := range participants {
		if _, err := c.Await(ctx, Terminate(p)); err != nil {
			return err
		}
	}
	return nil
}
