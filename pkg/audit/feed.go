package audit

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/scope"
)

// feedChannel is the Redis pub/sub channel carrying committed records
// across instances.
const feedChannel = "warden:audit:feed"

// Feed fans committed audit records out to live subscribers. With a
// Redis client it bridges instances through pub/sub; without one it
// degrades to in-process delivery.
type Feed struct {
	redis   *redis.Client
	logger  *observability.Logger
	metrics *observability.Metrics

	mu   sync.RWMutex
	subs map[chan *Record]scope.TenantScope
}

// NewFeed creates a feed. redisClient may be nil.
func NewFeed(redisClient *redis.Client, logger *observability.Logger, metrics *observability.Metrics) *Feed {
	return &Feed{
		redis:   redisClient,
		logger:  logger,
		metrics: metrics,
		subs:    make(map[chan *Record]scope.TenantScope),
	}
}

// Publish delivers a record to subscribers. When Redis is configured
// the record travels through pub/sub so every instance sees it; the
// local fanout then happens in the Run loop. Publish never blocks the
// caller on a slow subscriber.
func (f *Feed) Publish(ctx context.Context, record *Record) {
	if f.redis == nil {
		f.deliver(record)
		return
	}

	payload, err := json.Marshal(record)
	if err != nil {
		f.logger.WithError(err).Error("failed to marshal audit record for feed")
		return
	}
	if err := f.redis.Publish(ctx, feedChannel, payload).Err(); err != nil {
		f.logger.WithError(err).Warn("failed to publish audit record to feed, delivering locally")
		f.deliver(record)
	}
}

// Run consumes the Redis channel and fans messages out to local
// subscribers. It returns when the context is canceled. Without Redis
// there is nothing to consume and Run returns immediately.
func (f *Feed) Run(ctx context.Context) error {
	if f.redis == nil {
		return nil
	}

	sub := f.redis.Subscribe(ctx, feedChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			record := &Record{}
			if err := json.Unmarshal([]byte(msg.Payload), record); err != nil {
				f.logger.WithError(err).Warn("dropping malformed feed message")
				continue
			}
			f.deliver(record)
		}
	}
}

// Subscribe registers a listener for records visible to the given
// scope. The returned cancel function must be called to release the
// subscription.
func (f *Feed) Subscribe(sc scope.TenantScope, buffer int) (<-chan *Record, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan *Record, buffer)

	f.mu.Lock()
	f.subs[ch] = sc
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.AuditFeedSubscribers.Inc()
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, ch)
			f.mu.Unlock()
			close(ch)
			if f.metrics != nil {
				f.metrics.AuditFeedSubscribers.Dec()
			}
		})
	}
	return ch, cancel
}

// deliver sends a record to every subscriber whose scope covers it.
// Full subscriber buffers drop the record rather than block.
func (f *Feed) deliver(record *Record) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for ch, sc := range f.subs {
		if !sc.Contains(record.TenantID) {
			continue
		}
		select {
		case ch <- record:
		default:
		}
	}
}
