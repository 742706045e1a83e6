// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeeDigitalWorks/uploadgate/pkg/logger"
	"github.com/LeeDigitalWorks/uploadgate/pkg/types"
)

// Publisher delivers encoded events to one destination. key groups events
// that must stay ordered (the bucket).
type Publisher interface {
	Name() string
	Publish(ctx context.Context, key string, data []byte) error
	Close() error
}

// EmitterConfig configures the event emitter.
type EmitterConfig struct {
	// Publishers receive every event. With none, Emit is a no-op.
	Publishers []Publisher

	// Bucket is stamped on every event and used as the publish key.
	Bucket string

	// QueueSize bounds events waiting for delivery (default 1024).
	QueueSize int

	// PublishTimeout bounds one Publish call (default 5s).
	PublishTimeout time.Duration

	// Clock overrides time.Now.
	Clock func() time.Time
}

// Emitter queues attachment events and delivers them from one background
// goroutine, so uploads never wait on a broker. Events are dropped, not
// blocked on, when the queue is full.
type Emitter struct {
	publishers []Publisher
	bucket     string
	timeout    time.Duration
	now        func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan *Event
	done   chan struct{}

	sequencer atomic.Uint64
}

// NewEmitter starts the delivery goroutine when at least one publisher is
// configured.
func NewEmitter(cfg EmitterConfig) *Emitter {
	e := &Emitter{
		publishers: cfg.Publishers,
		bucket:     cfg.Bucket,
		timeout:    cfg.PublishTimeout,
		now:        cfg.Clock,
	}
	if e.timeout <= 0 {
		e.timeout = 5 * time.Second
	}
	if e.now == nil {
		e.now = time.Now
	}
	if len(e.publishers) == 0 {
		return e
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1024
	}
	e.queue = make(chan *Event, size)
	e.done = make(chan struct{})
	go e.run()
	return e
}

// NoopEmitter returns an emitter that drops all events.
func NoopEmitter() *Emitter {
	return NewEmitter(EmitterConfig{})
}

// Enabled reports whether events are delivered anywhere.
func (e *Emitter) Enabled() bool {
	return e != nil && e.queue != nil
}

// EmitAttachmentCreated queues an attachment:Created event for a.
func (e *Emitter) EmitAttachmentCreated(ctx context.Context, a *types.Attachment) {
	e.Emit(ctx, EventAttachmentCreated, a)
}

// EmitAttachmentDeleted queues an attachment:Deleted event for a.
func (e *Emitter) EmitAttachmentDeleted(ctx context.Context, a *types.Attachment) {
	e.Emit(ctx, EventAttachmentDeleted, a)
}

// Emit queues one event. It never blocks and never fails the caller; a nil
// Emitter drops everything.
func (e *Emitter) Emit(ctx context.Context, name EventType, a *types.Attachment) {
	if !e.Enabled() || a == nil {
		EventsDroppedTotal.WithLabelValues("disabled").Inc()
		return
	}
	ev := &Event{
		Version:    eventVersion,
		Name:       name,
		Time:       e.now().UTC(),
		Sequencer:  e.nextSequencer(),
		RequestID:  logger.RequestID(ctx),
		Bucket:     e.bucket,
		Attachment: NewAttachmentEntity(a),
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		EventsDroppedTotal.WithLabelValues("closed").Inc()
		return
	}
	select {
	case e.queue <- ev:
		EventsEmittedTotal.WithLabelValues(string(name)).Inc()
		EventsQueueDepth.Inc()
	default:
		EventsDroppedTotal.WithLabelValues("queue_full").Inc()
		logger.Ctx(ctx).Warn().
			Str("event", string(name)).
			Str("url", a.URL).
			Msg("event queue full, dropping event")
	}
}

// Close stops accepting events, drains the queue until ctx is done and
// closes the publishers.
func (e *Emitter) Close(ctx context.Context) error {
	if !e.Enabled() {
		return nil
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	var errs []error
	select {
	case <-e.done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	for _, p := range e.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Emitter) run() {
	defer close(e.done)
	for ev := range e.queue {
		EventsQueueDepth.Dec()
		e.deliver(ev)
	}
}

func (e *Emitter) deliver(ev *Event) {
	data, err := ev.Marshal()
	if err != nil {
		logger.Warn().Err(err).Str("event", string(ev.Name)).Msg("failed to marshal event")
		return
	}
	for _, p := range e.publishers {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		start := time.Now()
		err := p.Publish(ctx, e.bucket, data)
		cancel()
		if err != nil {
			EventsDeliveryErrorsTotal.WithLabelValues(p.Name()).Inc()
			logger.Warn().
				Err(err).
				Str("publisher", p.Name()).
				Str("event", string(ev.Name)).
				Str("url", ev.Attachment.URL).
				Msg("failed to deliver event")
			continue
		}
		EventsDeliveryDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
		EventsDeliveredTotal.WithLabelValues(p.Name()).Inc()
	}
}

// nextSequencer is hex(timestamp_ms) + hex(counter) + a random suffix, so
// sequencers from one process sort in emit order.
func (e *Emitter) nextSequencer() string {
	ts := e.now().UnixMilli()
	seq := e.sequencer.Add(1)

	suffix := make([]byte, 4)
	rand.Read(suffix)

	return hex.EncodeToString([]byte{
		byte(ts >> 40), byte(ts >> 32), byte(ts >> 24), byte(ts >> 16),
		byte(ts >> 8), byte(ts),
		byte(seq >> 8), byte(seq),
	}) + hex.EncodeToString(suffix)
}
