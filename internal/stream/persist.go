// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
)

// DefaultPersistInterval is the minimum spacing of streaming writes.
const DefaultPersistInterval = 250 * time.Millisecond

// DefaultDrainTimeout bounds the final write when a stream ends.
const DefaultDrainTimeout = 5 * time.Second

// writeTimeout bounds each individual store call.
const writeTimeout = 5 * time.Second

// MessageStore is the subset of storage.Store used while streaming.
type MessageStore interface {
	EnsureChat(ctx context.Context, id, model string) (bool, error)
	UpsertMessage(ctx context.Context, chatID string, msg model.Message) error
	TouchChat(ctx context.Context, id string, at time.Time) error
}

// Persister writes snapshots of one assistant message from a single
// background goroutine. Offer never blocks: a snapshot that has not been
// written yet is replaced by the next one.
type Persister struct {
	store    MessageStore
	chatID   string
	interval time.Duration
	logger   *zap.Logger
	metrics  *telemetry.Metrics

	mu        sync.Mutex
	pending   *model.Message
	final     *model.Message
	lastWrite time.Time

	wake    chan struct{}
	closing chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewPersister creates a persister for chatID. Call Begin, then Offer any
// number of times, then Close exactly once.
func NewPersister(store MessageStore, chatID string, interval time.Duration, logger *zap.Logger, metrics *telemetry.Metrics) *Persister {
	if interval <= 0 {
		interval = DefaultPersistInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{
		store:    store,
		chatID:   chatID,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
		wake:     make(chan struct{}, 1),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Begin ensures the chat exists and writes the placeholder message
// synchronously, then starts the background writer. Failures are logged.
func (p *Persister) Begin(ctx context.Context, modelName string, placeholder model.Message) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if _, err := p.store.EnsureChat(wctx, p.chatID, modelName); err != nil {
		p.failed("ensure_chat", placeholder.ID, err)
	} else {
		p.write(wctx, placeholder)
	}
	p.lastWrite = time.Now()

	go p.run()
}

// Offer queues a snapshot. The persister keeps only the latest one.
func (p *Persister) Offer(msg model.Message) {
	p.mu.Lock()
	if p.pending != nil {
		p.metrics.PersistWrite("coalesced")
	}
	snap := msg.Clone()
	p.pending = &snap
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Close writes final unconditionally, touches the chat and waits for the
// writer to exit, at most until ctx is done.
func (p *Persister) Close(ctx context.Context, final model.Message) {
	p.once.Do(func() {
		snap := final.Clone()
		p.mu.Lock()
		p.final = &snap
		p.pending = nil
		p.mu.Unlock()
		close(p.closing)
	})

	select {
	case <-p.done:
	case <-ctx.Done():
		p.logger.Warn("persist_drain_timeout", zap.String("chat_id", p.chatID))
	}
}

func (p *Persister) run() {
	defer close(p.done)

	for {
		select {
		case <-p.wake:
		case <-p.closing:
			p.finish()
			return
		}

		if wait := p.interval - time.Since(p.lastWrite); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-p.closing:
				t.Stop()
				p.finish()
				return
			}
		}

		p.mu.Lock()
		msg := p.pending
		p.pending = nil
		p.mu.Unlock()

		if msg != nil {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			p.write(ctx, *msg)
			cancel()
			p.lastWrite = time.Now()
		}
	}
}

func (p *Persister) finish() {
	p.mu.Lock()
	final := p.final
	p.mu.Unlock()
	if final == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	p.write(ctx, *final)
	if err := p.store.TouchChat(ctx, p.chatID, time.Now()); err != nil {
		p.failed("touch_chat", final.ID, err)
	}
}

func (p *Persister) write(ctx context.Context, msg model.Message) {
	if err := p.store.UpsertMessage(ctx, p.chatID, msg); err != nil {
		p.failed("upsert_message", msg.ID, err)
		return
	}
	p.metrics.PersistWrite("ok")
}

func (p *Persister) failed(op, messageID string, err error) {
	p.metrics.PersistWrite("failed")
	p.logger.Warn("persist_failed",
		zap.String("op", op),
		zap.String("chat_id", p.chatID),
		zap.String("message_id", messageID),
		zap.Error(err),
	)
}
