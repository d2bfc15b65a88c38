// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

// Package outbox is the device-local durable queue for ticket writes made
// while offline. Items are persisted with fsync before Enqueue returns,
// replayed strictly in enqueue order, and removed only after the server
// accepted the write. The item id doubles as the idempotency key, so replay
// under retries and duplicate delivery stays at-most-once on the server.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/coverpoint/tabsync/internal/config"
	"github.com/coverpoint/tabsync/internal/logging"
	"github.com/coverpoint/tabsync/internal/metrics"
	"github.com/coverpoint/tabsync/internal/models"
)

// Sentinel errors.
var (
	ErrClosed = errors.New("outbox is closed")
)

// keyPrefix namespaces queue items. The sequence number after the prefix is
// fixed-width big-endian hex so Badger's lexicographic iteration yields
// strict enqueue order.
const keyPrefix = "q:"

// seqBandwidth is how many sequence numbers Badger leases at a time.
const seqBandwidth = 64

// Item is one queued ticket write.
type Item struct {
	// ID is the locally-generated unique id, reused as the idempotency
	// key on replay.
	ID string `json:"id"`

	// Seq fixes the replay position.
	Seq uint64 `json:"seq"`

	Payload   models.OutboxPayload `json:"payload"`
	CreatedAt time.Time            `json:"created_at"`

	// Attempts and LastError describe replay history, for diagnostics.
	Attempts  int    `json:"attempts,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// Stats is a point-in-time snapshot of queue state.
type Stats struct {
	Depth         int
	TotalEnqueued int64
	TotalReplayed int64
	TotalFailures int64
}

// Outbox is the Badger-backed queue.
type Outbox struct {
	db  *badger.DB
	seq *badger.Sequence
	cfg config.OutboxConfig

	totalEnqueued atomic.Int64
	totalReplayed atomic.Int64
	totalFailures atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the queue at the configured path.
func Open(cfg config.OutboxConfig) (*Outbox, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	return open(opts, cfg)
}

// OpenInMemory opens an ephemeral queue for tests.
func OpenInMemory() (*Outbox, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	return open(opts, config.OutboxConfig{})
}

func open(opts badger.Options, cfg config.OutboxConfig) (*Outbox, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open outbox store: %w", err)
	}

	seq, err := db.GetSequence([]byte("seq"), seqBandwidth)
	if err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("open outbox sequence: %w", err)
	}

	o := &Outbox{db: db, seq: seq, cfg: cfg}

	depth, err := o.Depth()
	if err != nil {
		logging.Warn().Err(err).Msg("outbox depth scan failed on open")
	} else {
		metrics.OutboxDepth.Set(float64(depth))
		if depth > 0 {
			logging.Info().Int("pending", depth).Msg("outbox opened with pending items")
		}
	}

	return o, nil
}

// Enqueue durably stores a payload and returns its item id once the write
// has hit disk. Safe to call while offline; that is the point.
func (o *Outbox) Enqueue(ctx context.Context, payload models.OutboxPayload) (string, error) {
	o.mu.RLock()
	if o.closed {
		o.mu.RUnlock()
		return "", ErrClosed
	}
	o.mu.RUnlock()

	seq, err := o.seq.Next()
	if err != nil {
		return "", fmt.Errorf("next sequence: %w", err)
	}

	item := &Item{
		ID:        uuid.New().String(),
		Seq:       seq,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("marshal outbox item: %w", err)
	}

	err = o.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(itemKey(seq), data)
		if o.cfg.EntryTTL > 0 {
			e = e.WithTTL(o.cfg.EntryTTL)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return "", fmt.Errorf("persist outbox item: %w", err)
	}

	o.totalEnqueued.Add(1)
	o.updateDepthMetric()

	logging.Debug().
		Str("item_id", item.ID).
		Uint64("seq", seq).
		Str("table", payload.Table().String()).
		Msg("outbox item enqueued")

	return item.ID, nil
}

// Items returns all queued items in enqueue order.
func (o *Outbox) Items(ctx context.Context) ([]*Item, error) {
	o.mu.RLock()
	if o.closed {
		o.mu.RUnlock()
		return nil, ErrClosed
	}
	o.mu.RUnlock()

	var items []*Item
	err := o.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var item Item
				if err := json.Unmarshal(val, &item); err != nil {
					return fmt.Errorf("unmarshal outbox item: %w", err)
				}
				items = append(items, &item)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Depth returns the number of queued items.
func (o *Outbox) Depth() (int, error) {
	count := 0
	err := o.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Stats returns queue counters.
func (o *Outbox) Stats() Stats {
	depth, err := o.Depth()
	if err != nil {
		depth = -1
	}
	return Stats{
		Depth:         depth,
		TotalEnqueued: o.totalEnqueued.Load(),
		TotalReplayed: o.totalReplayed.Load(),
		TotalFailures: o.totalFailures.Load(),
	}
}

// Close releases the sequence lease and closes the store.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true

	if err := o.seq.Release(); err != nil {
		logging.Warn().Err(err).Msg("release outbox sequence")
	}
	return o.db.Close()
}

// remove deletes a replayed item.
func (o *Outbox) remove(seq uint64) error {
	return o.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(itemKey(seq))
	})
}

// recordAttempt rewrites an item with its failure annotated. Best effort;
// the attempt counter is diagnostics, not control flow.
func (o *Outbox) recordAttempt(item *Item, attemptErr error) {
	item.Attempts++
	item.LastError = attemptErr.Error()

	data, err := json.Marshal(item)
	if err != nil {
		return
	}
	err = o.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(itemKey(item.Seq), data)
		if o.cfg.EntryTTL > 0 {
			e = e.WithTTL(o.cfg.EntryTTL)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		logging.Warn().Err(err).Str("item_id", item.ID).Msg("record replay attempt failed")
	}
}

func (o *Outbox) updateDepthMetric() {
	if depth, err := o.Depth(); err == nil {
		metrics.OutboxDepth.Set(float64(depth))
	}
}

func itemKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", keyPrefix, seq))
}

func closeQuietly(db *badger.DB) {
	if err := db.Close(); err != nil {
		logging.Warn().Err(err).Msg("error closing outbox store")
	}
}
