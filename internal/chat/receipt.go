package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tidechat/tide/internal/protocol"
	"github.com/tidechat/tide/internal/storage"
)

// ReceiptTracker keeps the in-memory read-receipt cache and writes
// through to the durable store. The durable copy is authoritative for
// anything queried after a restart.
type ReceiptTracker struct {
	hub   *Hub
	store storage.Store
	log   zerolog.Logger

	mu       sync.Mutex
	receipts map[string]map[string]time.Time // message -> reader -> read at
}

// NewReceiptTracker builds a tracker over the durable store.
func NewReceiptTracker(hub *Hub, store storage.Store, log zerolog.Logger) *ReceiptTracker {
	return &ReceiptTracker{
		hub:      hub,
		store:    store,
		log:      log,
		receipts: make(map[string]map[string]time.Time),
	}
}

// MarkRead upserts the reader's receipt: a later read overwrites the
// timestamp, never appends a second entry. The durable upsert runs
// asynchronously and is not cancelled by the reader disconnecting.
func (t *ReceiptTracker) MarkRead(messageID, reader, room string, readAt time.Time) {
	t.mu.Lock()
	byReader, ok := t.receipts[messageID]
	if !ok {
		byReader = make(map[string]time.Time)
		t.receipts[messageID] = byReader
	}
	byReader[reader] = readAt
	t.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := t.store.UpsertReadReceipt(ctx, storage.ReadReceipt{
			MessageID: messageID,
			Reader:    reader,
			ReadAt:    readAt,
		})
		if err != nil {
			t.log.Warn().Err(err).Str("message", messageID).Str("reader", reader).Msg("receipt upsert failed")
		}
	}()

	t.hub.Broadcast(room, NewEvent(protocol.EventMessageRead, room, protocol.MessageRead{
		MessageID: messageID,
		Reader:    reader,
		ReadAt:    readAt,
	}))
}

// Receipts reads the durable receipts for a message, newest first. The
// result goes only to the requester, so delivery is left to the caller.
func (t *ReceiptTracker) Receipts(ctx context.Context, messageID string) ([]protocol.Receipt, error) {
	stored, err := t.store.ListReadReceipts(ctx, messageID)
	if err != nil {
		return nil, err
	}
	receipts := make([]protocol.Receipt, 0, len(stored))
	for _, receipt := range stored {
		receipts = append(receipts, protocol.Receipt{Reader: receipt.Reader, ReadAt: receipt.ReadAt})
	}
	return receipts, nil
}

// CachedReaders snapshots the in-memory receipt map for a message.
func (t *ReceiptTracker) CachedReaders(messageID string) map[string]time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	snapshot := make(map[string]time.Time, len(t.receipts[messageID]))
	for reader, at := range t.receipts[messageID] {
		snapshot[reader] = at
	}
	return snapshot
}
