// Package audit keeps a redacted, in-memory trail of negotiation activity.
// Message bodies are never stored; only a salted hash and the length survive,
// so the trail can be exposed without leaking negotiation content.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Event kinds recorded on the trail.
const (
	EventCreated      = "created"
	EventMessageAdded = "message_added"
	EventCompleted    = "completed"
	EventClosed       = "closed"
)

type Record struct {
	NegotiationID string    `json:"negotiation_id"`
	Event         string    `json:"event"`
	Speaker       string    `json:"speaker,omitempty"`
	MessageHash   string    `json:"message_hash,omitempty"`
	MessageLength int       `json:"message_length,omitempty"`
	At            time.Time `json:"at"`
}

// Trail is an append-only audit log bounded to maxPerSession records per
// negotiation. Records for a negotiation are dropped when it is closed or
// evicted, matching the lifetime of the session itself.
type Trail struct {
	mu            sync.RWMutex
	records       map[string][]Record
	salt          []byte
	maxPerSession int
}

func NewTrail(salt string, maxPerSession int) *Trail {
	if maxPerSession <= 0 {
		maxPerSession = 64
	}
	return &Trail{
		records:       map[string][]Record{},
		salt:          []byte(salt),
		maxPerSession: maxPerSession,
	}
}

// RecordEvent appends a non-message event (created, completed, closed).
func (t *Trail) RecordEvent(negotiationID, event string) {
	if t == nil || negotiationID == "" {
		return
	}
	t.append(Record{
		NegotiationID: negotiationID,
		Event:         event,
		At:            time.Now().UTC(),
	})
}

// RecordMessage appends a message event with the body redacted to a salted
// hash plus its length.
func (t *Trail) RecordMessage(negotiationID, speaker, message string) {
	if t == nil || negotiationID == "" {
		return
	}
	t.append(Record{
		NegotiationID: negotiationID,
		Event:         EventMessageAdded,
		Speaker:       speaker,
		MessageHash:   t.hash(message),
		MessageLength: len(message),
		At:            time.Now().UTC(),
	})
}

// For returns a copy of the trail for one negotiation, oldest first.
func (t *Trail) For(negotiationID string) []Record {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	recs := t.records[negotiationID]
	out := make([]Record, len(recs))
	copy(out, recs)
	return out
}

// Drop discards the trail for a negotiation.
func (t *Trail) Drop(negotiationID string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.records, negotiationID)
	t.mu.Unlock()
}

func (t *Trail) append(rec Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	recs := append(t.records[rec.NegotiationID], rec)
	if len(recs) > t.maxPerSession {
		recs = recs[len(recs)-t.maxPerSession:]
	}
	t.records[rec.NegotiationID] = recs
}

func (t *Trail) hash(v string) string {
	h := sha256.New()
	if len(t.salt) > 0 {
		_, _ = h.Write(t.salt)
	}
	_, _ = h.Write([]byte(v))
	return hex.EncodeToString(h.Sum(nil))
}
