package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/scotthconner/smartrust-sub001/core/events"
	"github.com/scotthconner/smartrust-sub001/core/types"
)

var auditPrefix = []byte("audit/")

// payloadEvent is satisfied by engine events that carry a structured payload
// alongside their type. Events without a payload are journaled as type-only
// records.
type payloadEvent interface {
	Event() *types.Event
}

// AuditJournal is an append-only persistent event sink. Each record gets a
// monotonic sequence number; replaying the journal in order reconstructs the
// full history of the engines without re-executing any call.
type AuditJournal struct {
	db     Database
	seq    uint64
	logger *slog.Logger
}

var _ events.Emitter = (*AuditJournal)(nil)

// NewAuditJournal creates a journal over the supplied database, resuming the
// sequence counter from any records already present.
func NewAuditJournal(db Database) (*AuditJournal, error) {
	j := &AuditJournal{db: db, logger: slog.Default()}
	err := db.IteratePrefix(auditPrefix, func(key, _ []byte) error {
		if len(key) == len(auditPrefix)+8 {
			seq := binary.BigEndian.Uint64(key[len(auditPrefix):])
			if seq >= j.seq {
				j.seq = seq + 1
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit journal: resume scan failed: %w", err)
	}
	return j, nil
}

// SetLogger overrides the structured logger. Passing nil restores the default.
func (j *AuditJournal) SetLogger(logger *slog.Logger) {
	if logger == nil {
		j.logger = slog.Default()
		return
	}
	j.logger = logger
}

// Emit appends the event to the journal. Emit never blocks the emitting
// engine on a journal fault: a failed write is logged and dropped, since the
// engine state transition has already committed.
func (j *AuditJournal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	record := &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
	if pe, ok := evt.(payloadEvent); ok && pe.Event() != nil {
		record = pe.Event()
	}
	raw, err := json.Marshal(record)
	if err != nil {
		j.logger.Error("audit journal: marshal failed", "type", record.Type, "error", err)
		return
	}
	key := make([]byte, len(auditPrefix)+8)
	copy(key, auditPrefix)
	binary.BigEndian.PutUint64(key[len(auditPrefix):], j.seq)
	if err := j.db.Put(key, raw); err != nil {
		j.logger.Error("audit journal: write failed", "type", record.Type, "error", err)
		return
	}
	j.seq++
}

// Replay visits every journaled event in sequence order.
func (j *AuditJournal) Replay(fn func(seq uint64, evt *types.Event) error) error {
	return j.db.IteratePrefix(auditPrefix, func(key, value []byte) error {
		if len(key) != len(auditPrefix)+8 {
			return nil
		}
		seq := binary.BigEndian.Uint64(key[len(auditPrefix):])
		evt := &types.Event{}
		if err := json.Unmarshal(value, evt); err != nil {
			return fmt.Errorf("audit journal: corrupt record %d: %w", seq, err)
		}
		return fn(seq, evt)
	})
}

// Len returns the number of records appended so far.
func (j *AuditJournal) Len() uint64 {
	if j == nil {
		return 0
	}
	return j.seq
}
