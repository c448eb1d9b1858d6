// Package replog provides the append-only replication log and the
// deterministic state machine derived from it by replay.
package replog

import (
	"errors"
	"fmt"

	"github.com/swarmguard/sync-engine/internal/clock"
)

// ErrInvalidSequence is returned when a commit names a sequence the log
// does not hold yet; silently advancing past missing entries would break
// deterministic replay.
var ErrInvalidSequence = errors.New("invalid sequence")

// Operation is the kind of mutation a log entry carries.
type Operation string

const (
	OpSet    Operation = "set"
	OpDelete Operation = "delete"
)

// Entry is one immutable record of the replication log.
type Entry struct {
	Sequence  uint64          `json:"sequence"`
	Term      uint64          `json:"term"` // reserved; no leader election in this engine
	Op        Operation       `json:"op"`
	Key       string          `json:"key"`
	Value     []byte          `json:"value,omitempty"`
	Timestamp clock.Timestamp `json:"timestamp"`
	NodeID    string          `json:"node_id"`
}

// Log is an append-only sequence of entries plus commit/apply cursors.
// Invariant: appliedIdx <= committedIdx < base+len(entries).
//
// Entries below base have been folded into baseState by Compact; their
// effect is preserved, their bytes are gone. Not goroutine-safe; the
// owning engine serializes access.
type Log struct {
	entries   []Entry
	base      uint64
	baseState map[string][]byte
	committed int64 // highest committed sequence, -1 when none
	applied   int64 // highest applied sequence, -1 when none
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{
		baseState: make(map[string][]byte),
		committed: -1,
		applied:   -1,
	}
}

// Append assigns the next sequence number and appends the entry. The
// caller must serialize appends so sequences stay strictly increasing.
func (l *Log) Append(op Operation, key string, value []byte, ts clock.Timestamp, nodeID string) Entry {
	e := Entry{
		Sequence:  l.base + uint64(len(l.entries)),
		Op:        op,
		Key:       key,
		Value:     value,
		Timestamp: ts,
		NodeID:    nodeID,
	}
	l.entries = append(l.entries, e)
	return e
}

// Commit marks everything up to idx as committed. Monotone and
// idempotent: committing at or below the current cursor is a no-op.
// Committing past the end of the log is rejected.
func (l *Log) Commit(idx uint64) error {
	if int64(idx) <= l.committed {
		return nil
	}
	if idx >= l.base+uint64(len(l.entries)) {
		return fmt.Errorf("commit %d past log end %d: %w", idx, l.Len(), ErrInvalidSequence)
	}
	l.committed = int64(idx)
	return nil
}

// ApplyCommitted applies committed-but-unapplied entries to the state
// machine in order. Returns the number of entries applied. Never advances
// the applied cursor past the committed cursor.
func (l *Log) ApplyCommitted(sm *StateMachine) int {
	applied := 0
	for l.applied < l.committed {
		next := uint64(l.applied + 1)
		sm.Apply(l.entries[next-l.base])
		l.applied = int64(next)
		applied++
	}
	return applied
}

// Snapshot replays entries [0..appliedIdx] from scratch, independent of
// the incrementally maintained state machine. The two must always agree;
// the divergence between them is a testable invariant.
func (l *Log) Snapshot() map[string][]byte {
	state := make(map[string][]byte, len(l.baseState))
	for k, v := range l.baseState {
		state[k] = v
	}
	for _, e := range l.entries {
		if int64(e.Sequence) > l.applied {
			break
		}
		applyTo(state, e)
	}
	return state
}

// Compact folds applied entries into the base snapshot and drops them,
// returning the number of entries removed. Snapshot output is unchanged.
func (l *Log) Compact() int {
	if l.applied < int64(l.base) {
		return 0
	}
	cut := uint64(l.applied+1) - l.base
	for _, e := range l.entries[:cut] {
		applyTo(l.baseState, e)
	}
	l.entries = append([]Entry(nil), l.entries[cut:]...)
	l.base += cut
	return int(cut)
}

// Entry returns the entry at the given sequence, if the log still holds it.
func (l *Log) Entry(seq uint64) (Entry, bool) {
	if seq < l.base || seq >= l.base+uint64(len(l.entries)) {
		return Entry{}, false
	}
	return l.entries[seq-l.base], true
}

// Len returns the total number of sequences ever appended, including
// compacted ones.
func (l *Log) Len() uint64 {
	return l.base + uint64(len(l.entries))
}

// CommittedIndex returns the commit cursor (-1 when nothing is committed).
func (l *Log) CommittedIndex() int64 { return l.committed }

// AppliedIndex returns the apply cursor (-1 when nothing is applied).
func (l *Log) AppliedIndex() int64 { return l.applied }

func applyTo(state map[string][]byte, e Entry) {
	switch e.Op {
	case OpSet:
		state[e.Key] = e.Value
	case OpDelete:
		delete(state, e.Key)
	}
}
