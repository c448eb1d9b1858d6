// Package engine composes the per-node replication machinery: causal
// clocks, the append-only log with its state machine, the anti-entropy
// gossip view and the partition detector, all behind one mutex.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/sync-engine/internal/clock"
	"github.com/swarmguard/sync-engine/internal/crdt"
	"github.com/swarmguard/sync-engine/internal/digest"
	"github.com/swarmguard/sync-engine/internal/gossip"
	"github.com/swarmguard/sync-engine/internal/partition"
	"github.com/swarmguard/sync-engine/internal/replog"
)

// Sender hands outbound gossip to the transport. Sends are
// fire-and-forget: no acknowledgment, no retry; a lost message is healed
// by the next round.
type Sender interface {
	Send(ctx context.Context, env gossip.Envelope) error
}

// Compactable is replicated state that can shed tombstones once the
// cluster has been quiescent long enough. ORSets qualify.
type Compactable interface {
	Compact() int
}

// Config tunes one engine instance.
type Config struct {
	NodeID string
	Gossip gossip.Config
	// HeartbeatTimeout is the liveness window; a node silent for at
	// least this long counts as dead.
	HeartbeatTimeout time.Duration
	// CompactionSchedule is a cron expression (with seconds) for the
	// compaction janitor. Empty disables compaction, matching the
	// source model of unbounded growth.
	CompactionSchedule string
	// QuiescenceWindow is how long the node must have seen no writes
	// before a compaction sweep is allowed to run.
	QuiescenceWindow time.Duration
	// WallClock supplies milliseconds for the HLC; nil selects the
	// system clock.
	WallClock func() uint64
	// Now is the detector's time source; nil selects the system clock.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 5 * time.Second
	}
	if c.QuiescenceWindow <= 0 {
		c.QuiescenceWindow = time.Minute
	}
	return c
}

// Engine is one node's replication orchestrator. All mutable state is
// guarded by a single mutex; entry points are safe to call from client
// and transport goroutines alike.
type Engine struct {
	mu sync.Mutex

	cfg      Config
	vclock   clock.VectorClock
	hlc      *clock.HLC
	log      *replog.Log
	sm       *replog.StateMachine
	gossip   *gossip.Protocol
	detector *partition.Detector
	peers    []string
	sender   Sender

	// members is the add-wins view of nodes ever heard from. Heartbeats
	// and gossip arrivals add; dropping a node from the peer list retires
	// it. Tombstones are shed by the compaction janitor.
	members *crdt.ORSet[string]

	compactables []Compactable
	lastWrite    time.Time
	now          func() time.Time

	started bool
	stop    chan struct{}
	done    chan struct{}

	rounds     metric.Int64Counter
	appends    metric.Int64Counter
	healMerges metric.Int64Counter
	sendErrors metric.Int64Counter
}

// New creates an engine for the given node. sender may be nil when the
// caller drains Sync() into its own transport.
func New(cfg Config, sender Sender) *Engine {
	cfg = cfg.withDefaults()
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	meter := otel.Meter("syncd-engine")
	rounds, _ := meter.Int64Counter("syncd_gossip_rounds_total")
	appends, _ := meter.Int64Counter("syncd_log_appends_total")
	healMerges, _ := meter.Int64Counter("syncd_heal_merges_total")
	sendErrors, _ := meter.Int64Counter("syncd_send_errors_total")

	e := &Engine{
		cfg:        cfg,
		vclock:     clock.NewVectorClock(),
		hlc:        clock.NewHLC(cfg.NodeID, cfg.WallClock),
		log:        replog.NewLog(),
		sm:         replog.NewStateMachine(),
		gossip:     gossip.NewProtocol(cfg.NodeID, cfg.Gossip),
		detector:   partition.NewDetector(cfg.HeartbeatTimeout, cfg.Now),
		members:    crdt.NewORSet[string](),
		sender:     sender,
		now:        now,
		lastWrite:  now(),
		rounds:     rounds,
		appends:    appends,
		healMerges: healMerges,
		sendErrors: sendErrors,
	}

	e.members.Add(cfg.NodeID)
	e.RegisterCompactable(e.members)

	deadGauge, _ := meter.Int64ObservableGauge("syncd_partition_dead_nodes")
	tombGauge, _ := meter.Int64ObservableGauge("syncd_orset_tombstones")
	meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		_, dead := e.DetectPartitions()
		o.ObserveInt64(deadGauge, int64(len(dead)))
		e.mu.Lock()
		tombstones := e.members.TombstoneCount()
		e.mu.Unlock()
		o.ObserveInt64(tombGauge, int64(tombstones))
		return nil
	}, deadGauge, tombGauge)

	return e
}

// Set records a local write: the vector clock and HLC advance, the entry
// is appended, committed and applied, and the gossip view picks it up for
// the next rounds.
func (e *Engine) Set(key string, value []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.write(replog.OpSet, key, value, e.cfg.NodeID)
}

// Delete records a local delete. The gossip view carries it as a nil
// value so receivers replay it as a delete too.
func (e *Engine) Delete(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.write(replog.OpDelete, key, nil, e.cfg.NodeID)
}

// write must hold e.mu. Local writes and applied remote updates share it
// so the log and the gossip view never diverge.
func (e *Engine) write(op replog.Operation, key string, value []byte, origin string) {
	e.vclock.Increment(e.cfg.NodeID)
	ts := e.hlc.Now()
	entry := e.log.Append(op, key, value, ts, origin)
	// Single-node commit: there is no quorum to wait for.
	if err := e.log.Commit(entry.Sequence); err != nil {
		// Unreachable for a just-appended sequence; surfaced for safety.
		slog.Error("commit own append failed", "seq", entry.Sequence, "error", err)
		return
	}
	e.log.ApplyCommitted(e.sm)
	e.gossip.Update(key, value)
	e.lastWrite = e.now()
	e.appends.Add(context.Background(), 1)
}

// Get reads from the state machine, the log-replay view of the data.
func (e *Engine) Get(key string) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sm.Get(key)
}

// Sync runs one gossip round and returns the messages for the transport.
// Quarantined peers are skipped.
func (e *Engine) Sync() []gossip.Envelope {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round()
}

func (e *Engine) round() []gossip.Envelope {
	targets := make([]string, 0, len(e.peers))
	for _, p := range e.peers {
		if e.detector.StatusOf(p) != partition.StatusQuarantined {
			targets = append(targets, p)
		}
	}
	out := e.gossip.Round(targets)
	e.rounds.Add(context.Background(), 1)
	return out
}

// Receive is the transport's entry point for an arriving gossip message.
// Returns true when the update was applied, false when it was stale.
// Malformed messages are dropped with an error. An applied update is
// written through the log so reads observe it; arrival also counts as a
// heartbeat from the origin.
func (e *Engine) Receive(msg gossip.Message) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	applied, err := e.gossip.Receive(msg)
	if err != nil {
		slog.Warn("gossip message dropped", "error", err)
		return false, err
	}
	e.detector.Heartbeat(msg.Origin)
	e.observeMember(msg.Origin)
	if !applied {
		return false, nil
	}

	op := replog.OpSet
	if msg.Value == nil {
		op = replog.OpDelete
	}
	ts := e.hlc.Now()
	entry := e.log.Append(op, msg.Key, msg.Value, ts, msg.Origin)
	if err := e.log.Commit(entry.Sequence); err != nil {
		slog.Error("commit received update failed", "seq", entry.Sequence, "error", err)
		return true, nil
	}
	e.log.ApplyCommitted(e.sm)
	e.lastWrite = e.now()
	e.appends.Add(context.Background(), 1)
	return true, nil
}

// Heartbeat is the liveness probe's entry point.
func (e *Engine) Heartbeat(nodeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detector.Heartbeat(nodeID)
	e.observeMember(nodeID)
}

// observeMember must hold e.mu. Adding an already-live member would mint a
// fresh tag per heartbeat, so membership only grows on first contact.
func (e *Engine) observeMember(nodeID string) {
	if !e.members.Contains(nodeID) {
		e.members.Add(nodeID)
	}
}

// DetectPartitions returns the alive and dead node groups.
func (e *Engine) DetectPartitions() (alive, dead []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.detector.DetectPartitions()
}

// SetPeers replaces the gossip target list. Members absent from the new
// list are retired from the membership set; a later heartbeat from one
// re-adds it under a fresh tag (add-wins).
func (e *Engine) SetPeers(ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	keep := map[string]struct{}{e.cfg.NodeID: {}}
	filtered := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != e.cfg.NodeID {
			filtered = append(filtered, id)
		}
		keep[id] = struct{}{}
	}
	e.peers = filtered
	for _, m := range e.members.Items() {
		if _, ok := keep[m]; !ok {
			e.members.Remove(m)
		}
	}
}

// Digest summarizes the gossip view for cheap divergence checks.
func (e *Engine) Digest() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, versions := e.gossip.Snapshot()
	return digest.Sum(state, versions)
}

// GossipSnapshot copies the gossip view for handing to a healing peer.
func (e *Engine) GossipSnapshot() (map[string][]byte, map[string]uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gossip.Snapshot()
}

// HealWith reconciles this node with a remote snapshot after a repaired
// split: the higher version wins per key, remote winners are written
// through the log, and the merged view replaces the gossip state.
// Returns the number of keys adopted from the remote side.
func (e *Engine) HealWith(remoteState map[string][]byte, remoteVersions map[string]uint64) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	localState, localVersions := e.gossip.Snapshot()
	if digest.Sum(localState, localVersions) == digest.Sum(remoteState, remoteVersions) {
		return 0
	}

	mergedState, mergedVersions := partition.Heal(localState, remoteState, localVersions, remoteVersions)

	adopted := 0
	for key, version := range mergedVersions {
		if version <= localVersions[key] {
			continue
		}
		value := mergedState[key]
		op := replog.OpSet
		if value == nil {
			op = replog.OpDelete
		}
		ts := e.hlc.Now()
		entry := e.log.Append(op, key, value, ts, e.cfg.NodeID)
		if err := e.log.Commit(entry.Sequence); err != nil {
			slog.Error("commit healed update failed", "seq", entry.Sequence, "error", err)
			continue
		}
		adopted++
	}
	e.log.ApplyCommitted(e.sm)
	e.gossip.Install(mergedState, mergedVersions)
	e.lastWrite = e.now()
	if adopted > 0 {
		e.healMerges.Add(context.Background(), int64(adopted))
		slog.Info("partition healed", "adopted", adopted)
	}
	return adopted
}

// Snapshot packages the gossip view for handing to a healing peer.
func (e *Engine) Snapshot() gossip.StateSnapshot {
	state, versions := e.GossipSnapshot()
	return gossip.StateSnapshot{NodeID: e.cfg.NodeID, State: state, Versions: versions}
}

// Heal reconciles with a full-state snapshot received from a peer.
// Malformed snapshots are dropped with an error; arrival of a valid one
// counts as a heartbeat from its sender.
func (e *Engine) Heal(s gossip.StateSnapshot) (int, error) {
	if err := s.Validate(); err != nil {
		slog.Warn("heal snapshot dropped", "error", err)
		return 0, err
	}
	adopted := e.HealWith(s.State, s.Versions)
	e.Heartbeat(s.NodeID)
	return adopted, nil
}

// RegisterCompactable adds replicated state to the janitor's sweep.
func (e *Engine) RegisterCompactable(c Compactable) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compactables = append(e.compactables, c)
}

// Compact runs one janitor sweep: log entries below the applied cursor
// fold into the base snapshot and registered CRDTs shed dead tombstones.
// Skipped unless the node has been quiescent for the configured window,
// because pruning a tombstone a partitioned replica has not observed
// would resurrect removed elements.
func (e *Engine) Compact() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.now().Sub(e.lastWrite) < e.cfg.QuiescenceWindow {
		slog.Debug("compaction skipped, node not quiescent")
		return 0
	}
	pruned := e.log.Compact()
	for _, c := range e.compactables {
		pruned += c.Compact()
	}
	if pruned > 0 {
		slog.Info("compaction sweep done", "pruned", pruned)
	}
	return pruned
}
