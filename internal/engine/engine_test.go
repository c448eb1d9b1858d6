package engine

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/swarmguard/sync-engine/internal/gossip"
)

func testConfig(node string) Config {
	return Config{
		NodeID:           node,
		Gossip:           gossip.Config{Fanout: 2, Interval: 20 * time.Millisecond, MaxTransmissions: 3, Seed: 7},
		HeartbeatTimeout: time.Second,
		QuiescenceWindow: time.Millisecond,
	}
}

func TestSetGetThroughLog(t *testing.T) {
	e := New(testConfig("n1"), nil)

	e.Set("k", []byte("v"))
	got, ok := e.Get("k")
	if !ok || !bytes.Equal(got, []byte("v")) {
		t.Fatalf("get after set: %q ok=%v", got, ok)
	}

	st := e.Stats()
	if st.LogLength != 1 || st.CommittedIndex != 0 || st.AppliedIndex != 0 {
		t.Fatalf("log cursors wrong: %+v", st)
	}
	if st.VectorClock["n1"] != 1 {
		t.Fatalf("vector clock not advanced: %v", st.VectorClock)
	}

	e.Delete("k")
	if _, ok := e.Get("k"); ok {
		t.Fatalf("delete did not remove the key")
	}
	if st := e.Stats(); st.VectorClock["n1"] != 2 {
		t.Fatalf("delete should advance the clock too")
	}
}

func TestGetAbsent(t *testing.T) {
	e := New(testConfig("n1"), nil)
	if _, ok := e.Get("nope"); ok {
		t.Fatalf("absent key must read absent, not error")
	}
}

func TestSyncEmitsEnvelopes(t *testing.T) {
	e := New(testConfig("n1"), nil)
	e.SetPeers([]string{"n1", "n2", "n3"}) // self is filtered out
	e.Set("a", []byte("1"))

	envs := e.Sync()
	if len(envs) != 2 {
		t.Fatalf("fanout 2 over 2 peers with 1 key should yield 2 envelopes, got %d", len(envs))
	}
	for _, env := range envs {
		if env.To == "n1" {
			t.Fatalf("engine must never gossip to itself")
		}
		if env.Message.Origin != "n1" || env.Message.Version != 1 {
			t.Fatalf("bad message: %+v", env.Message)
		}
	}
}

func TestReceiveAppliesToStateMachine(t *testing.T) {
	e := New(testConfig("n1"), nil)

	applied, err := e.Receive(gossip.Message{Key: "k", Value: []byte("remote"), Version: 3, Origin: "n2", TTL: 1})
	if err != nil || !applied {
		t.Fatalf("receive: applied=%v err=%v", applied, err)
	}

	// Reads go through the log-replay state machine, so the applied
	// update must be visible there, not only in the gossip view.
	got, ok := e.Get("k")
	if !ok || !bytes.Equal(got, []byte("remote")) {
		t.Fatalf("received update not readable: %q ok=%v", got, ok)
	}

	// A nil value replays as a delete.
	applied, err = e.Receive(gossip.Message{Key: "k", Value: nil, Version: 4, Origin: "n2", TTL: 1})
	if err != nil || !applied {
		t.Fatalf("delete receive: applied=%v err=%v", applied, err)
	}
	if _, ok := e.Get("k"); ok {
		t.Fatalf("received delete not applied")
	}

	// Stale version: discarded, state untouched.
	applied, err = e.Receive(gossip.Message{Key: "k", Value: []byte("old"), Version: 2, Origin: "n3", TTL: 1})
	if err != nil || applied {
		t.Fatalf("stale receive should be a silent discard: applied=%v err=%v", applied, err)
	}

	// Malformed: dropped with an error.
	if _, err := e.Receive(gossip.Message{Key: "", Version: 1, Origin: "n2"}); !errors.Is(err, gossip.ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestReceiveCountsAsHeartbeat(t *testing.T) {
	e := New(testConfig("n1"), nil)
	e.Receive(gossip.Message{Key: "k", Value: []byte("v"), Version: 1, Origin: "n2", TTL: 1})

	alive, _ := e.DetectPartitions()
	if len(alive) != 1 || alive[0] != "n2" {
		t.Fatalf("gossip arrival should count as liveness evidence: %v", alive)
	}
}

func TestHeartbeatAndDetect(t *testing.T) {
	e := New(testConfig("n1"), nil)
	e.Heartbeat("n2")
	e.Heartbeat("n3")

	alive, dead := e.DetectPartitions()
	if len(alive) != 2 || len(dead) != 0 {
		t.Fatalf("expected both alive: alive=%v dead=%v", alive, dead)
	}
}

func TestHealWith(t *testing.T) {
	a := New(testConfig("a"), nil)
	b := New(testConfig("b"), nil)

	// Divergent writes on both sides of a split.
	a.Set("shared", []byte("from-a"))
	a.Set("only-a", []byte("1"))
	b.Set("shared", []byte("from-b"))
	b.Set("shared", []byte("from-b2")) // b's version counter is higher
	b.Set("only-b", []byte("2"))

	bState, bVersions := b.GossipSnapshot()
	adopted := a.HealWith(bState, bVersions)
	if adopted != 2 {
		t.Fatalf("a should adopt shared and only-b, got %d", adopted)
	}

	if v, _ := a.Get("shared"); !bytes.Equal(v, []byte("from-b2")) {
		t.Fatalf("higher version should win: %q", v)
	}
	if v, ok := a.Get("only-b"); !ok || !bytes.Equal(v, []byte("2")) {
		t.Fatalf("remote-only key missing after heal: %q ok=%v", v, ok)
	}
	if v, ok := a.Get("only-a"); !ok || !bytes.Equal(v, []byte("1")) {
		t.Fatalf("local-only key lost in heal: %q ok=%v", v, ok)
	}

	// Healing the other direction converges both nodes.
	aState, aVersions := a.GossipSnapshot()
	b.HealWith(aState, aVersions)
	if a.Digest() != b.Digest() {
		t.Fatalf("digests should match after mutual heal")
	}

	// Replaying the same remote snapshot adopts nothing.
	if adopted := a.HealWith(bState, bVersions); adopted != 0 {
		t.Fatalf("repeat heal adopted %d keys", adopted)
	}
}

func TestHealFromSnapshot(t *testing.T) {
	a := New(testConfig("a"), nil)
	b := New(testConfig("b"), nil)
	a.Set("shared", []byte("from-a"))
	b.Set("shared", []byte("from-b"))
	b.Set("shared", []byte("from-b2"))

	adopted, err := a.Heal(b.Snapshot())
	if err != nil || adopted != 1 {
		t.Fatalf("heal: adopted=%d err=%v", adopted, err)
	}
	if v, _ := a.Get("shared"); !bytes.Equal(v, []byte("from-b2")) {
		t.Fatalf("snapshot heal did not adopt the winner: %q", v)
	}

	// Snapshot arrival is liveness evidence from its sender.
	alive, _ := a.DetectPartitions()
	if len(alive) != 1 || alive[0] != "b" {
		t.Fatalf("sender should read alive after heal: %v", alive)
	}

	// A snapshot without a sender is dropped.
	if _, err := a.Heal(gossip.StateSnapshot{State: map[string][]byte{}}); !errors.Is(err, gossip.ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestMembershipFollowsContactAndPeers(t *testing.T) {
	e := New(testConfig("n1"), nil)
	if st := e.Stats(); st.Members != 1 {
		t.Fatalf("a fresh engine should count itself: %+v", st)
	}

	e.Heartbeat("n2")
	e.Heartbeat("n2") // repeat contact must not mint more tags
	e.Receive(gossip.Message{Key: "k", Value: []byte("v"), Version: 1, Origin: "n3", TTL: 1})
	if st := e.Stats(); st.Members != 3 || st.Tombstones != 0 {
		t.Fatalf("expected 3 members, no tombstones: %+v", st)
	}

	// Dropping n3 from the peer list retires it.
	e.SetPeers([]string{"n2"})
	st := e.Stats()
	if st.Members != 2 {
		t.Fatalf("retired member still counted: %+v", st)
	}
	if st.Tombstones == 0 {
		t.Fatalf("retirement should leave tombstones for the janitor")
	}

	// A later heartbeat re-adds it (add-wins).
	e.Heartbeat("n3")
	if st := e.Stats(); st.Members != 3 {
		t.Fatalf("re-contacted member missing: %+v", st)
	}
}

func TestCompactSweepsMembershipTombstones(t *testing.T) {
	cfg := testConfig("n1")
	cfg.QuiescenceWindow = time.Nanosecond
	e := New(cfg, nil)

	e.Set("k", []byte("v")) // one applied log entry
	e.Heartbeat("n2")
	e.SetPeers(nil) // retires n2, tombstoning its tag
	time.Sleep(time.Millisecond)

	if pruned := e.Compact(); pruned != 2 {
		t.Fatalf("expected 1 log entry + 1 tombstone pruned, got %d", pruned)
	}
	if st := e.Stats(); st.Tombstones != 0 {
		t.Fatalf("tombstones survived the sweep: %+v", st)
	}
}

func TestCompactRespectsQuiescence(t *testing.T) {
	cfg := testConfig("n1")
	cfg.QuiescenceWindow = time.Hour
	e := New(cfg, nil)
	e.Set("k", []byte("v"))

	if pruned := e.Compact(); pruned != 0 {
		t.Fatalf("compaction must not run inside the quiescence window, pruned %d", pruned)
	}

	cfg = testConfig("n2")
	cfg.QuiescenceWindow = time.Nanosecond
	e = New(cfg, nil)
	e.Set("k", []byte("v"))
	time.Sleep(time.Millisecond)

	if pruned := e.Compact(); pruned != 1 {
		t.Fatalf("expected the applied entry to compact, pruned %d", pruned)
	}
	// State is preserved across compaction.
	if v, ok := e.Get("k"); !ok || !bytes.Equal(v, []byte("v")) {
		t.Fatalf("compaction lost state: %q ok=%v", v, ok)
	}
}

// chanSender records sends for lifecycle tests.
type chanSender struct {
	mu   sync.Mutex
	envs []gossip.Envelope
}

func (s *chanSender) Send(_ context.Context, env gossip.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
	return nil
}

func (s *chanSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.envs)
}

func TestStartStopLifecycle(t *testing.T) {
	sender := &chanSender{}
	e := New(testConfig("n1"), sender)
	e.SetPeers([]string{"n2"})
	e.Set("k", []byte("v"))

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := e.Start(ctx); err == nil {
		t.Fatalf("double start must fail")
	}

	deadline := time.After(2 * time.Second)
	for sender.count() == 0 {
		select {
		case <-deadline:
			t.Fatalf("no gossip sent before deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}

	e.Stop()
	settled := sender.count()
	time.Sleep(60 * time.Millisecond)
	if sender.count() != settled {
		t.Fatalf("gossip continued after Stop")
	}

	// Stop is idempotent and a stopped engine can be restarted.
	e.Stop()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	e.Stop()
}

func TestEnginePairConverges(t *testing.T) {
	// Two engines wired back to back through their Sync/Receive entry
	// points, no real transport.
	a := New(testConfig("a"), nil)
	b := New(testConfig("b"), nil)
	a.SetPeers([]string{"b"})
	b.SetPeers([]string{"a"})

	a.Set("x", []byte("1"))
	b.Set("y", []byte("2"))

	engines := map[string]*Engine{"a": a, "b": b}
	for round := 0; round < 4; round++ {
		var pending []gossip.Envelope
		for _, e := range engines {
			pending = append(pending, e.Sync()...)
		}
		for _, env := range pending {
			if _, err := engines[env.To].Receive(env.Message); err != nil {
				t.Fatalf("receive: %v", err)
			}
		}
	}

	for id, e := range engines {
		if v, ok := e.Get("x"); !ok || !bytes.Equal(v, []byte("1")) {
			t.Fatalf("node %s missing x: %q ok=%v", id, v, ok)
		}
		if v, ok := e.Get("y"); !ok || !bytes.Equal(v, []byte("2")) {
			t.Fatalf("node %s missing y: %q ok=%v", id, v, ok)
		}
	}
	if a.Digest() != b.Digest() {
		t.Fatalf("gossip views did not converge")
	}
}
