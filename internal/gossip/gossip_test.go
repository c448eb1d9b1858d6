package gossip

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func newTestProtocol(node string, seed int64) *Protocol {
	return NewProtocol(node, Config{Fanout: 1, Interval: time.Second, MaxTransmissions: 3, Seed: seed})
}

func TestUpdateBumpsVersion(t *testing.T) {
	p := newTestProtocol("n1", 1)
	if v := p.Update("k", []byte("a")); v != 1 {
		t.Fatalf("first version should be 1, got %d", v)
	}
	if v := p.Update("k", []byte("b")); v != 2 {
		t.Fatalf("second version should be 2, got %d", v)
	}
	got, ok := p.Get("k")
	if !ok || string(got) != "b" {
		t.Fatalf("expected latest value, got %q ok=%v", got, ok)
	}
}

func TestReceiveAppliedAndStale(t *testing.T) {
	p := newTestProtocol("n1", 1)
	p.Update("k", []byte("local")) // version 1

	applied, err := p.Receive(Message{Key: "k", Value: []byte("remote"), Version: 5, Origin: "n2", TTL: 2})
	if err != nil || !applied {
		t.Fatalf("newer version should apply, got applied=%v err=%v", applied, err)
	}
	if v, _ := p.Get("k"); string(v) != "remote" {
		t.Fatalf("value not applied")
	}

	applied, err = p.Receive(Message{Key: "k", Value: []byte("old"), Version: 3, Origin: "n3", TTL: 2})
	if err != nil {
		t.Fatalf("stale is not an error: %v", err)
	}
	if applied {
		t.Fatalf("stale version must be discarded")
	}
	if v, _ := p.Get("k"); string(v) != "remote" {
		t.Fatalf("stale receive overwrote state")
	}
	if p.Version("k") != 5 {
		t.Fatalf("version clobbered: %d", p.Version("k"))
	}
}

func TestReceiveMalformed(t *testing.T) {
	p := newTestProtocol("n1", 1)
	cases := []Message{
		{Key: "", Version: 1, Origin: "n2"},
		{Key: "k", Version: 0, Origin: "n2"},
		{Key: "k", Version: 1, Origin: ""},
	}
	for i, msg := range cases {
		if _, err := p.Receive(msg); !errors.Is(err, ErrMalformedMessage) {
			t.Errorf("case %d: expected ErrMalformedMessage, got %v", i, err)
		}
	}
	if p.Keys() != 0 {
		t.Fatalf("malformed input must not touch state")
	}
}

func TestRoundShape(t *testing.T) {
	p := NewProtocol("n1", Config{Fanout: 2, MaxTransmissions: 3, Seed: 42})
	p.Update("a", []byte("1"))
	p.Update("b", []byte("2"))

	peers := []string{"n2", "n3", "n4"}
	out := p.Round(peers)

	// fanout peers x local keys, one message each.
	if len(out) != 4 {
		t.Fatalf("expected 2 peers x 2 keys = 4 messages, got %d", len(out))
	}
	seen := map[string]int{}
	for _, env := range out {
		if env.To == "n1" {
			t.Fatalf("round must not target self")
		}
		seen[env.To]++
		if env.Message.Origin != "n1" {
			t.Fatalf("origin not stamped")
		}
		if env.Message.TTL != 2 {
			t.Fatalf("ttl should be decremented from 3 to 2, got %d", env.Message.TTL)
		}
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 distinct targets without replacement, got %v", seen)
	}
}

func TestRoundEmptyPeersOrState(t *testing.T) {
	p := newTestProtocol("n1", 1)
	if out := p.Round(nil); out != nil {
		t.Fatalf("no peers: expected no messages")
	}
	if out := p.Round([]string{"n2"}); out != nil {
		t.Fatalf("no state: expected no messages")
	}
}

func TestGossipConvergence(t *testing.T) {
	// Three nodes, connected peer graph, fanout=1. One key updated on n1;
	// with no further writes every node ends up with an identical view.
	// ceil(log2(3))+1 rounds is the typical spread; the bound here is
	// generous because fanout=1 peer picks are random.
	nodes := map[string]*Protocol{
		"n1": newTestProtocol("n1", 101),
		"n2": newTestProtocol("n2", 102),
		"n3": newTestProtocol("n3", 103),
	}
	peersOf := map[string][]string{
		"n1": {"n2", "n3"},
		"n2": {"n1", "n3"},
		"n3": {"n1", "n2"},
	}
	ids := []string{"n1", "n2", "n3"}

	nodes["n1"].Update("k", []byte("v"))

	want := []byte("v")
	converged := func() bool {
		for _, p := range nodes {
			if got, ok := p.Get("k"); !ok || !bytes.Equal(got, want) {
				return false
			}
		}
		return true
	}

	rounds := 0
	for ; rounds < 12 && !converged(); rounds++ {
		var pending []Envelope
		for _, id := range ids {
			pending = append(pending, nodes[id].Round(peersOf[id])...)
		}
		// Deliver after all sends: simulates message passing, no shared memory.
		for _, env := range pending {
			if _, err := nodes[env.To].Receive(env.Message); err != nil {
				t.Fatalf("receive: %v", err)
			}
		}
	}

	if !converged() {
		t.Fatalf("no convergence after %d rounds", rounds)
	}
	for id, p := range nodes {
		if p.Version("k") != 1 {
			t.Fatalf("node %s version drifted: %d", id, p.Version("k"))
		}
	}
}

func TestSnapshotInstall(t *testing.T) {
	p := newTestProtocol("n1", 1)
	p.Update("a", []byte("1"))

	state, versions := p.Snapshot()
	state["a"] = []byte("mutated")
	versions["a"] = 99
	if v, _ := p.Get("a"); string(v) != "1" {
		t.Fatalf("snapshot must be a copy")
	}

	p.Install(map[string][]byte{"b": []byte("2")}, map[string]uint64{"b": 7})
	if _, ok := p.Get("a"); ok {
		t.Fatalf("install must replace the view")
	}
	if v := p.Version("b"); v != 7 {
		t.Fatalf("installed version lost: %d", v)
	}
}

func TestStateSnapshotCodec(t *testing.T) {
	in := StateSnapshot{
		NodeID:   "n1",
		State:    map[string][]byte{"k": []byte("v")},
		Versions: map[string]uint64{"k": 3},
	}
	data, err := EncodeSnapshot(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.NodeID != "n1" || out.Versions["k"] != 3 || !bytes.Equal(out.State["k"], []byte("v")) {
		t.Fatalf("roundtrip mismatch: %+v", out)
	}

	// A snapshot must name its sender.
	if _, err := DecodeSnapshot([]byte(`{"state":{},"versions":{}}`)); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage for missing node id, got %v", err)
	}
	// Every state key needs a version or heal arbitration is undefined.
	bad := StateSnapshot{NodeID: "n1", State: map[string][]byte{"k": []byte("v")}}
	if err := bad.Validate(); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage for versionless key, got %v", err)
	}
}

func TestMessageCodec(t *testing.T) {
	in := Message{Key: "k", Value: []byte("v"), Version: 3, Origin: "n1", TTL: 1}
	data, err := EncodeMessage(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Key != in.Key || out.Version != in.Version || out.Origin != in.Origin || out.TTL != in.TTL || !bytes.Equal(out.Value, in.Value) {
		t.Fatalf("roundtrip mismatch: %+v vs %+v", out, in)
	}

	if _, err := DecodeMessage([]byte("{not json")); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage for bad JSON, got %v", err)
	}
	if _, err := DecodeMessage([]byte(`{"key":"","version":1,"origin":"n1"}`)); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage for missing key, got %v", err)
	}
}
