// Package gossip implements the anti-entropy half of the replication
// engine: a versioned key/value view disseminated by periodic, randomized
// exchange with a subset of peers. Conflict resolution here is
// last-writer-by-version, an independent path from CRDT merge.
package gossip

import (
	"context"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Config tunes the anti-entropy protocol.
type Config struct {
	// Fanout is how many peers each round targets.
	Fanout int
	// Interval between rounds; the engine owns the ticker.
	Interval time.Duration
	// MaxTransmissions is the relay budget a fresh update starts with.
	MaxTransmissions int
	// Seed makes peer selection reproducible; 0 seeds from the clock.
	Seed int64
}

func (c Config) withDefaults() Config {
	if c.Fanout <= 0 {
		c.Fanout = 3
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.MaxTransmissions <= 0 {
		c.MaxTransmissions = 3
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c
}

// Protocol holds one node's gossip state. Not goroutine-safe; the owning
// engine serializes access.
type Protocol struct {
	nodeID   string
	cfg      Config
	state    map[string][]byte
	versions map[string]uint64
	ttl      map[string]int
	rng      *rand.Rand

	applied   metric.Int64Counter
	stale     metric.Int64Counter
	malformed metric.Int64Counter
}

// NewProtocol creates the gossip state for one node.
func NewProtocol(nodeID string, cfg Config) *Protocol {
	cfg = cfg.withDefaults()
	meter := otel.Meter("syncd-gossip")
	applied, _ := meter.Int64Counter("syncd_gossip_applied_total")
	stale, _ := meter.Int64Counter("syncd_gossip_stale_total")
	malformed, _ := meter.Int64Counter("syncd_gossip_malformed_total")
	return &Protocol{
		nodeID:    nodeID,
		cfg:       cfg,
		state:     make(map[string][]byte),
		versions:  make(map[string]uint64),
		ttl:       make(map[string]int),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		applied:   applied,
		stale:     stale,
		malformed: malformed,
	}
}

// Config returns the effective configuration after defaulting.
func (p *Protocol) Config() Config { return p.cfg }

// Update records a local write: the value is stored and the key's version
// bumped so the next rounds carry it.
func (p *Protocol) Update(key string, value []byte) uint64 {
	p.state[key] = value
	p.versions[key]++
	p.ttl[key] = p.cfg.MaxTransmissions
	return p.versions[key]
}

// Round picks fanout peers uniformly at random without replacement and
// emits one message per local key to each. O(keys x fanout) by design;
// there is no delta compression. A slightly stale snapshot handed to the
// transport is fine because delivery is idempotent.
func (p *Protocol) Round(peers []string) []Envelope {
	if len(peers) == 0 || len(p.state) == 0 {
		return nil
	}
	targets := p.selectPeers(peers)

	// One relay-budget decrement per key per round, shared across targets.
	for key, remaining := range p.ttl {
		if remaining > 0 {
			p.ttl[key] = remaining - 1
		}
	}

	out := make([]Envelope, 0, len(targets)*len(p.state))
	for _, peer := range targets {
		for key, value := range p.state {
			out = append(out, Envelope{
				To: peer,
				Message: Message{
					Key:     key,
					Value:   value,
					Version: p.versions[key],
					Origin:  p.nodeID,
					TTL:     p.ttl[key],
				},
			})
		}
	}
	return out
}

// Receive applies a message iff it carries a newer version than the local
// view. Returns true when applied, false when stale. Stale is expected
// traffic, not an error; malformed input is dropped with an error.
func (p *Protocol) Receive(msg Message) (bool, error) {
	if err := msg.Validate(); err != nil {
		p.malformed.Add(context.Background(), 1)
		return false, err
	}
	if msg.Version <= p.versions[msg.Key] {
		p.stale.Add(context.Background(), 1)
		return false, nil
	}
	p.state[msg.Key] = msg.Value
	p.versions[msg.Key] = msg.Version
	p.ttl[msg.Key] = msg.TTL
	p.applied.Add(context.Background(), 1)
	return true, nil
}

// Snapshot copies the state and version maps for healing or digesting.
func (p *Protocol) Snapshot() (map[string][]byte, map[string]uint64) {
	state := make(map[string][]byte, len(p.state))
	for k, v := range p.state {
		state[k] = v
	}
	versions := make(map[string]uint64, len(p.versions))
	for k, v := range p.versions {
		versions[k] = v
	}
	return state, versions
}

// Install replaces the local view with a healed state/version map.
func (p *Protocol) Install(state map[string][]byte, versions map[string]uint64) {
	p.state = make(map[string][]byte, len(state))
	for k, v := range state {
		p.state[k] = v
	}
	p.versions = make(map[string]uint64, len(versions))
	for k, v := range versions {
		p.versions[k] = v
	}
}

// Get returns the gossip view of a key. The engine's reads go to the
// state machine; this accessor exists for introspection and tests.
func (p *Protocol) Get(key string) ([]byte, bool) {
	v, ok := p.state[key]
	return v, ok
}

// Version returns the local version counter for a key (0 if unseen).
func (p *Protocol) Version(key string) uint64 {
	return p.versions[key]
}

// Keys returns the number of keys in the gossip view.
func (p *Protocol) Keys() int { return len(p.state) }

// selectPeers shuffles a copy of the peer list and keeps the first fanout
// entries: uniform selection without replacement.
func (p *Protocol) selectPeers(peers []string) []string {
	k := p.cfg.Fanout
	if k > len(peers) {
		k = len(peers)
	}
	shuffled := make([]string, len(peers))
	copy(shuffled, peers)
	p.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:k]
}
