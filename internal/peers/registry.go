// Package peers manages cluster membership inputs: a bbolt-backed registry
// so a restarted node rejoins with the peer set it already knew, and a
// hot-reloaded peers file for operator-driven membership changes.
package peers

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// ErrNotFound is returned when a peer ID is not in the registry.
var ErrNotFound = errors.New("peer not found")

var bucketPeers = []byte("peers")

// Peer identifies a cluster member and where the transport reaches it.
type Peer struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// Registry persists known peers in bbolt with a full in-memory cache.
// BoltDB over anything heavier: pure Go, single file, no daemon.
type Registry struct {
	mu    sync.RWMutex
	db    *bbolt.DB
	cache map[string]Peer
}

// Open opens (or creates) the registry database and warms the cache.
func Open(path string) (*Registry, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open peer registry: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPeers)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create peers bucket: %w", err)
	}

	r := &Registry{db: db, cache: make(map[string]Peer)}
	if err := r.warmCache(); err != nil {
		db.Close()
		return nil, fmt.Errorf("warm peer cache: %w", err)
	}
	return r, nil
}

func (r *Registry) warmCache() error {
	return r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPeers).ForEach(func(k, v []byte) error {
			var p Peer
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("decode peer %q: %w", k, err)
			}
			r.cache[p.ID] = p
			return nil
		})
	})
}

// Put stores or replaces a peer.
func (r *Registry) Put(p Peer) error {
	if p.ID == "" {
		return errors.New("peer id must not be empty")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal peer: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	err = r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPeers).Put([]byte(p.ID), data)
	})
	if err != nil {
		return fmt.Errorf("put peer: %w", err)
	}
	r.cache[p.ID] = p
	return nil
}

// Get returns the peer with the given ID.
func (r *Registry) Get(id string) (Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.cache[id]
	if !ok {
		return Peer{}, fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	return p, nil
}

// Remove deletes a peer; removing an unknown peer is a no-op.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPeers).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("remove peer: %w", err)
	}
	delete(r.cache, id)
	return nil
}

// List returns all known peers sorted by ID.
func (r *Registry) List() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, len(r.cache))
	for _, p := range r.cache {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns all known peer IDs sorted.
func (r *Registry) IDs() []string {
	list := r.List()
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.ID
	}
	return out
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}
