// Package digest summarizes a gossip state snapshot into a single value so
// two nodes can detect divergence with one comparison before paying for a
// full heal.
package digest

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/spaolacci/murmur3"
)

// Sum computes a deterministic digest over the state and version maps.
// Keys are visited in sorted order so map iteration order never leaks in.
// The sha256 image is folded through murmur3 for a compact comparable
// value with good diffusion.
func Sum(state map[string][]byte, versions map[string]uint64) uint64 {
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	var buf [8]byte
	for _, k := range keys {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(k)))
		h.Write(buf[:])
		h.Write([]byte(k))
		binary.LittleEndian.PutUint64(buf[:], versions[k])
		h.Write(buf[:])
		v := state[k]
		binary.LittleEndian.PutUint64(buf[:], uint64(len(v)))
		h.Write(buf[:])
		h.Write(v)
	}
	return murmur3.Sum64(h.Sum(nil))
}
