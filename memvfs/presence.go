package memvfs

import (
	"math/bits"

	"github.com/dchest/siphash"
)

// presenceFilter is a small in-process Bloom filter over registered
// Content names, letting registry.find skip the map lookup entirely
// for names that were never registered — the common case when the
// host engine probes for journal/WAL siblings that don't exist yet
// (vfs.Access on "-journal", "-wal" before they're created). Sized for
// the 64-live-Content cap (spec §4.2): 512 bits, 3 hash probes keeps
// the false-positive rate low without ever needing to grow.
type presenceFilter struct {
	bits [8]uint64 // 512 bits
	k0   uint64
	k1   uint64
}

func newPresenceFilter() *presenceFilter {
	// Fixed, non-secret keys: this filter is a performance hint, not a
	// security boundary, so determinism across instances is fine and
	// simplifies testing.
	return &presenceFilter{k0: 0x646c71_6c697465, k1: 0x6d656d766673}
}

func (f *presenceFilter) probes(name string) (h1, h2, h3 uint32) {
	sum := siphash.Hash(f.k0, f.k1, []byte(name))
	lo, hi := uint32(sum), uint32(sum>>32)
	return lo % 512, hi % 512, bits.RotateLeft32(lo^hi, 11) % 512
}

func (f *presenceFilter) add(name string) {
	h1, h2, h3 := f.probes(name)
	f.set(h1)
	f.set(h2)
	f.set(h3)
}

func (f *presenceFilter) mayContain(name string) bool {
	h1, h2, h3 := f.probes(name)
	return f.get(h1) && f.get(h2) && f.get(h3)
}

func (f *presenceFilter) set(bit uint32) {
	f.bits[bit/64] |= 1 << (bit % 64)
}

func (f *presenceFilter) get(bit uint32) bool {
	return f.bits[bit/64]&(1<<(bit%64)) != 0
}
