package memvfs

import "github.com/dqlite-io/memvfs/vfs"

// shmRegionSize is the fixed size of one shared-memory region, per
// spec §6 (the host engine's WAL index is laid out in 32KiB slabs).
const shmRegionSize = 32768

// lockSlotCount is the number of byte-range lock slots in the shm lock
// table (spec §4.6, §6).
const lockSlotCount = 8

// lockSlot is one entry of the 8-slot lock table: a shared-holder
// count plus an exclusive-holder flag (I7).
type lockSlot struct {
	shared    int
	exclusive bool
}

// shm is the shared-memory side-channel for one main-database content,
// lazily allocated on first ShmMap. Its bytes are opaque to the VFS —
// the host engine treats them as a concurrent WAL index — but the
// slots array underneath is interpreted by this package to implement
// the byte-range lock table (spec §4.5/§4.6, §9 "locks are bookkeeping").
type shm struct {
	regions [][]byte
	slots   [lockSlotCount]lockSlot
}

func newShm() *shm { return &shm{} }

// ensure grows regions so that index is valid, zero-initializing any
// newly allocated slabs (spec §4.5: "zero-initialized memory").
func (s *shm) ensure(index int, size int32) {
	for len(s.regions) <= index {
		s.regions = append(s.regions, make([]byte, size))
	}
}

// region returns the region at index, allocating up to and including
// it when extend is true; when extend is false and the region does
// not yet exist, it returns nil without allocating (spec §4.5).
func (s *shm) region(index int, size int32, extend bool) []byte {
	if index < len(s.regions) {
		return s.regions[index]
	}
	if !extend {
		return nil
	}
	s.ensure(index, size)
	return s.regions[index]
}

// shmHandle is the per-File view onto a Content's shm: which lock
// slots this particular handle currently holds, in which mode. Unlock
// only ever releases slots this handle itself holds (I8).
type shmHandle struct {
	sharedHeld    [lockSlotCount]bool
	exclusiveHeld [lockSlotCount]bool
	mapped        bool
}

// lock applies a LOCK|SHARED or LOCK|EXCLUSIVE request for [offset,
// offset+n) against s, tracking acquisitions in h so a failure midway
// can be rolled back atomically (spec §4.6).
func (h *shmHandle) lock(s *shm, offset, n int, flags vfs.ShmFlag) error {
	shared := flags&vfs.SHM_SHARED != 0
	acquired := make([]int, 0, n)
	rollback := func() {
		for _, i := range acquired {
			if shared {
				s.slots[i].shared--
				h.sharedHeld[i] = false
			} else {
				s.slots[i].exclusive = false
				h.exclusiveHeld[i] = false
			}
		}
	}

	for i := offset; i < offset+n; i++ {
		if shared {
			if s.slots[i].exclusive {
				rollback()
				return vfs.NewError("shmlock", "", vfs.KindBusy, 0)
			}
			s.slots[i].shared++
			h.sharedHeld[i] = true
		} else {
			if s.slots[i].shared > 0 || s.slots[i].exclusive {
				rollback()
				return vfs.NewError("shmlock", "", vfs.KindBusy, 0)
			}
			s.slots[i].exclusive = true
			h.exclusiveHeld[i] = true
		}
		acquired = append(acquired, i)
	}
	return nil
}

// unlock releases a UNLOCK|SHARED or UNLOCK|EXCLUSIVE request for
// [offset, offset+n); slots this handle does not hold are silently
// skipped (I8).
func (h *shmHandle) unlock(s *shm, offset, n int, flags vfs.ShmFlag) {
	shared := flags&vfs.SHM_SHARED != 0
	for i := offset; i < offset+n; i++ {
		if shared {
			if h.sharedHeld[i] {
				s.slots[i].shared--
				h.sharedHeld[i] = false
			}
		} else {
			if h.exclusiveHeld[i] {
				s.slots[i].exclusive = false
				h.exclusiveHeld[i] = false
			}
		}
	}
}

// releaseAll drops every slot h holds, used when the owning File
// closes without having explicitly unlocked (mirrors the host
// engine's own connection-teardown path).
func (h *shmHandle) releaseAll(s *shm) {
	for i := 0; i < lockSlotCount; i++ {
		if h.sharedHeld[i] {
			s.slots[i].shared--
			h.sharedHeld[i] = false
		}
		if h.exclusiveHeld[i] {
			s.slots[i].exclusive = false
			h.exclusiveHeld[i] = false
		}
	}
}
