package memvfs

import (
	"github.com/dqlite-io/memvfs/vfs"
)

// file is one open handle onto a content (spec §3, §4.3). Multiple
// files may reference the same content; each tracks its own flags,
// traditional SQLite lock level, and — for main-database files — its
// own view of the shared-memory lock table.
type file struct {
	v       *VFS
	c       *content
	flags   vfs.OpenFlag
	lock    vfs.LockLevel
	shmView *shmHandle // lazily created on first ShmMap
	closed  bool
}

var (
	_ vfs.File          = (*file)(nil)
	_ vfs.FileShm       = (*file)(nil)
	_ vfs.FileLockState = (*file)(nil)
)

func (f *file) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.v.mu.Lock()
	defer f.v.mu.Unlock()

	if f.shmView != nil && f.c.shm != nil {
		f.shmView.releaseAll(f.c.shm)
	}
	f.c.refcount--
	if f.c.refcount == 0 && f.c.deleteOnClose {
		f.v.reg.remove(f.c.name)
	}
	f.v.logger().Debugf("memvfs: close %q (refcount=%d)", f.c.name, f.c.refcount)
	return nil
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	f.v.mu.Lock()
	defer f.v.mu.Unlock()
	ok := f.c.readAt(p, off)
	if !ok {
		return len(p), vfs.NewError("read", f.c.name, vfs.KindIOShortRead, 0)
	}
	return len(p), nil
}

func (f *file) WriteAt(p []byte, off int64) (int, error) {
	f.v.mu.Lock()
	defer f.v.mu.Unlock()
	if err := f.c.writeAt(p, off); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (f *file) Truncate(size int64) error {
	f.v.mu.Lock()
	defer f.v.mu.Unlock()
	if err := f.c.truncateTo(size); err != nil {
		return err
	}
	return nil
}

func (f *file) Sync(vfs.SyncFlag) error { return nil }

func (f *file) Size() (int64, error) {
	f.v.mu.Lock()
	defer f.v.mu.Unlock()
	return f.c.fileSize(), nil
}

// Lock/Unlock implement the traditional SQLite file-locking state
// machine. Per spec §5, this VFS instance is always driven
// cooperatively (never concurrently) so there is nothing to actually
// block on; the levels are bookkeeping that lets the host engine's own
// multi-connection protocol observe what other Files of the same
// Content currently hold (spec §9).
func (f *file) Lock(level vfs.LockLevel) error {
	f.v.mu.Lock()
	defer f.v.mu.Unlock()
	if f.lock >= level {
		return nil
	}
	f.lock = level
	return nil
}

func (f *file) Unlock(level vfs.LockLevel) error {
	f.v.mu.Lock()
	defer f.v.mu.Unlock()
	if f.lock <= level {
		return nil
	}
	f.lock = level
	return nil
}

func (f *file) CheckReservedLock() (bool, error) {
	f.v.mu.Lock()
	defer f.v.mu.Unlock()
	return f.lock >= vfs.LOCK_RESERVED, nil
}

func (f *file) LockState() vfs.LockLevel { return f.lock }

func (f *file) SectorSize() int { return int(max32(f.c.pageSize, 512)) }

func (f *file) DeviceCharacteristics() vfs.DeviceCharacteristic {
	return vfs.IOCAP_ATOMIC |
		vfs.IOCAP_SEQUENTIAL |
		vfs.IOCAP_SAFE_APPEND |
		vfs.IOCAP_POWERSAFE_OVERWRITE
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

// --- Shared memory / lock table (spec §4.5/§4.6) ---

func (f *file) ShmMap(index int, size int32, extend bool) ([]byte, error) {
	f.v.mu.Lock()
	defer f.v.mu.Unlock()

	if f.c.kind != kindMainDB {
		return nil, vfs.NewError("shmmap", f.c.name, vfs.KindIO, 0)
	}
	if f.c.shm == nil {
		if !extend {
			return nil, nil
		}
		f.c.shm = newShm()
	}
	if f.shmView == nil {
		f.shmView = &shmHandle{}
	}
	region := f.c.shm.region(index, size, extend)
	if region != nil {
		f.shmView.mapped = true
	}
	return region, nil
}

func (f *file) ShmLock(offset, n int, flags vfs.ShmFlag) error {
	f.v.mu.Lock()
	defer f.v.mu.Unlock()

	if f.c.shm == nil || f.shmView == nil {
		return vfs.NewError("shmlock", f.c.name, vfs.KindIO, 0)
	}
	if flags&vfs.SHM_UNLOCK != 0 {
		f.shmView.unlock(f.c.shm, offset, n, flags)
		return nil
	}
	if err := f.shmView.lock(f.c.shm, offset, n, flags); err != nil {
		return err
	}
	return nil
}

func (f *file) ShmBarrier() {
	// Single-threaded-per-instance cooperative model (spec §5): writes
	// through one File are already immediately visible to reads
	// through any other File of the same Content, so there is no
	// memory barrier to actually issue.
}

func (f *file) ShmUnmap(delete bool) error {
	f.v.mu.Lock()
	defer f.v.mu.Unlock()

	if f.shmView != nil && f.c.shm != nil {
		f.shmView.releaseAll(f.c.shm)
		f.shmView.mapped = false
	}
	if delete {
		f.c.shm = nil
	}
	return nil
}
