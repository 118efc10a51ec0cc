// Package vfs defines the filesystem contract that a host SQL engine
// drives to operate against a storage backend: named virtual
// filesystems, open file handles, byte-range locks, and the
// shared-memory side channel used for write-ahead-log coordination.
//
// The contract mirrors the one SQLite's own C VFS layer exposes to the
// engine, translated into Go interfaces so that a pure-Go backend (such
// as package memvfs) can be registered and driven without cgo.
package vfs

import (
	"sync"
	"time"
)

// OpenFlag mirrors the flags an engine passes to VFS.Open.
type OpenFlag uint32

const (
	OPEN_READONLY OpenFlag = 0x00000001
	OPEN_READWRITE OpenFlag = 0x00000002
	OPEN_CREATE    OpenFlag = 0x00000004
	OPEN_EXCLUSIVE OpenFlag = 0x00000010
	OPEN_DELETEONCLOSE OpenFlag = 0x00000008

	OPEN_MAIN_DB      OpenFlag = 0x00000100
	OPEN_MAIN_JOURNAL OpenFlag = 0x00000800
	OPEN_TEMP_DB      OpenFlag = 0x00000200
	OPEN_TEMP_JOURNAL OpenFlag = 0x00001000
	OPEN_WAL          OpenFlag = 0x00080000

	// OPEN_MEMORY is OR'd into the returned flags by a backend (never
	// passed in by the engine) to signal that the file is entirely
	// backed by memory and needs no directory sync on create/delete.
	OPEN_MEMORY OpenFlag = 0x00008000
)

// LockLevel is the SQLite locking-protocol level for a single File.
type LockLevel int

const (
	LOCK_NONE LockLevel = iota
	LOCK_SHARED
	LOCK_RESERVED
	LOCK_PENDING
	LOCK_EXCLUSIVE
)

// AccessFlag selects what VFS.Access checks for.
type AccessFlag uint32

const (
	ACCESS_EXISTS AccessFlag = iota
	ACCESS_READWRITE
	ACCESS_READ
)

// SyncFlag qualifies a File.Sync call; the in-memory backend ignores it.
type SyncFlag uint32

const (
	SYNC_NORMAL   SyncFlag = 0x00002
	SYNC_FULL     SyncFlag = 0x00003
	SYNC_DATAONLY SyncFlag = 0x00010
)

// DeviceCharacteristic advertises properties of the storage device.
type DeviceCharacteristic uint32

const (
	IOCAP_ATOMIC               DeviceCharacteristic = 0x00000001
	IOCAP_SEQUENTIAL           DeviceCharacteristic = 0x00000008
	IOCAP_SAFE_APPEND          DeviceCharacteristic = 0x00000100
	IOCAP_POWERSAFE_OVERWRITE  DeviceCharacteristic = 0x00001000
	IOCAP_UNDELETABLE_WHEN_OPEN DeviceCharacteristic = 0x00000800
)

// ShmFlag is the action/mode requested of File.ShmLock.
type ShmFlag uint32

const (
	SHM_LOCK ShmFlag = 1 << iota
	SHM_UNLOCK
	SHM_SHARED
	SHM_EXCLUSIVE
)

// FcntlOpcode is a File.FileControl selector. Only the opcodes this
// backend needs to recognize are enumerated; unknown opcodes must be
// reported as not-found so the engine falls back to its defaults.
type FcntlOpcode int

const (
	FCNTL_PRAGMA FcntlOpcode = iota
)

// File is one open handle onto a named Content. Implementations are
// driven from a single goroutine at a time per the engine's
// cooperative single-threaded-per-connection model; no method needs to
// guard against concurrent calls through the *same* handle, only
// across distinct handles on the same underlying Content.
type File interface {
	Close() error
	ReadAt(p []byte, off int64) (n int, err error)
	WriteAt(p []byte, off int64) (n int, err error)
	Truncate(size int64) error
	Sync(flag SyncFlag) error
	Size() (int64, error)
	Lock(lock LockLevel) error
	Unlock(lock LockLevel) error
	CheckReservedLock() (bool, error)
	FileControl(op FcntlOpcode, arg string) (result string, err error)
	SectorSize() int
	DeviceCharacteristics() DeviceCharacteristic
}

// FileShm is implemented by Files opened against a Content kind that
// supports the shared-memory side channel (main database files only).
type FileShm interface {
	ShmMap(index int, size int32, extend bool) (region []byte, err error)
	ShmLock(offset, n int, flags ShmFlag) error
	ShmBarrier()
	ShmUnmap(delete bool) error
}

// FileLockState exposes a File's current lock level, used by tests and
// by diagnostics; optional.
type FileLockState interface {
	LockState() LockLevel
}

// VFS is a named virtual filesystem instance driven by the host engine.
type VFS interface {
	Open(name string, flags OpenFlag) (File, OpenFlag, error)
	Delete(name string, syncDir bool) error
	Access(name string, flag AccessFlag) (bool, error)
	FullPathname(name string) (string, error)
	Randomness(p []byte) (n int)
	Sleep(d time.Duration) (slept time.Duration)
	CurrentTime() (julianDay float64)
	GetLastError() (errno int)
}

// registry is the process-wide table of named VFS implementations,
// mirroring SQLite's sqlite3_vfs_register. registryMu guards it, since
// Register/Unregister run on every memvfs.New/Close and must tolerate
// concurrent construction/teardown the same way the teacher's own
// memoryMtx guards memoryDBs in vfs/ordmap-mvcc/api.go.
var (
	registryMu sync.Mutex
	registry   = map[string]VFS{}
)

// Register makes vfs available under name for later lookup with Find.
// Registering under a name that already exists replaces the previous
// registration, matching SQLite's own semantics for re-registration.
func Register(name string, vfs VFS) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = vfs
}

// Find returns the VFS registered under name, or nil if none was.
func Find(name string) VFS {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry[name]
}

// Unregister removes name from the registry, if present.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, name)
}
