// Package memvfs implements the CORE of this repository: a pluggable,
// pure in-memory backend satisfying the vfs.VFS/vfs.File contract that
// a host SQL engine drives as its storage layer. It keeps the full
// durable state of a database — main pages, WAL frames, the
// shared-memory WAL index, and the byte-range lock table that
// coordinates concurrently open handles — purely in process memory,
// while enforcing the same binary layouts and write-ordering
// invariants the engine assumes when talking to a real disk.
package memvfs

import (
	"crypto/rand"
	"hash/crc32"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ncruces/julianday"
	ncrsort "github.com/ncruces/sort"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/text/unicode/norm"

	"github.com/dqlite-io/memvfs/vfs"
)

// VFS is one named in-memory virtual filesystem instance (spec's
// VfsInstance). It owns a Content registry and is safe for concurrent
// use by multiple goroutines, even though the contract it implements
// assumes a single caller drives it cooperatively (spec §5) — the
// locking here is defensive, not load-bearing for correctness under
// the contract's own ordering model.
type VFS struct {
	name string
	cfg  config

	mu  sync.Mutex
	reg *registry

	rand   *chacha20.Cipher
	randMu sync.Mutex

	lastErrno sync.Map // callerToken() -> int errno (one shared token)
}

var _ vfs.VFS = (*VFS)(nil)

// New constructs a VFS and registers it under name so the host engine
// can select it by name (vfs.Find), mirroring the teacher's own
// vfs.Register("ordmapmvcc", memVFS{}) pattern generalized to
// caller-chosen names and options.
func New(name string, opts ...Option) (*VFS, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	v := &VFS{
		name: name,
		cfg:  cfg,
		reg:  newRegistry(cfg.maxContents),
	}

	seed := make([]byte, chacha20.KeySize+chacha20.NonceSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, vfs.NewError("init", name, vfs.KindNoMem, 0)
	}
	cipher, err := chacha20.NewUnauthenticatedCipher(seed[:chacha20.KeySize], seed[chacha20.KeySize:])
	if err != nil {
		return nil, vfs.NewError("init", name, vfs.KindNoMem, 0)
	}
	v.rand = cipher

	vfs.Register(name, v)
	return v, nil
}

// Close unregisters the instance's name (mirrors VfsClose in spec §3).
// It does not release the instance's Contents: Files still open
// against it keep working on the same in-memory state.
func (v *VFS) Close() error {
	vfs.Unregister(v.name)
	return nil
}

func (v *VFS) logger() Logger { return v.cfg.logger }

func normalizeName(name string) string { return norm.NFC.String(name) }

// Open implements the §4.3 protocol.
func (v *VFS) Open(name string, flags vfs.OpenFlag) (vfs.File, vfs.OpenFlag, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if name == "" {
		c := newContent("temp-"+uuid.NewString(), kindTemp, v.cfg.encryptKey)
		c.refcount = 1
		c.deleteOnClose = true
		v.logger().Debugf("memvfs: open anonymous temp %q", c.name)
		return &file{v: v, c: c, flags: flags | vfs.OPEN_DELETEONCLOSE}, flags | vfs.OPEN_MEMORY | vfs.OPEN_DELETEONCLOSE, nil
	}

	name = normalizeName(name)
	c := v.reg.find(name)

	if flags&vfs.OPEN_EXCLUSIVE != 0 && flags&vfs.OPEN_CREATE != 0 && c != nil {
		v.recordErrno(vfs.EEXIST)
		return nil, flags, vfs.NewError("open", name, vfs.KindCantOpen, vfs.EEXIST)
	}
	if c == nil && flags&vfs.OPEN_CREATE == 0 {
		v.recordErrno(vfs.ENOENT)
		return nil, flags, vfs.NewError("open", name, vfs.KindCantOpen, vfs.ENOENT)
	}
	if c == nil {
		kind := kindForName(name)
		created, err := v.reg.create(name, kind, v.cfg.encryptKey)
		if err != nil {
			if verr, ok := err.(*vfs.Error); ok {
				v.recordErrno(verr.Errno)
			}
			return nil, flags, err
		}
		c = created
	}

	c.refcount++
	v.logger().Debugf("memvfs: open %q kind=%s refcount=%d", name, c.kind, c.refcount)
	return &file{v: v, c: c, flags: flags}, flags | vfs.OPEN_MEMORY, nil
}

// Delete implements spec §4.7: requires no open handles (I6).
func (v *VFS) Delete(name string, _ bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	name = normalizeName(name)
	c := v.reg.find(name)
	if c == nil {
		v.recordErrno(vfs.ENOENT)
		return vfs.NewError("delete", name, vfs.KindIODeleteNoent, vfs.ENOENT)
	}
	if c.refcount > 0 {
		v.recordErrno(vfs.EBUSY)
		return vfs.NewError("delete", name, vfs.KindIODeleteBusy, vfs.EBUSY)
	}
	v.reg.remove(name)
	v.logger().Debugf("memvfs: delete %q", name)
	return nil
}

// Access reports whether name is a registered Content.
func (v *VFS) Access(name string, _ vfs.AccessFlag) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reg.find(normalizeName(name)) != nil, nil
}

// FullPathname returns name unchanged (spec §4.7): this backend has no
// concept of directories or relative paths.
func (v *VFS) FullPathname(name string) (string, error) { return name, nil }

// CurrentTime returns the wall clock as a Julian-day float, using the
// same library the teacher depends on for this exact purpose.
func (v *VFS) CurrentTime() float64 {
	return julianday.Float(v.cfg.clock.Now())
}

// Sleep reports the requested duration without actually sleeping: this
// backend's I/O is in-memory and synchronous, so there is nothing to
// wait on (spec §9 Open Question b).
func (v *VFS) Sleep(d time.Duration) time.Duration { return d }

// Randomness fills p from a chacha20 keystream seeded once from
// crypto/rand at construction (spec §4.12): cheap and non-blocking,
// adequate for the host engine's ROWID/vacuum-salt use without
// spending a syscall per call.
func (v *VFS) Randomness(p []byte) int {
	v.randMu.Lock()
	defer v.randMu.Unlock()
	clearBytes(p)
	v.rand.XORKeyStream(p, p)
	return len(p)
}

// GetLastError returns the most recent non-zero advisory OS errno
// recorded by a failing facade entry point on this VFS, whichever
// goroutine made that call (a single callerToken is shared; spec §9
// Open Question a). It returns 0 if none has been recorded.
func (v *VFS) GetLastError() int {
	if val, ok := v.lastErrno.Load(callerToken()); ok {
		return val.(int)
	}
	return 0
}

func (v *VFS) recordErrno(errno int) {
	if errno != 0 {
		v.lastErrno.Store(callerToken(), errno)
	}
}

// Contents returns a name-sorted snapshot of every currently
// registered Content, for diagnostics and tests.
func (v *VFS) Contents() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	names := v.reg.names()
	ncrsort.Sort(names)
	return names
}

// FileRead snapshots a named Content's logical bytes into a freshly
// allocated buffer, appending a CRC32C (Castagnoli) trailer that
// FileWrite verifies if present (spec §4.7, §4.13). An empty Content
// returns a nil buffer; an absent one is cant-open.
func (v *VFS) FileRead(name string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	c := v.reg.find(normalizeName(name))
	if c == nil {
		return nil, vfs.NewError("fileread", name, vfs.KindCantOpen, vfs.ENOENT)
	}

	size := c.fileSize()
	if size == 0 {
		return nil, nil
	}

	buf := make([]byte, size)
	c.readAt(buf, 0)

	sum := crc32.Checksum(buf, castagnoliTable)
	out := make([]byte, len(buf)+4)
	copy(out, buf)
	out[len(buf)] = byte(sum >> 24)
	out[len(buf)+1] = byte(sum >> 16)
	out[len(buf)+2] = byte(sum >> 8)
	out[len(buf)+3] = byte(sum)
	return out, nil
}

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// FileWrite atomically replaces name's contents with buf, used to
// restore a snapshot received over consensus. If buf carries the
// trailer FileRead appends, it is verified and stripped first; legacy
// callers that pass a bare byte stream (no trailer) are still accepted
// (spec round-trip property, P6).
func (v *VFS) FileWrite(name string, buf []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	payload := stripTrailerIfValid(buf)

	kind := kindForName(normalizeName(name))
	c := v.reg.find(normalizeName(name))
	if c == nil {
		created, err := v.reg.create(normalizeName(name), kind, v.cfg.encryptKey)
		if err != nil {
			return err
		}
		c = created
	}

	fresh := newContent(c.name, c.kind, v.cfg.encryptKey)
	if err := restoreContent(fresh, payload); err != nil {
		return err
	}
	// Swap the restored state into the registered content itself, so
	// Files already open on name see the new bytes and its refcount,
	// shm and WAL-to-main-db link stay as they were.
	c.pageSize = fresh.pageSize
	c.store = fresh.store
	c.crypt = fresh.crypt
	c.walHeader = fresh.walHeader
	c.pendingFrameHeader = nil
	c.blob = fresh.blob
	v.logger().Debugf("memvfs: filewrite %q (%d bytes)", name, len(payload))
	return nil
}

func stripTrailerIfValid(buf []byte) []byte {
	if len(buf) < 4 {
		return buf
	}
	body, trailer := buf[:len(buf)-4], buf[len(buf)-4:]
	want := uint32(trailer[0])<<24 | uint32(trailer[1])<<16 | uint32(trailer[2])<<8 | uint32(trailer[3])
	if crc32.Checksum(body, castagnoliTable) == want {
		return body
	}
	return buf
}

// restoreContent rebuilds c's pages/frames from a flat byte stream,
// re-deriving page_size from the layout bytes rather than trusting any
// caller-asserted value (spec §4.7).
func restoreContent(c *content, data []byte) error {
	switch c.kind {
	case kindMainDB:
		if len(data) == 0 {
			return nil
		}
		if len(data) < dbHeaderSize {
			return vfs.NewError("filewrite", c.name, vfs.KindCorrupt, 0)
		}
		size := decodePageSize(data)
		if !validPageSizes[size] {
			return vfs.NewError("filewrite", c.name, vfs.KindCorrupt, 0)
		}
		c.pageSize = size
		c.store = newPageStore(int(size))
		c.crypt = newPagecrypt(c.encryptKey)
		for off := int64(0); off+int64(size) <= int64(len(data)); off += int64(size) {
			index := off / int64(size)
			buf := append([]byte(nil), data[off:off+int64(size)]...)
			if index == 0 {
				c.crypt.encryptInPlace(buf, mainDBOpaqueOffset, index)
			} else {
				c.crypt.encryptInPlace(buf, 0, index)
			}
			if err := c.store.append(index, buf); err != nil {
				return err
			}
		}
		return nil
	case kindWAL:
		if len(data) == 0 {
			return nil
		}
		if len(data) < walHeaderSize {
			return vfs.NewError("filewrite", c.name, vfs.KindCorrupt, 0)
		}
		// Bundled restore header carries page size at bytes 10:12,
		// big-endian, per spec §6.
		size := int32(uint16(data[10])<<8 | uint16(data[11]))
		if size == 1 {
			size = 65536
		}
		if !validPageSizes[size] {
			return vfs.NewError("filewrite", c.name, vfs.KindCorrupt, 0)
		}
		c.pageSize = size
		c.walHeader = append([]byte(nil), data[:walHeaderSize]...)
		c.store = newPageStore(walFrameHeaderSize + int(size))
		c.crypt = newPagecrypt(c.encryptKey)
		unit := int64(walFrameHeaderSize) + int64(size)
		for off := int64(walHeaderSize); off+unit <= int64(len(data)); off += unit {
			index := (off - walHeaderSize) / unit
			buf := append([]byte(nil), data[off:off+unit]...)
			c.crypt.encryptInPlace(buf, walFrameHeaderSize, index)
			if err := c.store.append(index, buf); err != nil {
				return err
			}
		}
		return nil
	default:
		c.blob = append([]byte(nil), data...)
		return nil
	}
}

// callerToken stands in for a per-OS-thread identity, which Go does
// not expose. It is deliberately a single shared token: this package's
// concurrency model (spec §5) is "one goroutine drives a VFS instance
// at a time", so GetLastError's practical contract is "the last error
// from the last facade call on this VFS", which a single token serves
// correctly in the intended usage and is documented as such in
// SPEC_FULL.md's Open Question resolution.
func callerToken() string { return "vfs" }
