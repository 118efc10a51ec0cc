package memvfs

import (
	"strings"

	"github.com/dqlite-io/memvfs/vfs"
)

// contentKind discriminates the logical role of a Content, which
// determines how Read/Write/Truncate/FileSize are dispatched (spec §4.4).
type contentKind int

const (
	kindMainDB contentKind = iota
	kindWAL
	kindJournal
	kindTemp
	kindOther
)

func (k contentKind) String() string {
	switch k {
	case kindMainDB:
		return "main-db"
	case kindWAL:
		return "wal"
	case kindJournal:
		return "journal"
	case kindTemp:
		return "temp"
	default:
		return "other"
	}
}

// kindForName classifies a filename by suffix, per the naming
// convention in spec §6: X is a main database, X-wal its write-ahead
// log, X-journal its rollback journal. Every name without one of those
// two suffixes is classified as a main database; kindOther is never
// returned here.
func kindForName(name string) contentKind {
	switch {
	case strings.HasSuffix(name, "-wal"):
		return kindWAL
	case strings.HasSuffix(name, "-journal"):
		return kindJournal
	default:
		return kindMainDB
	}
}

// mainDBName strips the "-wal" suffix, per I4.
func mainDBName(walName string) string {
	return strings.TrimSuffix(walName, "-wal")
}

const walHeaderSize = 32
const walFrameHeaderSize = 24
const dbHeaderSize = 100

// content is the authoritative in-memory representation of one logical
// file: main database, WAL, journal, or temp. Multiple Files may share
// one content; it is owned by the registry and referenced, not copied,
// by every File opened against it (spec §9, "no-ownership aliasing").
type content struct {
	name string
	kind contentKind

	pageSize int32 // immutable once set (I1); 0 means "not yet derived"
	store    *pageStore

	// walHeader holds the 32-byte WAL global header bytes once written.
	// writeWAL sizes the frame store from the main-db's page size; the
	// header's page-size field (bytes 10:12) is only read when FileWrite
	// restores a WAL snapshot.
	walHeader           []byte
	pendingFrameHeader  []byte // 24-byte frame header awaiting its payload (WAL only)
	mainDB              *content // WAL only: the main-db content this WAL belongs to (I4)

	blob []byte // journal/temp only: byte-granular growable buffer

	shm *shm // only ever non-nil for kindMainDB

	refcount      int
	deleteOnClose bool

	encryptKey []byte     // nil unless the owning VFS was built WithEncryptionKey
	crypt      *pagecrypt // derived from encryptKey once page_size is known
}

func newContent(name string, kind contentKind, encryptKey []byte) *content {
	return &content{name: name, kind: kind, encryptKey: encryptKey}
}

// registry maps filename to content within one VFS instance and
// enforces the cross-file coordination rules of spec §4.2.
type registry struct {
	byName map[string]*content
	max    int
	mix    *presenceFilter
}

func newRegistry(max int) *registry {
	return &registry{byName: make(map[string]*content), max: max, mix: newPresenceFilter()}
}

func (r *registry) find(name string) *content {
	if !r.mix.mayContain(name) {
		return nil
	}
	return r.byName[name]
}

// create adds a new content for name. It is called by VFS.Open
// (memvfs.go) once CREATE was requested and no Content by this name
// exists yet, and by VFS.FileWrite when restoring a name that is not
// registered; it applies the WAL-requires-main-db precondition (I4)
// and the live-content cap (64 by default, §4.2).
func (r *registry) create(name string, kind contentKind, encryptKey []byte) (*content, error) {
	var mainDB *content
	if kind == kindWAL {
		base := mainDBName(name)
		mainDB = r.find(base)
		if mainDB == nil {
			return nil, vfs.NewError("open", name, vfs.KindCorrupt, 0)
		}
	}
	if len(r.byName) >= r.max {
		return nil, vfs.NewError("open", name, vfs.KindCantOpen, vfs.ENFILE)
	}
	c := newContent(name, kind, encryptKey)
	c.mainDB = mainDB
	r.byName[name] = c
	r.mix.add(name)
	return c, nil
}

func (r *registry) remove(name string) {
	delete(r.byName, name)
	// The presence filter is not shrunk on remove (it is a
	// may-contain structure); a stale positive only ever costs one
	// extra, harmless map lookup in find.
}

func (r *registry) names() []string {
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	return out
}
