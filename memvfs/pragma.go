package memvfs

import (
	"strconv"
	"strings"

	"github.com/dqlite-io/memvfs/vfs"
)

// FileControl implements the host-engine journaling restriction of
// spec §4.8: this backend is only ever meant to run in WAL mode at its
// native page size, so it rejects any attempt to change either after
// the fact, while accepting a no-op "set to the value it already has"
// as a pass-through to the engine's own default handling (the
// not-found convention, spec §4.7).
//
// arg is encoded "name=value", mirroring the argv[0]/argv[1] pair
// SQLite's xFileControl(FCNTL_PRAGMA, ...) passes.
func (f *file) FileControl(op vfs.FcntlOpcode, arg string) (string, error) {
	if op != vfs.FCNTL_PRAGMA {
		return "", vfs.NewError("filecontrol", f.c.name, vfs.KindNotFound, 0)
	}

	name, value, _ := strings.Cut(arg, "=")
	switch name {
	case "page_size":
		return f.pragmaPageSize(value)
	case "journal_mode":
		return f.pragmaJournalMode(value)
	default:
		return "", vfs.NewError("filecontrol", f.c.name, vfs.KindNotFound, 0)
	}
}

func (f *file) pragmaPageSize(value string) (string, error) {
	requested, err := strconv.Atoi(value)
	if err != nil {
		return "", vfs.NewError("filecontrol", f.c.name, vfs.KindIO, 0)
	}
	f.v.mu.Lock()
	defer f.v.mu.Unlock()

	if f.c.pageSize == 0 || int32(requested) == f.c.pageSize {
		return "", vfs.NewError("filecontrol", f.c.name, vfs.KindNotFound, 0)
	}
	return "", vfs.NewError("filecontrol", f.c.name, vfs.KindIO, 0)
}

func (f *file) pragmaJournalMode(value string) (string, error) {
	if strings.EqualFold(value, "wal") {
		return "wal", nil
	}
	return "", vfs.NewError("filecontrol", f.c.name, vfs.KindIO, 0)
}
