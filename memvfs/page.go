package memvfs

import (
	"github.com/edofic/go-ordmap/v2"

	"github.com/dqlite-io/memvfs/vfs"
)

// pageStore is an append-only, page-indexed buffer for one logical
// file. It is the Go-native equivalent of the teacher's sector map in
// vfs/ordmap-mvcc/memdb.go, generalized from a fixed 64KiB sector to an
// arbitrary caller-chosen unit size (a database page, or a WAL frame =
// 24-byte header + page payload) and from byte-granular random writes
// to the strict-append-in-order discipline the host engine's page
// cache actually exercises (spec I2/I3).
//
// Pages are kept in a persistent ordered map so that a pageStore value
// can be cheaply forked (copy-on-write) if a future caller needs
// point-in-time snapshots; the current facade always mutates in place
// but nothing here prevents sharing the underlying nodes.
type pageStore struct {
	unit  int // bytes per page/frame; fixed by newPageStore
	pages ordmap.NodeBuiltin[int64, []byte]
	count int64
}

func newPageStore(unit int) *pageStore {
	return &pageStore{unit: unit, pages: ordmap.NewBuiltin[int64, []byte]()}
}

// append adds a new page at index, which must equal the current page
// count (strict sequential growth, I2/I3).
func (s *pageStore) append(index int64, payload []byte) error {
	if index != s.count {
		return vfs.NewError("write", "", vfs.KindIOWrite, 0)
	}
	buf := make([]byte, s.unit)
	copy(buf, payload)
	s.pages = s.pages.Insert(index, buf)
	s.count++
	return nil
}

// update overwrites an existing page; it never extends the store.
func (s *pageStore) update(index int64, payload []byte) error {
	if index < 0 || index >= s.count {
		return vfs.NewError("write", "", vfs.KindIOWrite, 0)
	}
	buf := make([]byte, s.unit)
	copy(buf, payload)
	s.pages = s.pages.Insert(index, buf)
	return nil
}

// read copies the logical byte range [offset, offset+len(dst)) into
// dst. Any portion past the logical end-of-file is zero-filled and the
// call reports short-read via ok=false; reads fully within the
// populated range report ok=true.
func (s *pageStore) read(offset int64, dst []byte) (ok bool) {
	total := s.lenBytes()
	if offset >= total {
		clearBytes(dst)
		return false
	}

	ok = true
	end := offset + int64(len(dst))
	if end > total {
		ok = false
	}

	for i := range dst {
		pos := offset + int64(i)
		if pos >= total {
			dst[i] = 0
			continue
		}
		pageIdx := pos / int64(s.unit)
		within := pos % int64(s.unit)
		page, found := s.pages.Get(pageIdx)
		if !found || within >= int64(len(page)) {
			dst[i] = 0
			continue
		}
		dst[i] = page[within]
	}
	return ok
}

// truncate drops every page once size==0; any other size is rejected
// by callers before reaching here (I5/I3 enforce the legal sizes, this
// store only knows how to go to zero or leave things alone).
func (s *pageStore) truncate(size int64) error {
	if size != 0 {
		return vfs.NewError("truncate", "", vfs.KindIOTruncate, 0)
	}
	s.pages = ordmap.NewBuiltin[int64, []byte]()
	s.count = 0
	return nil
}

func (s *pageStore) lenBytes() int64 { return s.count * int64(s.unit) }

func (s *pageStore) pageCount() int64 { return s.count }

func (s *pageStore) page(index int64) ([]byte, bool) { return s.pages.Get(index) }

func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
