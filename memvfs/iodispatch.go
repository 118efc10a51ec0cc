package memvfs

import (
	"encoding/binary"

	"github.com/dqlite-io/memvfs/vfs"
)

// mainDBOpaqueOffset is where the opaque (encryptable) region of a
// main-database page begins: bytes [0:16) magic/reserved and [16:18)
// page size stay in the clear so layout parsing never needs the key.
const mainDBOpaqueOffset = 18

var validPageSizes = map[int32]bool{
	512: true, 1024: true, 2048: true, 4096: true,
	8192: true, 16384: true, 32768: true, 65536: true,
}

// decodePageSize interprets bytes 16:18 of a main-database header,
// big-endian, with the stored value 1 meaning 65536 (I1).
func decodePageSize(hdr []byte) int32 {
	v := int32(binary.BigEndian.Uint16(hdr[16:18]))
	if v == 1 {
		return 65536
	}
	return v
}

// writeAt dispatches a Write call by content kind (spec §4.4).
func (c *content) writeAt(data []byte, off int64) error {
	switch c.kind {
	case kindMainDB:
		return c.writeMainDB(data, off)
	case kindWAL:
		return c.writeWAL(data, off)
	default:
		return c.writeBlob(data, off)
	}
}

func (c *content) writeMainDB(data []byte, off int64) error {
	if off == 0 && len(data) == dbHeaderSize {
		size := decodePageSize(data)
		if !validPageSizes[size] {
			return vfs.NewError("write", c.name, vfs.KindIOWrite, 0)
		}
		if c.pageSize == 0 {
			c.pageSize = size
			c.store = newPageStore(int(size))
			c.crypt = newPagecrypt(c.encryptKey)
		} else if c.pageSize != size {
			return vfs.NewError("write", c.name, vfs.KindIOWrite, 0) // I1: immutable
		}
		return nil
	}

	if c.pageSize == 0 || int32(len(data)) != c.pageSize || off < 0 || off%int64(c.pageSize) != 0 {
		return vfs.NewError("write", c.name, vfs.KindIOWrite, 0)
	}
	index := off / int64(c.pageSize)

	buf := make([]byte, len(data))
	copy(buf, data)
	if index == 0 {
		c.crypt.encryptInPlace(buf, mainDBOpaqueOffset, index) // bytes [18:) encrypted, header[0:18) clear
	} else {
		c.crypt.encryptInPlace(buf, 0, index)
	}

	if index == c.store.pageCount() {
		return c.store.append(index, buf)
	}
	if index < c.store.pageCount() {
		return c.store.update(index, buf)
	}
	return vfs.NewError("write", c.name, vfs.KindIOWrite, 0) // I2
}

func (c *content) writeWAL(data []byte, off int64) error {
	if c.walHeader == nil {
		if off != 0 || len(data) != walHeaderSize {
			return vfs.NewError("write", c.name, vfs.KindIOWrite, 0)
		}
		if c.mainDB == nil || c.mainDB.pageSize == 0 {
			return vfs.NewError("write", c.name, vfs.KindCorrupt, 0)
		}
		c.pageSize = c.mainDB.pageSize
		c.walHeader = append([]byte(nil), data...)
		c.store = newPageStore(walFrameHeaderSize + int(c.pageSize))
		c.crypt = newPagecrypt(c.encryptKey)
		return nil
	}

	frameUnit := int64(walFrameHeaderSize) + int64(c.pageSize)
	next := c.store.pageCount()
	frameOff := walHeaderSize + next*frameUnit

	if c.pendingFrameHeader == nil {
		if off != frameOff || len(data) != walFrameHeaderSize {
			return vfs.NewError("write", c.name, vfs.KindIOWrite, 0)
		}
		c.pendingFrameHeader = append([]byte(nil), data...)
		return nil
	}

	if off != frameOff+walFrameHeaderSize || int32(len(data)) != c.pageSize {
		return vfs.NewError("write", c.name, vfs.KindIOWrite, 0)
	}
	combined := make([]byte, walFrameHeaderSize+len(data))
	copy(combined, c.pendingFrameHeader)
	copy(combined[walFrameHeaderSize:], data)
	c.crypt.encryptInPlace(combined, walFrameHeaderSize, next)
	c.pendingFrameHeader = nil
	return c.store.append(next, combined)
}

func (c *content) writeBlob(data []byte, off int64) error {
	if off < 0 {
		return vfs.NewError("write", c.name, vfs.KindIOWrite, 0)
	}
	end := off + int64(len(data))
	if int64(len(c.blob)) < end {
		grown := make([]byte, end)
		copy(grown, c.blob)
		c.blob = grown
	}
	copy(c.blob[off:end], data)
	return nil
}

// readAt dispatches a Read call by content kind; returns ok=false
// (short-read) when any part of the request lies past the logical
// end (spec §4.4, I5 semantics, P5).
func (c *content) readAt(dst []byte, off int64) bool {
	switch c.kind {
	case kindMainDB:
		return c.readMainDB(dst, off)
	case kindWAL:
		return c.readWAL(dst, off)
	default:
		return c.readBlob(dst, off)
	}
}

func (c *content) readMainDB(dst []byte, off int64) bool {
	if c.store == nil {
		clearBytes(dst)
		return false
	}
	ok := c.store.read(off, dst)
	if !ok {
		return false
	}
	// Decrypt every page this read covers whole; a page only partly
	// covered is returned undecrypted.
	ps := int64(c.pageSize)
	for start := (off + ps - 1) / ps * ps; start+ps <= off+int64(len(dst)); start += ps {
		index := start / ps
		page := dst[start-off : start-off+ps]
		if index == 0 {
			c.crypt.decryptInPlace(page, mainDBOpaqueOffset, index)
		} else {
			c.crypt.decryptInPlace(page, 0, index)
		}
	}
	return true
}

func (c *content) readWAL(dst []byte, off int64) bool {
	total := c.fileSize()
	if off >= total {
		clearBytes(dst)
		return false
	}
	ok := true
	if off+int64(len(dst)) > total {
		ok = false
	}
	for i := range dst {
		pos := off + int64(i)
		if pos >= total {
			dst[i] = 0
			continue
		}
		if pos < walHeaderSize {
			dst[i] = c.walHeader[pos]
			continue
		}
		frameUnit := int64(walFrameHeaderSize) + int64(c.pageSize)
		rel := pos - walHeaderSize
		frameIdx := rel / frameUnit
		within := rel % frameUnit
		frame, found := c.store.page(frameIdx)
		if !found {
			dst[i] = 0
			continue
		}
		dst[i] = frame[within]
	}
	if ok && c.crypt != nil {
		// Decrypt, in dst, every frame payload this read covers whole.
		// Adiantum operates on a payload as one wide block, so a
		// payload only partly covered by the read is returned
		// undecrypted.
		frameUnit := int64(walFrameHeaderSize) + int64(c.pageSize)
		end := off + int64(len(dst))
		for idx := int64(0); ; idx++ {
			start := walHeaderSize + idx*frameUnit + walFrameHeaderSize
			if start+int64(c.pageSize) > end {
				break
			}
			if start >= off {
				c.crypt.decryptInPlace(dst[start-off:start-off+int64(c.pageSize)], 0, idx)
			}
		}
	}
	return ok
}

func (c *content) readBlob(dst []byte, off int64) bool {
	total := int64(len(c.blob))
	if off >= total {
		clearBytes(dst)
		return false
	}
	n := copy(dst, c.blob[off:])
	if n < len(dst) {
		clearBytes(dst[n:])
		return false
	}
	return true
}

func (c *content) truncateTo(size int64) error {
	switch c.kind {
	case kindMainDB:
		if c.pageSize == 0 {
			if size == 0 {
				return nil
			}
			return vfs.NewError("truncate", c.name, vfs.KindIOTruncate, 0)
		}
		if size%int64(c.pageSize) != 0 {
			return vfs.NewError("truncate", c.name, vfs.KindIOTruncate, 0)
		}
		if size > c.store.lenBytes() {
			return vfs.NewError("truncate", c.name, vfs.KindIOTruncate, 0) // I5: grow forbidden
		}
		if size == c.store.lenBytes() {
			return nil
		}
		keep := size / int64(c.pageSize)
		return c.shrinkPages(keep)
	case kindWAL:
		if size != 0 {
			return vfs.NewError("truncate", c.name, vfs.KindIOTruncate, 0)
		}
		c.walHeader = nil
		c.pendingFrameHeader = nil
		if c.store != nil {
			_ = c.store.truncate(0)
		}
		return nil
	case kindJournal, kindTemp:
		if size < 0 {
			size = 0
		}
		if size >= int64(len(c.blob)) {
			grown := make([]byte, size)
			copy(grown, c.blob)
			c.blob = grown
		} else {
			c.blob = c.blob[:size]
		}
		return nil
	default:
		return vfs.NewError("truncate", c.name, vfs.KindIOTruncate, 0)
	}
}

// shrinkPages drops every page at index >= keep, rebuilding the store
// since pageStore itself only knows how to go straight to empty.
func (c *content) shrinkPages(keep int64) error {
	if keep == 0 {
		return c.store.truncate(0)
	}
	next := newPageStore(int(c.pageSize))
	for i := int64(0); i < keep; i++ {
		page, _ := c.store.page(i)
		if err := next.append(i, page); err != nil {
			return err
		}
	}
	c.store = next
	return nil
}

func (c *content) fileSize() int64 {
	switch c.kind {
	case kindMainDB:
		if c.store == nil {
			return 0
		}
		return c.store.lenBytes()
	case kindWAL:
		if c.walHeader == nil {
			return 0
		}
		frames := int64(0)
		if c.store != nil {
			frames = c.store.pageCount()
		}
		return walHeaderSize + frames*(walFrameHeaderSize+int64(c.pageSize))
	default:
		return int64(len(c.blob))
	}
}
