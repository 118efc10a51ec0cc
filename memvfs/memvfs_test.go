package memvfs

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/dqlite-io/memvfs/vfs"
)

func newTestVFS(t *testing.T, opts ...Option) *VFS {
	t.Helper()
	v, err := New(t.Name(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func mainDBHeader(pageSize uint16) []byte {
	buf := make([]byte, dbHeaderSize)
	buf[16] = byte(pageSize >> 8)
	buf[17] = byte(pageSize)
	return buf
}

// Scenario 1: exclusive open collision (spec §8).
func TestExclusiveOpenCollision(t *testing.T) {
	v := newTestVFS(t)

	_, _, err := v.Open("test.db", vfs.OPEN_CREATE|vfs.OPEN_MAIN_DB)
	require.NoError(t, err)

	_, _, err = v.Open("test.db", vfs.OPEN_CREATE|vfs.OPEN_EXCLUSIVE|vfs.OPEN_MAIN_DB)
	require.Error(t, err)
	var verr *vfs.Error
	require.True(t, errors.As(err, &verr))
	require.Equal(t, vfs.KindCantOpen, verr.Kind)
	require.Equal(t, vfs.EEXIST, verr.Errno)
}

// Scenario 2: the 65th open of a distinct name fails table-full.
func TestFileLimit(t *testing.T) {
	v := newTestVFS(t)

	for i := 0; i < 64; i++ {
		name := string(rune('a'+i%26)) + string(rune('A'+i/26))
		_, _, err := v.Open(name, vfs.OPEN_CREATE|vfs.OPEN_MAIN_DB)
		require.NoErrorf(t, err, "open #%d", i)
	}

	_, _, err := v.Open("one-too-many", vfs.OPEN_CREATE|vfs.OPEN_MAIN_DB)
	require.Error(t, err)
	var verr *vfs.Error
	require.True(t, errors.As(err, &verr))
	require.Equal(t, vfs.KindCantOpen, verr.Kind)
	require.Equal(t, vfs.ENFILE, verr.Errno)
}

// Scenario 3: WAL before DB is corruption.
func TestWALBeforeDB(t *testing.T) {
	v := newTestVFS(t)

	_, _, err := v.Open("test.db-wal", vfs.OPEN_CREATE|vfs.OPEN_WAL)
	require.Error(t, err)
	var verr *vfs.Error
	require.True(t, errors.As(err, &verr))
	require.Equal(t, vfs.KindCorrupt, verr.Kind)
}

// Scenario 4: page-size derivation from the first 100-byte write.
func TestPageSizeDerivation(t *testing.T) {
	v := newTestVFS(t)

	f, _, err := v.Open("test.db", vfs.OPEN_CREATE|vfs.OPEN_MAIN_DB)
	require.NoError(t, err)

	_, err = f.WriteAt(mainDBHeader(512), 0)
	require.NoError(t, err)

	size, err := f.Size()
	require.NoError(t, err)
	require.Zero(t, size, "no full page written yet")

	page := make([]byte, 512)
	copy(page, mainDBHeader(512))
	_, err = f.WriteAt(page, 0)
	require.NoError(t, err)

	size, err = f.Size()
	require.NoError(t, err)
	require.EqualValues(t, 512, size)
}

// I1: once page size is derived it cannot change.
func TestPageSizeImmutable(t *testing.T) {
	v := newTestVFS(t)
	f, _, err := v.Open("test.db", vfs.OPEN_CREATE|vfs.OPEN_MAIN_DB)
	require.NoError(t, err)

	_, err = f.WriteAt(mainDBHeader(512), 0)
	require.NoError(t, err)

	_, err = f.WriteAt(mainDBHeader(1024), 0)
	require.Error(t, err)

	_, err = f.WriteAt(mainDBHeader(512), 0)
	require.NoError(t, err, "re-asserting the same page size is a no-op")
}

// Scenario 5: WAL frame layout and byte-exact frame reads.
func TestWALFrameLayout(t *testing.T) {
	v := newTestVFS(t)

	db, _, err := v.Open("test.db", vfs.OPEN_CREATE|vfs.OPEN_MAIN_DB)
	require.NoError(t, err)
	_, err = db.WriteAt(mainDBHeader(512), 0)
	require.NoError(t, err)
	page := make([]byte, 512)
	copy(page, mainDBHeader(512))
	_, err = db.WriteAt(page, 0)
	require.NoError(t, err)

	wal, _, err := v.Open("test.db-wal", vfs.OPEN_CREATE|vfs.OPEN_WAL)
	require.NoError(t, err)

	_, err = wal.WriteAt(make([]byte, walHeaderSize), 0)
	require.NoError(t, err)

	frame0Header := make([]byte, walFrameHeaderSize)
	frame0Payload := make([]byte, 512)
	for i := range frame0Payload {
		frame0Payload[i] = byte(i)
	}
	_, err = wal.WriteAt(frame0Header, 32)
	require.NoError(t, err)
	_, err = wal.WriteAt(frame0Payload, 32+24)
	require.NoError(t, err)

	frame1Header := make([]byte, walFrameHeaderSize)
	frame1Payload := make([]byte, 512)
	for i := range frame1Payload {
		frame1Payload[i] = byte(255 - i)
	}
	_, err = wal.WriteAt(frame1Header, 568)
	require.NoError(t, err)
	_, err = wal.WriteAt(frame1Payload, 592)
	require.NoError(t, err)

	size, err := wal.Size()
	require.NoError(t, err)
	require.EqualValues(t, 1104, size)

	got := make([]byte, 512)
	n, err := wal.ReadAt(got, 32+24)
	require.NoError(t, err)
	require.Equal(t, 512, n)
	if diff := cmp.Diff(frame0Payload, got); diff != "" {
		t.Fatalf("frame payload mismatch (-want +got):\n%s", diff)
	}
}

// Scenario 6: shm lock conflict between two Files of the same Content.
func TestShmLockConflict(t *testing.T) {
	v := newTestVFS(t)

	af, _, err := v.Open("test.db", vfs.OPEN_CREATE|vfs.OPEN_MAIN_DB)
	require.NoError(t, err)
	bf, _, err := v.Open("test.db", vfs.OPEN_MAIN_DB)
	require.NoError(t, err)

	a := af.(vfs.FileShm)
	b := bf.(vfs.FileShm)

	_, err = a.ShmMap(0, shmRegionSize, true)
	require.NoError(t, err)
	_, err = b.ShmMap(0, shmRegionSize, true)
	require.NoError(t, err)

	require.NoError(t, a.ShmLock(2, 3, vfs.SHM_LOCK|vfs.SHM_EXCLUSIVE))

	err = b.ShmLock(3, 1, vfs.SHM_LOCK|vfs.SHM_SHARED)
	require.Error(t, err)
	var verr *vfs.Error
	require.True(t, errors.As(err, &verr))
	require.Equal(t, vfs.KindBusy, verr.Kind)

	require.NoError(t, a.ShmLock(2, 3, vfs.SHM_UNLOCK|vfs.SHM_EXCLUSIVE))
	require.NoError(t, b.ShmLock(3, 1, vfs.SHM_LOCK|vfs.SHM_SHARED))
}

// Scenario 7: truncate must land on a page boundary and cannot grow.
func TestTruncateAlignment(t *testing.T) {
	v := newTestVFS(t)
	f, _, err := v.Open("test.db", vfs.OPEN_CREATE|vfs.OPEN_MAIN_DB)
	require.NoError(t, err)

	_, err = f.WriteAt(mainDBHeader(512), 0)
	require.NoError(t, err)
	page0 := make([]byte, 512)
	copy(page0, mainDBHeader(512))
	_, err = f.WriteAt(page0, 0)
	require.NoError(t, err)
	_, err = f.WriteAt(make([]byte, 512), 512)
	require.NoError(t, err)

	require.NoError(t, f.Truncate(512))
	size, err := f.Size()
	require.NoError(t, err)
	require.EqualValues(t, 512, size)

	require.Error(t, f.Truncate(400))
}

// Scenario 8: unlocking a slot this File never held is a no-op (I8).
func TestUnlockWithoutLock(t *testing.T) {
	v := newTestVFS(t)
	f, _, err := v.Open("test.db", vfs.OPEN_CREATE|vfs.OPEN_MAIN_DB)
	require.NoError(t, err)

	sf := f.(vfs.FileShm)
	_, err = sf.ShmMap(0, shmRegionSize, true)
	require.NoError(t, err)

	require.NoError(t, sf.ShmLock(3, 1, vfs.SHM_UNLOCK|vfs.SHM_SHARED))
}

// P4: a successful exclusive-create implies no prior successful open
// without an intervening delete.
func TestExclusiveCreateRequiresPriorDelete(t *testing.T) {
	v := newTestVFS(t)

	f, _, err := v.Open("test.db", vfs.OPEN_CREATE|vfs.OPEN_MAIN_DB)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, v.Delete("test.db", false))

	_, _, err = v.Open("test.db", vfs.OPEN_CREATE|vfs.OPEN_EXCLUSIVE|vfs.OPEN_MAIN_DB)
	require.NoError(t, err)
}

// I6: deleting a Content with any open handle is rejected as busy.
func TestDeleteBusy(t *testing.T) {
	v := newTestVFS(t)
	f, _, err := v.Open("test.db", vfs.OPEN_CREATE|vfs.OPEN_MAIN_DB)
	require.NoError(t, err)

	err = v.Delete("test.db", false)
	require.Error(t, err)
	var verr *vfs.Error
	require.True(t, errors.As(err, &verr))
	require.Equal(t, vfs.KindIODeleteBusy, verr.Kind)
	require.Equal(t, vfs.EBUSY, verr.Errno)

	require.NoError(t, f.Close())
	require.NoError(t, v.Delete("test.db", false))
}

// P6: FileRead/FileWrite round-trip byte-for-byte including the
// optional CRC32C trailer.
func TestFileReadWriteRoundTrip(t *testing.T) {
	v := newTestVFS(t)
	f, _, err := v.Open("test.db", vfs.OPEN_CREATE|vfs.OPEN_MAIN_DB)
	require.NoError(t, err)

	_, err = f.WriteAt(mainDBHeader(512), 0)
	require.NoError(t, err)
	page0 := make([]byte, 512)
	copy(page0, mainDBHeader(512))
	for i := 18; i < len(page0); i++ {
		page0[i] = byte(i)
	}
	_, err = f.WriteAt(page0, 0)
	require.NoError(t, err)
	_, err = f.WriteAt(make([]byte, 512), 512)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	snapshot, err := v.FileRead("test.db")
	require.NoError(t, err)
	require.NoError(t, v.Delete("test.db", false))

	require.NoError(t, v.FileWrite("test.db", snapshot))

	rf, _, err := v.Open("test.db", vfs.OPEN_MAIN_DB)
	require.NoError(t, err)
	size, err := rf.Size()
	require.NoError(t, err)
	require.EqualValues(t, 1024, size)

	got := make([]byte, 512)
	_, err = rf.ReadAt(got, 0)
	require.NoError(t, err)
	if diff := cmp.Diff(page0, got); diff != "" {
		t.Fatalf("restored page 0 mismatch (-want +got):\n%s", diff)
	}
}

// P6 + encryption: FileWrite's restore path must re-encrypt each
// restored page/frame payload exactly as writeMainDB/writeWAL would
// have, so a Content restored from a snapshot decrypts correctly on
// the next read instead of running Adiantum over never-encrypted
// plaintext.
func TestFileReadWriteRoundTripWithEncryption(t *testing.T) {
	v := newTestVFS(t, WithEncryptionKey(testKey()))
	f, _, err := v.Open("secret.db", vfs.OPEN_CREATE|vfs.OPEN_MAIN_DB)
	require.NoError(t, err)

	_, err = f.WriteAt(mainDBHeader(512), 0)
	require.NoError(t, err)
	page0 := make([]byte, 512)
	copy(page0, mainDBHeader(512))
	for i := 18; i < len(page0); i++ {
		page0[i] = byte(i)
	}
	_, err = f.WriteAt(page0, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got := make([]byte, 512)
	_, err = func() (int, error) {
		rf, _, err := v.Open("secret.db", vfs.OPEN_MAIN_DB)
		if err != nil {
			return 0, err
		}
		defer rf.Close()
		return rf.ReadAt(got, 0)
	}()
	require.NoError(t, err)
	if diff := cmp.Diff(page0, got); diff != "" {
		t.Fatalf("plain read-back mismatch before any restore (-want +got):\n%s", diff)
	}

	snapshot, err := v.FileRead("secret.db")
	require.NoError(t, err)
	require.NoError(t, v.Delete("secret.db", false))
	require.NoError(t, v.FileWrite("secret.db", snapshot))

	rf, _, err := v.Open("secret.db", vfs.OPEN_MAIN_DB)
	require.NoError(t, err)
	defer rf.Close()

	restored := make([]byte, 512)
	_, err = rf.ReadAt(restored, 0)
	require.NoError(t, err)
	if diff := cmp.Diff(page0, restored); diff != "" {
		t.Fatalf("restored page 0 mismatch under encryption (-want +got):\n%s", diff)
	}
}

// P7: Randomness always fills the buffer and never blocks.
func TestRandomnessFillsBuffer(t *testing.T) {
	v := newTestVFS(t)
	buf := make([]byte, 64)
	require.Equal(t, 64, v.Randomness(buf))

	zero := true
	for _, b := range buf {
		if b != 0 {
			zero = false
			break
		}
	}
	require.False(t, zero, "expected a non-all-zero keystream")
}

func TestFileControlPragmas(t *testing.T) {
	v := newTestVFS(t)
	f, _, err := v.Open("test.db", vfs.OPEN_CREATE|vfs.OPEN_MAIN_DB)
	require.NoError(t, err)

	_, err = f.WriteAt(mainDBHeader(512), 0)
	require.NoError(t, err)
	page0 := make([]byte, 512)
	copy(page0, mainDBHeader(512))
	_, err = f.WriteAt(page0, 0)
	require.NoError(t, err)

	_, err = f.FileControl(vfs.FCNTL_PRAGMA, "journal_mode=delete")
	require.Error(t, err)

	res, err := f.FileControl(vfs.FCNTL_PRAGMA, "journal_mode=wal")
	require.NoError(t, err)
	require.Equal(t, "wal", res)

	_, err = f.FileControl(vfs.FCNTL_PRAGMA, "page_size=512")
	var verr *vfs.Error
	require.True(t, errors.As(err, &verr))
	require.Equal(t, vfs.KindNotFound, verr.Kind)

	_, err = f.FileControl(vfs.FCNTL_PRAGMA, "page_size=4096")
	require.True(t, errors.As(err, &verr))
	require.Equal(t, vfs.KindIO, verr.Kind)
}
