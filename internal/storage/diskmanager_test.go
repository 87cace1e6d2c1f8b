package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiskManagerAllocatePageMonotonic(t *testing.T) {
	dir := t.TempDir()
	dm, err := NewDiskManager(dir, "data")
	require.NoError(t, err)
	defer dm.Close()

	// Page 0 is reserved for the B+tree header page and never handed out
	// by AllocatePage, so a fresh counter starts at 1.
	id0, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, uint32(1), id0)

	id1, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, uint32(2), id1)

	require.True(t, dm.CheckPageValid(id0))
	require.True(t, dm.CheckPageValid(id1))
	require.False(t, dm.CheckPageValid(3))
}

func TestDiskManagerAllocateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	dm, err := NewDiskManager(dir, "data")
	require.NoError(t, err)
	_, err = dm.AllocatePage()
	require.NoError(t, err)
	_, err = dm.AllocatePage()
	require.NoError(t, err)
	require.NoError(t, dm.Close())

	dm2, err := NewDiskManager(dir, "data")
	require.NoError(t, err)
	defer dm2.Close()

	id, err := dm2.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, uint32(3), id)
}

func TestDiskManagerPageReadWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	dm, err := NewDiskManager(dir, "data")
	require.NoError(t, err)
	defer dm.Close()

	pageID, err := dm.AllocatePage()
	require.NoError(t, err)

	buf := make([]byte, PageSize)
	p, err := NewPage(buf, pageID)
	require.NoError(t, err)
	_, err = p.InsertTuple([]byte("payload"))
	require.NoError(t, err)

	require.NoError(t, dm.WritePage(pageID, p.Buf))

	back := make([]byte, PageSize)
	require.NoError(t, dm.ReadPage(pageID, back))
	got, err := WrapPage(back)
	require.NoError(t, err)
	tup, err := got.ReadTuple(0)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), tup)
}

func TestDiskManagerWriteReadLog(t *testing.T) {
	dir := t.TempDir()
	dm, err := NewDiskManager(dir, "data")
	require.NoError(t, err)
	defer dm.Close()

	require.NoError(t, dm.WriteLog([]byte("record-one")))
	require.NoError(t, dm.WriteLog([]byte("record-two")))

	data, err := dm.ReadLog()
	require.NoError(t, err)
	require.Equal(t, "record-onerecord-two", string(data))
}

func TestDiskManagerDrop(t *testing.T) {
	dir := t.TempDir()
	dm, err := NewDiskManager(dir, "data")
	require.NoError(t, err)

	pageID, err := dm.AllocatePage()
	require.NoError(t, err)
	buf := make([]byte, PageSize)
	p, err := NewPage(buf, pageID)
	require.NoError(t, err)
	require.NoError(t, dm.WritePage(pageID, p.Buf))
	require.NoError(t, dm.WriteLog([]byte("some-record")))

	require.NoError(t, dm.Drop())

	_, err = os.Stat(filepath.Join(dir, "data"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "data.nextpage"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "data.log"))
	require.True(t, os.IsNotExist(err))
}

func TestDiskManagerDeallocateIsNoop(t *testing.T) {
	dir := t.TempDir()
	dm, err := NewDiskManager(dir, "data")
	require.NoError(t, err)
	defer dm.Close()

	id, err := dm.AllocatePage()
	require.NoError(t, err)
	require.NoError(t, dm.DeallocatePage(id))
	require.True(t, dm.CheckPageValid(id))
}
