package alloctable

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/norfs/checksum"
	"github.com/hupe1980/norfs/flash"
	"github.com/hupe1980/norfs/internal/layout"
	"github.com/hupe1980/norfs/internal/leak"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const devSize = 1024 * 1024

var dataSectors = layout.DataSectors(devSize)

func newDevice() *flash.Memory {
	return flash.NewMemory(devSize)
}

// writeGeneration writes entries as the generation after cur and advances cur.
func writeGeneration(t *testing.T, dev flash.Flash, cur *Table, entries ...Entry) Generation {
	t.Helper()
	b, err := Begin(dev, checksum.NewCRC32C(), cur, dataSectors, false)
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, b.Write(e))
	}
	g, err := b.Commit()
	require.NoError(t, err)

	cur.Advance(g)
	cur.Entries = append(cur.Entries[:0], entries...)
	return g
}

func entry(id uint64, typ uint16, first uint16) Entry {
	return Entry{ID: id, Type: typ, FirstSector: first}
}

func TestGenerationRoundTrip(t *testing.T) {
	dev := newDevice()
	cur := Empty()

	g := writeGeneration(t, dev, &cur, entry(1, 10, 0), entry(2, 20, layout.NoSector), entry(7, 10, 5))
	assert.Equal(t, Generation{Slot: 0, Sequence: 1, MaxFileID: 7, Count: 3}, g)

	tbl, err := ReadSlot(dev, checksum.NewCRC32C(), 0, dataSectors)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), tbl.Sequence)
	assert.Equal(t, uint64(7), tbl.MaxFileID)
	assert.Equal(t, []Entry{entry(1, 10, 0), entry(2, 20, layout.NoSector), entry(7, 10, 5)}, tbl.Entries)
}

func TestRecoverEmptyDevice(t *testing.T) {
	tbl, report, err := Recover(newDevice(), checksum.NewCRC32C(), dataSectors)
	require.NoError(t, err)
	assert.False(t, report.Found)
	assert.Equal(t, Empty(), tbl)
	require.Len(t, report.Slots, layout.TableSlots)
	for _, s := range report.Slots {
		assert.False(t, s.Valid())
	}

	erased, err := IsErased(newDevice(), 2)
	require.NoError(t, err)
	assert.True(t, erased)
}

func TestRecoverPicksHighestSequence(t *testing.T) {
	dev := newDevice()
	cur := Empty()
	for i := 1; i <= 6; i++ {
		writeGeneration(t, dev, &cur, entry(uint64(i), 0, layout.NoSector))
	}

	tbl, report, err := Recover(dev, checksum.NewCRC32C(), dataSectors)
	require.NoError(t, err)
	require.True(t, report.Found)
	assert.Equal(t, uint32(6), tbl.Sequence)
	assert.Equal(t, 1, tbl.Slot)
	assert.Equal(t, []uint64{6}, ids(&tbl))
}

func TestRecoverIgnoresBadChecksum(t *testing.T) {
	dev := newDevice()
	cur := Empty()
	writeGeneration(t, dev, &cur, entry(1, 0, 3))
	writeGeneration(t, dev, &cur, entry(1, 0, 3), entry(2, 0, 4))
	writeGeneration(t, dev, &cur, entry(1, 0, 3), entry(2, 0, 4), entry(3, 0, 9))

	// Flip the type of the first entry in the newest slot.
	dev.Poke(layout.SlotAddress(2)+HeaderSize+8, []byte{0x12})

	tbl, report, err := Recover(dev, checksum.NewCRC32C(), dataSectors)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), tbl.Sequence)
	assert.Equal(t, []uint64{1, 2}, ids(&tbl))

	assert.True(t, report.Slots[1].Valid())
	assert.ErrorIs(t, report.Slots[2].Err, errChecksum)
	assert.ErrorIs(t, report.Slots[3].Err, errVersion)
}

func TestRecoverRejectsOutOfRangeSector(t *testing.T) {
	dev := newDevice()
	cur := Empty()
	writeGeneration(t, dev, &cur, entry(1, 0, uint16(dataSectors)))

	_, err := ReadSlot(dev, checksum.NewCRC32C(), 0, dataSectors)
	assert.ErrorIs(t, err, ErrCorruptedEntry)
}

func TestRecoverPropagatesFlashErrors(t *testing.T) {
	dev := flash.NewFaulty(newDevice())
	dev.AddRule(flash.OpRead, flash.Fault{FailAfter: 0})

	_, _, err := Recover(dev, checksum.NewCRC32C(), dataSectors)
	assert.ErrorIs(t, err, flash.ErrInjected)
}

func TestAbortLeavesSlotInvalid(t *testing.T) {
	dev := newDevice()
	cur := Empty()
	writeGeneration(t, dev, &cur, entry(1, 0, layout.NoSector))

	b, err := Begin(dev, checksum.NewCRC32C(), &cur, dataSectors, true)
	require.NoError(t, err)
	require.NoError(t, b.CopyRest(nil))
	// Enough entries to program several pages of the new slot.
	for id := uint64(2); id < 200; id++ {
		require.NoError(t, b.Write(entry(id, 0, layout.NoSector)))
	}
	b.Abort()
	b.Abort()

	_, err = b.Commit()
	assert.ErrorIs(t, err, ErrBuilderDone)

	tbl, _, err := Recover(dev, checksum.NewCRC32C(), dataSectors)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), tbl.Sequence)
	assert.Equal(t, []uint64{1}, ids(&tbl))
}

func TestBuilderStreamsSource(t *testing.T) {
	dev := newDevice()
	cur := Empty()
	writeGeneration(t, dev, &cur, entry(1, 1, 0), entry(2, 2, 1), entry(3, 1, 2))

	b, err := Begin(dev, checksum.NewCRC32C(), &cur, dataSectors, true)
	require.NoError(t, err)

	var seen []uint64
	require.NoError(t, b.CopyRest(func(e Entry) (Entry, bool) {
		seen = append(seen, e.ID)
		if e.ID == 3 {
			e.FirstSector = 9
		}
		return e, e.ID != 2
	}))
	assert.Equal(t, []uint64{1, 2, 3}, seen)

	e, ok, err := b.ReadNext()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Entry{}, e)

	created, err := b.WriteNewFile(5, layout.NoSector)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), created.ID)

	g, err := b.Commit()
	require.NoError(t, err)
	assert.Equal(t, Generation{Slot: 1, Sequence: 2, MaxFileID: 4, Count: 3}, g)

	tbl, err := ReadSlot(dev, checksum.NewCRC32C(), 1, dataSectors)
	require.NoError(t, err)
	assert.Equal(t, []Entry{entry(1, 1, 0), entry(3, 1, 9), entry(4, 5, layout.NoSector)}, tbl.Entries)
}

func TestMaxFileIDSurvivesRemoval(t *testing.T) {
	dev := newDevice()
	cur := Empty()
	writeGeneration(t, dev, &cur, entry(1, 0, layout.NoSector), entry(2, 0, layout.NoSector))
	writeGeneration(t, dev, &cur, entry(1, 0, layout.NoSector))

	tbl, _, err := Recover(dev, checksum.NewCRC32C(), dataSectors)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), tbl.MaxFileID)

	b, err := Begin(dev, checksum.NewCRC32C(), &tbl, dataSectors, true)
	require.NoError(t, err)
	require.NoError(t, b.CopyRest(nil))
	e, err := b.WriteNewFile(0, layout.NoSector)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), e.ID)
	b.Abort()
}

func TestReadNextStopsAtCorruptedEntry(t *testing.T) {
	dev := newDevice()
	cur := Empty()
	writeGeneration(t, dev, &cur, entry(1, 0, 0), entry(2, 0, 1), entry(3, 0, 2))

	// Zero the id of the second entry.
	dev.Poke(layout.SlotAddress(0)+HeaderSize+RecordSize, make([]byte, 8))

	b, err := Begin(dev, checksum.NewCRC32C(), &cur, dataSectors, true)
	require.NoError(t, err)
	defer b.Abort()

	e, ok, err := b.ReadNext()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), e.ID)

	_, _, err = b.ReadNext()
	assert.ErrorIs(t, err, ErrCorruptedEntry)
	_, _, err = b.ReadNext()
	assert.ErrorIs(t, err, ErrCorruptedEntry)
}

func TestWriteRejectsUnordered(t *testing.T) {
	cur := Empty()
	b, err := Begin(newDevice(), checksum.NewCRC32C(), &cur, dataSectors, false)
	require.NoError(t, err)
	defer b.Abort()

	require.NoError(t, b.Write(entry(5, 0, layout.NoSector)))
	assert.ErrorIs(t, b.Write(entry(5, 0, layout.NoSector)), ErrUnordered)
	assert.ErrorIs(t, b.Write(entry(4, 0, layout.NoSector)), ErrUnordered)
}

func TestFullTable(t *testing.T) {
	dev := newDevice()
	cur := Empty()
	b, err := Begin(dev, checksum.NewCRC32C(), &cur, dataSectors, false)
	require.NoError(t, err)

	for i := 0; i < MaxFiles; i++ {
		_, err := b.WriteNewFile(uint16(i%7), layout.NoSector)
		require.NoError(t, err)
	}
	_, err = b.WriteNewFile(0, layout.NoSector)
	assert.ErrorIs(t, err, ErrTableFull)

	g, err := b.Commit()
	require.NoError(t, err)
	assert.Equal(t, MaxFiles, g.Count)

	tbl, err := ReadSlot(dev, checksum.NewCRC32C(), 0, dataSectors)
	require.NoError(t, err)
	assert.Equal(t, MaxFiles, tbl.Len())
	assert.Equal(t, uint64(MaxFiles), tbl.Entries[MaxFiles-1].ID)
}

func TestBeginPropagatesEraseError(t *testing.T) {
	dev := flash.NewFaulty(newDevice())
	dev.AddRule(flash.OpErase32K, flash.Fault{FailAfter: 0})

	cur := Empty()
	_, err := Begin(dev, checksum.NewCRC32C(), &cur, dataSectors, false)
	assert.ErrorIs(t, err, flash.ErrInjected)
}

func TestDroppedBuilderIsReported(t *testing.T) {
	var reported atomic.Bool
	restore := leak.SetHandler(func(string) { reported.Store(true) })
	defer restore()

	func() {
		cur := Empty()
		_, err := Begin(newDevice(), checksum.NewCRC32C(), &cur, dataSectors, false)
		require.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return reported.Load()
	}, 2*time.Second, 10*time.Millisecond)
}
