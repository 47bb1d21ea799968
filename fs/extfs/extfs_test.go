package extfs

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvos/corekernel/device"
)

func newFilledDevice(t *testing.T, sectors uint64) *device.MemDevice {
	t.Helper()
	dev := device.NewMemDevice(sectors)
	buf := make([]byte, device.SectorSize)
	for s := uint64(0); s < sectors; s++ {
		for i := range buf {
			buf[i] = byte(s) // one distinct byte value per sector
		}
		require.NoError(t, dev.WriteSector(s, buf))
	}
	return dev
}

func TestSectionReader_ReadWithinOneSector(t *testing.T) {
	dev := newFilledDevice(t, 2)
	sr := newSectionReader(dev)

	buf := make([]byte, 4)
	n, err := sr.ReadAt(buf, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{0, 0, 0, 0}, buf)
}

func TestSectionReader_ReadCrossesSectorBoundary(t *testing.T) {
	dev := newFilledDevice(t, 2)
	sr := newSectionReader(dev)

	buf := make([]byte, 8)
	n, err := sr.ReadAt(buf, device.SectorSize-4)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, []byte{0, 0, 0, 0, 1, 1, 1, 1}, buf)
}

func TestSectionReader_ReadPastEndReturnsEOF(t *testing.T) {
	dev := newFilledDevice(t, 1)
	sr := newSectionReader(dev)

	buf := make([]byte, 4)
	n, err := sr.ReadAt(buf, int64(device.SectorSize))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSectionReader_ReadTruncatesAtDeviceEnd(t *testing.T) {
	dev := newFilledDevice(t, 1)
	sr := newSectionReader(dev)

	buf := make([]byte, device.SectorSize+16)
	n, err := sr.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, int(device.SectorSize), n)
}
