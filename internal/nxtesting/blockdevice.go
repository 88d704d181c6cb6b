// Package nxtesting provides in-memory test doubles for the storage and
// copyengine packages, so their tests never touch a real file or device.
package nxtesting

import (
	"crypto/rand"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/minkione/NxNandManager/storage"
)

// CreateRandomImage returns bytesPerSector*totalSectors random bytes, useful
// as backing storage for a synthetic RAWNAND/BOOT0/BOOT1 image. It fails the
// test outright rather than returning a usable-but-wrong-sized slice.
func CreateRandomImage(t *testing.T, bytesPerSector, totalSectors uint) []byte {
	data := make([]byte, bytesPerSector*totalSectors)
	_, err := rand.Read(data)
	require.NoErrorf(t, err, "failed to fill %d sectors of %d bytes with random data", totalSectors, bytesPerSector)
	return data
}

// seekerBackend adapts an io.ReadWriteSeeker (what bytesextra hands back) to
// the io.ReaderAt/io.WriterAt pair storage.BlockDevice needs, serializing
// seek-then-read/write pairs behind a mutex since the wrapped stream has a
// single shared cursor.
type seekerBackend struct {
	mu     sync.Mutex
	stream io.ReadWriteSeeker
}

func (b *seekerBackend) ReadAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.stream.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(b.stream, p)
}

func (b *seekerBackend) WriteAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.stream.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return b.stream.Write(p)
}

func (b *seekerBackend) Close() error { return nil }

// NewBlockDevice wraps imageBytes as an in-memory storage.BlockDevice. Writes
// through the returned device mutate imageBytes in place.
func NewBlockDevice(t *testing.T, imageBytes []byte) *storage.BlockDevice {
	require.Greater(t, len(imageBytes), 0, "image is empty")
	backend := &seekerBackend{stream: bytesextra.NewReadWriteSeeker(imageBytes)}
	return storage.NewTestBlockDevice(backend, int64(len(imageBytes)))
}
