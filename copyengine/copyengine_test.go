package copyengine_test

import (
	"crypto/md5"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minkione/NxNandManager/copyengine"
	"github.com/minkione/NxNandManager/internal/nxtesting"
	"github.com/minkione/NxNandManager/nxerrors"
	"github.com/minkione/NxNandManager/storage"
)

// buildPlainPartition returns a partition with no catalog entry (so no
// crypto semantics are in play) backed by sectors of random data.
func buildPlainPartition(t *testing.T, sectors uint64) *storage.Partition {
	image := nxtesting.CreateRandomImage(t, 512, uint(sectors))
	s := nxtesting.NewStorage(t, image, nxtesting.PartitionSpec{
		Name: "TESTPART", LbaStart: 0, LbaEnd: sectors - 1,
	})
	return s.Partitions[0]
}

func readAllNoCrypto(t *testing.T, p *storage.Partition) []byte {
	stream := storage.NewCryptoStream(p, storage.ModeNoCrypto, 0)
	buf := make([]byte, p.Size())
	_, err := io.ReadFull(stream, buf)
	require.NoError(t, err)
	return buf
}

func TestDumpToFile__RawRoundTripAndMD5Verify(t *testing.T) {
	partition := buildPlainPartition(t, 8)
	expected := readAllNoCrypto(t, partition)

	destPath := filepath.Join(t.TempDir(), "dump.bin")
	result, err := copyengine.DumpToFile(partition, destPath, copyengine.ModeVerify, nil, nil, nil)
	require.NoError(t, err)

	assert.EqualValues(t, partition.Size(), result.BytesCopied)
	assert.Equal(t, md5.Sum(expected), result.MD5)

	got, err := os.ReadFile(destPath)
	require.NoError(t, err)
	assert.Equal(t, expected, got)
}

func TestDumpToFile__ErrorsWhenDestAlreadyExists(t *testing.T) {
	partition := buildPlainPartition(t, 4)
	destPath := filepath.Join(t.TempDir(), "dump.bin")
	require.NoError(t, os.WriteFile(destPath, []byte("existing"), 0644))

	_, err := copyengine.DumpToFile(partition, destPath, copyengine.ModeRaw, nil, nil, nil)
	assert.ErrorIs(t, err, nxerrors.ErrFileAlreadyExists)
}

func TestDumpToFile__DecryptModeRejectsAlreadyPlaintextPartition(t *testing.T) {
	partition := buildPlainPartition(t, 4)
	destPath := filepath.Join(t.TempDir(), "dump.bin")

	_, err := copyengine.DumpToFile(partition, destPath, copyengine.ModeDecrypt, nil, nil, nil)
	assert.ErrorIs(t, err, nxerrors.ErrCryptoDecryptedYet)
}

func TestDumpToFile__CancellationReturnsUserAbort(t *testing.T) {
	partition := buildPlainPartition(t, 4)
	destPath := filepath.Join(t.TempDir(), "dump.bin")

	var stop atomic.Bool
	stop.Store(true)

	_, err := copyengine.DumpToFile(partition, destPath, copyengine.ModeRaw, &stop, nil, nil)
	assert.ErrorIs(t, err, nxerrors.ErrUserAbort)
}

func buildTwoPlainStorages(t *testing.T, sourceSectors, destSectors uint64) (*storage.Storage, *storage.Partition, *storage.Partition) {
	sourceImage := nxtesting.CreateRandomImage(t, 512, uint(sourceSectors))
	sourceStorage := nxtesting.NewStorage(t, sourceImage, nxtesting.PartitionSpec{
		Name: "TESTPART", LbaStart: 0, LbaEnd: sourceSectors - 1,
	})

	destImage := nxtesting.CreateRandomImage(t, 512, uint(destSectors))
	destStorage := nxtesting.NewStorage(t, destImage, nxtesting.PartitionSpec{
		Name: "TESTPART", LbaStart: 0, LbaEnd: destSectors - 1,
	})

	return sourceStorage, sourceStorage.Partitions[0], destStorage.Partitions[0]
}

func TestRestorePartition__RawRoundTrip(t *testing.T) {
	sourceStorage, sourcePartition, destPartition := buildTwoPlainStorages(t, 8, 8)
	expected := readAllNoCrypto(t, sourcePartition)

	result, err := copyengine.RestorePartition(sourceStorage, destPartition, copyengine.ModeRaw, nil, nil, nil)
	require.NoError(t, err)
	assert.EqualValues(t, destPartition.Size(), result.BytesCopied)

	got := readAllNoCrypto(t, destPartition)
	assert.Equal(t, expected, got)
	assert.Equal(t, md5.Sum(expected), result.MD5)
}

func TestRestorePartition__SourceLargerThanDestErrors(t *testing.T) {
	sourceStorage, _, destPartition := buildTwoPlainStorages(t, 8, 4)

	_, err := copyengine.RestorePartition(sourceStorage, destPartition, copyengine.ModeRaw, nil, nil, nil)
	assert.ErrorIs(t, err, nxerrors.ErrIOMismatch)
}

func TestRestorePartition__NoMatchingSourceKindErrors(t *testing.T) {
	sourceImage := nxtesting.CreateRandomImage(t, 512, 8)
	sourceStorage := nxtesting.NewStorage(t, sourceImage, nxtesting.PartitionSpec{
		Name: "PRODINFO", LbaStart: 0, LbaEnd: 7,
	})

	_, destPartition, _ := buildTwoPlainStorages(t, 8, 8)

	_, err := copyengine.RestorePartition(sourceStorage, destPartition, copyengine.ModeRaw, nil, nil, nil)
	assert.ErrorIs(t, err, nxerrors.ErrInPartNotFound)
}
