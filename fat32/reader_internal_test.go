package fat32

import (
	"bytes"
	"encoding/binary"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minkione/NxNandManager/internal/nxtesting"
	"github.com/minkione/NxNandManager/storage"
)

const testSectorSize = 512

// buildTestVolume lays out a tiny, hand-built FAT32 volume:
//
//	root (cluster 2): "Nintendo Logs" (LFN dir, cluster 4), README.TXT
//	                   (file, cluster 3, 10 bytes), CYCLE (dir, cluster 6)
//	"Nintendo Logs" (cluster 4): DATA.BIN (file, cluster 5, 7 bytes)
//	CYCLE's FAT entry points back at itself, simulating a corrupted chain.
//
// One FAT, one sector per cluster, for a volume short enough to hand-encode
// byte by byte. The boot sector's JmpBoot bytes double as this device's
// plaintext USER/SYSTEM/SAFE magic, so the partition is already-decrypted at
// construction and Open never needs a cipher.
func buildTestVolume(t *testing.T) []byte {
	const (
		reservedSectors = 2
		fatSectors      = 1
		totalSectors    = 40
	)
	image := make([]byte, totalSectors*testSectorSize)

	raw := rawBootSector{
		JmpBoot:           [3]byte{0xEB, 0x58, 0x90},
		OEMName:           [8]byte{'M', 'S', 'W', 'I', 'N', '4', '.', '1'},
		BytesPerSector:    testSectorSize,
		SectorsPerCluster: 1,
		ReservedSectors:   reservedSectors,
		NumFATs:           1,
		FATSize32:         fatSectors,
		Media:             0xF8,
		RootCluster:       2,
		TotalSectors32:    totalSectors,
		BootSignature:     0x29,
		VolumeLabel:       [11]byte{'T', 'E', 'S', 'T', ' ', ' ', ' ', ' ', ' ', ' ', ' '},
		FSType:            [8]byte{'F', 'A', 'T', '3', '2', ' ', ' ', ' '},
	}
	buf := &bytes.Buffer{}
	require.NoError(t, binary.Write(buf, binary.LittleEndian, raw))
	copy(image, buf.Bytes())

	fatStart := uint64(reservedSectors) * testSectorSize
	putFATEntry(image, fatStart, 0, 0x0FFFFFF8)
	putFATEntry(image, fatStart, 1, 0x0FFFFFFF)
	putFATEntry(image, fatStart, 2, 0x0FFFFFFF) // root, single cluster
	putFATEntry(image, fatStart, 3, 0x0FFFFFFF) // README.TXT data
	putFATEntry(image, fatStart, 4, 0x0FFFFFFF) // "Nintendo Logs" dir
	putFATEntry(image, fatStart, 5, 0x0FFFFFFF) // DATA.BIN data
	putFATEntry(image, fatStart, 6, 6)           // CYCLE: corrupted self-loop

	// RootAddr per ParseBootSector: NumFATs*FATSize32*BytesPerSector + ReservedSectors*BytesPerSector.
	clusterOffset := func(cluster uint32) uint64 {
		root := uint64(1)*uint64(fatSectors)*testSectorSize + uint64(reservedSectors)*testSectorSize
		return testSectorSize*(uint64(cluster)-2) + root
	}

	ninLFNChecksum := shortNameChecksum(rawName("NINTEN~1", ""))
	root := clusterOffset(2)
	off := root
	off += uint64(copy(image[off:], buildLFNSlot(1|lastLFNSequenceBit, "Nintendo Logs", ninLFNChecksum)))
	off += uint64(copy(image[off:], buildDirent("NINTEN~1", "", attrDirectory, 4, 0)))
	off += uint64(copy(image[off:], buildDirent("README", "TXT", attrArchive, 3, 10)))
	off += uint64(copy(image[off:], buildDirent("CYCLE", "", attrDirectory, 6, 0)))

	subdir := clusterOffset(4)
	copy(image[subdir:], buildDirent("DATA", "BIN", attrArchive, 5, 7))

	return image
}

func putFATEntry(image []byte, fatStart uint64, cluster uint32, value uint32) {
	off := fatStart + uint64(cluster)*fatEntrySize
	image[off] = byte(value)
	image[off+1] = byte(value >> 8)
	image[off+2] = byte(value >> 16)
	image[off+3] = byte(value >> 24)
}

func rawName(base, ext string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	copy(out[0:8], base)
	copy(out[8:11], ext)
	return out
}

func buildDirent(base, ext string, attr byte, firstCluster, fileSize uint32) []byte {
	buf := make([]byte, direntSize)
	name := rawName(base, ext)
	copy(buf[0:11], name[:])
	buf[11] = attr
	buf[20] = byte(firstCluster >> 16)
	buf[21] = byte(firstCluster >> 24)
	buf[26] = byte(firstCluster)
	buf[27] = byte(firstCluster >> 8)
	buf[28] = byte(fileSize)
	buf[29] = byte(fileSize >> 8)
	buf[30] = byte(fileSize >> 16)
	buf[31] = byte(fileSize >> 24)
	return buf
}

func buildLFNSlot(sequence uint8, name string, checksum uint8) []byte {
	units := utf16.Encode([]rune(name))
	padded := make([]uint16, 13)
	for i := range padded {
		padded[i] = 0xFFFF
	}
	copy(padded, units)
	if len(units) < 13 {
		padded[len(units)] = 0x0000
	}

	buf := make([]byte, direntSize)
	buf[0] = sequence
	buf[11] = attrLongName
	buf[13] = checksum
	putU16 := func(off int, v uint16) {
		buf[off] = byte(v)
		buf[off+1] = byte(v >> 8)
	}
	for i := 0; i < 5; i++ {
		putU16(1+i*2, padded[i])
	}
	for i := 0; i < 6; i++ {
		putU16(14+i*2, padded[5+i])
	}
	for i := 0; i < 2; i++ {
		putU16(28+i*2, padded[11+i])
	}
	return buf
}

func buildTestReader(t *testing.T) *Reader {
	image := buildTestVolume(t)
	s := nxtesting.NewStorage(t, image, nxtesting.PartitionSpec{
		Name: "USER", LbaStart: 0, LbaEnd: uint64(len(image)/testSectorSize) - 1,
	})
	require.Len(t, s.Partitions, 1)
	p := s.Partitions[0]
	require.Equal(t, storage.KindUSER, p.Kind)
	require.False(t, p.IsEncrypted, "boot sector's jmpBoot bytes double as the plaintext magic")

	r, err := Open(p)
	require.NoError(t, err)
	return r
}

func TestOpen__ParsesBootSector(t *testing.T) {
	r := buildTestReader(t)
	assert.EqualValues(t, 2, r.BootSector().RootCluster)
	assert.EqualValues(t, testSectorSize, r.BootSector().BytesPerCluster)
	assert.Equal(t, "TEST", r.BootSector().VolumeLabel)
}

func TestDir__RootListing(t *testing.T) {
	r := buildTestReader(t)
	entries, err := r.Dir("")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	byName := map[string]DirEntry{}
	for _, e := range entries {
		byName[e.Name] = e
	}

	logs, ok := byName["Nintendo Logs"]
	require.True(t, ok, "LFN entry must reassemble to its long name")
	assert.True(t, logs.IsDirectory)
	assert.EqualValues(t, 4, logs.FirstCluster)

	readme, ok := byName["README.TXT"]
	require.True(t, ok)
	assert.False(t, readme.IsDirectory)
	assert.EqualValues(t, 3, readme.FirstCluster)
	assert.EqualValues(t, 10, readme.FileSize)

	cycle, ok := byName["CYCLE"]
	require.True(t, ok)
	assert.True(t, cycle.IsDirectory)
}

func TestDir__NestedFileResolvesWithOffset(t *testing.T) {
	r := buildTestReader(t)
	entries, err := r.Dir("Nintendo Logs/DATA.BIN")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, "DATA.BIN", entry.Name)
	assert.EqualValues(t, 5, entry.FirstCluster)
	assert.Equal(t, r.BootSector().ClusterOffset(5), entry.Offset)
}

func TestDir__TrailingComponentPastAFileErrors(t *testing.T) {
	r := buildTestReader(t)
	_, err := r.Dir("README.TXT/nested")
	assert.Error(t, err)
}

func TestDir__UnknownComponentErrors(t *testing.T) {
	r := buildTestReader(t)
	_, err := r.Dir("NOT-THERE")
	assert.Error(t, err)
}

func TestDir__CorruptedChainCycleIsDetectedNotHung(t *testing.T) {
	r := buildTestReader(t)
	_, err := r.Dir("CYCLE")
	assert.Error(t, err)
}

func TestFreeSpace__CountsZeroFATEntriesTimesFixedClusterSize(t *testing.T) {
	r := buildTestReader(t)
	free, err := r.FreeSpace()
	require.NoError(t, err)

	entriesInFAT := uint64(testSectorSize / fatEntrySize)
	usedEntries := uint64(7) // clusters 0,1 (reserved) + 2,3,4,5,6 (in use)
	expected := (entriesInFAT - usedEntries) * freeSpaceClusterSize
	assert.Equal(t, expected, free)
}
