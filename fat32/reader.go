package fat32

import (
	"fmt"
	"io"
	"strings"

	"github.com/boljen/go-bitmap"

	"github.com/minkione/NxNandManager/nxerrors"
	"github.com/minkione/NxNandManager/storage"
)

const (
	bootSectorProbeSize = 512
	fatEntrySize        = 4
	// freeSpaceClusterSize is the fixed cluster-size constant this device's
	// free-space accounting multiplies the free-entry count by; it is not
	// necessarily equal to a volume's actual SectorsPerCluster*BytesPerSector.
	freeSpaceClusterSize = 0x4000
	endOfChainMarker     = 0x0FFFFFF8
	badClusterMarker     = 0x0FFFFFF7
)

// Reader is a read-only view of a FAT32 volume hosted inside a Partition. It
// requires the partition's crypto to already be installed and valid (or the
// partition to already be plaintext).
type Reader struct {
	partition  *storage.Partition
	cryptoMode storage.CryptoMode
	bootSector BootSector
	maxCluster uint32
}

// Open validates partition and parses its boot sector, returning a Reader
// ready to serve Dir and FreeSpace.
func Open(partition *storage.Partition) (*Reader, error) {
	switch partition.Kind {
	case storage.KindSAFE, storage.KindSYSTEM, storage.KindUSER:
	default:
		return nil, nxerrors.ErrUnsupportedKind.WithMessage(
			fmt.Sprintf("%q is not a FAT32-hosting partition kind", partition.Kind))
	}
	if !partition.EncryptedReadable() {
		return nil, nxerrors.ErrBadCrypto.WithMessage(partition.Name)
	}

	mode := storage.ModeDecrypt
	if !partition.IsEncrypted {
		mode = storage.ModeNoCrypto
	}

	stream := storage.NewCryptoStream(partition, mode, 0)
	buf := make([]byte, bootSectorProbeSize)
	if _, err := io.ReadFull(stream, buf); err != nil {
		return nil, fmt.Errorf("fat32: failed to read boot sector of %q: %w", partition.Name, err)
	}

	bootSector, err := ParseBootSector(buf)
	if err != nil {
		return nil, err
	}

	dataSectors := bootSector.TotalSectors - bootSector.ReservedSectors -
		bootSector.NumFATs*bootSector.FATSizeSectors
	maxCluster := uint32(2)
	if bootSector.SectorsPerCluster > 0 {
		maxCluster += dataSectors / bootSector.SectorsPerCluster
	}

	return &Reader{
		partition:  partition,
		cryptoMode: mode,
		bootSector: bootSector,
		maxCluster: maxCluster,
	}, nil
}

// BootSector exposes the volume's derived geometry.
func (r *Reader) BootSector() BootSector { return r.bootSector }

// Dir resolves a slash-delimited path to a directory listing, or to a
// single-entry listing if path names a file. An empty path lists the root
// directory.
func (r *Reader) Dir(path string) ([]DirEntry, error) {
	entries, err := r.readClusterChainDirents(r.bootSector.RootCluster)
	if err != nil {
		return nil, err
	}

	path = strings.Trim(path, "/")
	if path == "" {
		return entries, nil
	}

	components := strings.Split(path, "/")
	for i, component := range components {
		match := findEntry(entries, component)
		if match == nil {
			return nil, nxerrors.ErrInPartNotFound.WithMessage(path)
		}

		isLast := i == len(components)-1
		if !match.IsDirectory {
			if !isLast {
				return nil, nxerrors.ErrInPartNotFound.WithMessage(path)
			}
			resolved := *match
			resolved.Offset = r.bootSector.ClusterOffset(resolved.FirstCluster)
			return []DirEntry{resolved}, nil
		}

		entries, err = r.readClusterChainDirents(match.FirstCluster)
		if err != nil {
			return nil, err
		}
	}

	return entries, nil
}

func findEntry(entries []DirEntry, name string) *DirEntry {
	for i := range entries {
		if entries[i].Name == name {
			return &entries[i]
		}
	}
	return nil
}

// FreeSpace reads the entire FAT in 32-bit LE entries and returns the count
// of zero entries multiplied by the device's fixed cluster-size constant.
func (r *Reader) FreeSpace() (uint64, error) {
	fatLen := int(r.bootSector.FATSizeSectors) * int(r.bootSector.BytesPerSector)
	buf, err := r.readBytesAt(r.bootSector.FATStartOffset, fatLen)
	if err != nil {
		return 0, err
	}

	var freeCount uint64
	for off := 0; off+fatEntrySize <= len(buf); off += fatEntrySize {
		entry := uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24
		if entry == 0 {
			freeCount++
		}
	}
	return freeCount * freeSpaceClusterSize, nil
}

func (r *Reader) readClusterChainDirents(firstCluster uint32) ([]DirEntry, error) {
	clusters, err := r.walkClusterChain(firstCluster)
	if err != nil {
		return nil, err
	}

	var all []DirEntry
	for _, cluster := range clusters {
		data, err := r.readCluster(cluster)
		if err != nil {
			return nil, err
		}
		all = append(all, clusterToDirEntries(data)...)
	}
	return all, nil
}

// walkClusterChain follows the FAT from start to end-of-chain, using a bitmap
// of visited cluster indices to detect a chain that has been corrupted into a
// cycle rather than looping forever.
func (r *Reader) walkClusterChain(start uint32) ([]uint32, error) {
	if start < 2 || start >= r.maxCluster {
		return nil, nxerrors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("cluster %d out of range [2, %d)", start, r.maxCluster))
	}

	visited := bitmap.NewSlice(int(r.maxCluster))
	var chain []uint32
	current := start

	for {
		if visited.Get(int(current)) {
			return nil, fmt.Errorf("fat32: cluster chain cycle detected at cluster %d", current)
		}
		visited.Set(int(current), true)
		chain = append(chain, current)

		next, err := r.fatEntry(current)
		if err != nil {
			return nil, err
		}
		if next >= endOfChainMarker {
			break
		}
		if next == 0 || next == 1 || next == badClusterMarker || next >= r.maxCluster {
			return nil, fmt.Errorf("fat32: cluster %d followed by invalid cluster 0x%x", current, next)
		}
		current = next
	}

	return chain, nil
}

func (r *Reader) fatEntry(cluster uint32) (uint32, error) {
	off := r.bootSector.FATStartOffset + uint64(cluster)*fatEntrySize
	buf, err := r.readBytesAt(off, fatEntrySize)
	if err != nil {
		return 0, err
	}
	raw := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	return raw & 0x0FFFFFFF, nil
}

func (r *Reader) readCluster(cluster uint32) ([]byte, error) {
	off := r.bootSector.ClusterOffset(cluster)
	return r.readBytesAt(off, int(r.bootSector.BytesPerCluster))
}

// readBytesAt reads length bytes at the partition-relative absOffset,
// rounding the underlying CryptoStream read out to whole sectors (required
// in a crypto mode) and slicing the requested range back out.
func (r *Reader) readBytesAt(absOffset uint64, length int) ([]byte, error) {
	sectorSize := uint64(r.bootSector.BytesPerSector)
	alignedStart := (absOffset / sectorSize) * sectorSize
	alignedEnd := ((absOffset + uint64(length) + sectorSize - 1) / sectorSize) * sectorSize

	stream := storage.NewCryptoStream(r.partition, r.cryptoMode, int64(alignedStart))
	staging := make([]byte, alignedEnd-alignedStart)
	if _, err := io.ReadFull(stream, staging); err != nil {
		return nil, fmt.Errorf("fat32: read at offset %d failed: %w", absOffset, err)
	}

	skip := absOffset - alignedStart
	return staging[skip : skip+uint64(length)], nil
}
