// Package fat32 implements a read-only FAT32 reader over a decrypting
// CryptoStream: boot sector parsing, directory traversal with long-file-name
// reassembly, and free-space accounting.
package fat32

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// rawBootSector is the on-disk layout of a FAT32 boot sector's BPB and
// extended BPB, up to the volume label and filesystem type string.
type rawBootSector struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	FATSize16         uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
	FATSize32         uint32
	ExtFlags          uint16
	FSVersion         uint16
	RootCluster       uint32
	FSInfoSector      uint16
	BackupBootSector  uint16
	Reserved          [12]byte
	DriveNumber       uint8
	Reserved1         uint8
	BootSignature     uint8
	VolumeID          uint32
	VolumeLabel       [11]byte
	FSType            [8]byte
}

// BootSector holds the derived geometry of a FAT32 volume: everything the
// reader needs to translate a cluster number into an absolute partition
// offset and to walk the FAT.
type BootSector struct {
	BytesPerSector    uint32
	SectorsPerCluster uint32
	ReservedSectors   uint32
	NumFATs           uint32
	FATSizeSectors    uint32
	TotalSectors      uint32
	RootCluster       uint32
	VolumeLabel       string

	BytesPerCluster uint32
	FATStartOffset  uint64 // byte offset of the first FAT, relative to partition start
	RootAddr        uint64 // byte offset of the root directory's data area
}

// ParseBootSector decodes a FAT32 boot sector from buf, which must be at
// least one sector long.
func ParseBootSector(buf []byte) (BootSector, error) {
	var raw rawBootSector
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &raw); err != nil {
		return BootSector{}, fmt.Errorf("fat32: failed to decode boot sector: %w", err)
	}

	if raw.FATSize16 != 0 || raw.RootEntryCount != 0 {
		return BootSector{}, fmt.Errorf("fat32: boot sector is not FAT32 (fat_size16=%d root_entry_count=%d)",
			raw.FATSize16, raw.RootEntryCount)
	}
	if raw.BytesPerSector == 0 || raw.SectorsPerCluster == 0 {
		return BootSector{}, fmt.Errorf("fat32: boot sector reports zero bytes-per-sector or sectors-per-cluster")
	}

	totalSectors := raw.TotalSectors32
	if totalSectors == 0 {
		totalSectors = uint32(raw.TotalSectors16)
	}

	fs := BootSector{
		BytesPerSector:    uint32(raw.BytesPerSector),
		SectorsPerCluster: uint32(raw.SectorsPerCluster),
		ReservedSectors:   uint32(raw.ReservedSectors),
		NumFATs:           uint32(raw.NumFATs),
		FATSizeSectors:    raw.FATSize32,
		TotalSectors:      totalSectors,
		RootCluster:       raw.RootCluster,
		VolumeLabel:       strings.TrimRight(string(raw.VolumeLabel[:]), " "),
	}
	fs.BytesPerCluster = fs.BytesPerSector * fs.SectorsPerCluster
	fs.FATStartOffset = uint64(fs.ReservedSectors) * uint64(fs.BytesPerSector)
	fs.RootAddr = uint64(fs.NumFATs)*uint64(fs.FATSizeSectors)*uint64(fs.BytesPerSector) +
		uint64(fs.ReservedSectors)*uint64(fs.BytesPerSector)

	return fs, nil
}

// ClusterOffset returns the absolute partition byte offset of cluster's data,
// per the standard `(cluster - 2) * bytes_per_cluster + root_addr` formula.
func (fs BootSector) ClusterOffset(cluster uint32) uint64 {
	return uint64(fs.BytesPerSector)*(uint64(cluster-2)*uint64(fs.SectorsPerCluster)) + fs.RootAddr
}
