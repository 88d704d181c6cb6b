// Package storage implements the NX storage identification, GPT partition
// parsing, and transparent AES-XTS read/write layer: the BlockDevice,
// StorageInspector, PartitionTable, and CryptoStream components.
package storage

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/minkione/NxNandManager/logger"
	"github.com/minkione/NxNandManager/nxerrors"
)

// StorageKind is the result of sniffing a storage artifact's type.
type StorageKind string

const (
	KindBOOT0   StorageKind = "BOOT0"
	KindBOOT1   StorageKind = "BOOT1"
	KindRAWNAND StorageKind = "RAWNAND"
	KindUnknown StorageKind = "UNKNOWN"
)

// Fixed probe offsets and expected magics, per the console's firmware
// layout. These never change across devices of this generation.
var (
	boot0ProbeOffset int64 = 0x400
	boot0MagicOffset       = 0x130
	boot0Magic             = []byte{0x01, 0x00, 0x21, 0x00, 0x0E, 0x00, 0x00, 0x00, 0x09, 0x00, 0x00, 0x00}

	boot1ProbeOffset int64 = 0x1200
	boot1MagicOffset       = 0xD0
	boot1Magic             = []byte("PK11")

	gptProbeOffset int64 = 0x200
	gptProbeSize         = 0x4200
	gptMagicOffset       = 0x98
	gptMagic             = utf16leEncode("PRODINFO")
)

func utf16leEncode(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for _, r := range s {
		out = append(out, byte(r), 0)
	}
	return out
}

// Storage is the top-level artifact: a physical drive or a disk image file,
// its identified kind, and — for a RAWNAND — its partition list.
type Storage struct {
	Path       string
	Kind       StorageKind
	IsDrive    bool
	SectorSize uint
	Partitions []*Partition

	device *BlockDevice
	log    *logger.Logger
}

// Size returns the storage's total addressable length in bytes.
func (s *Storage) Size() int64 { return s.device.Size() }

// Close releases the underlying BlockDevice.
func (s *Storage) Close() error { return s.device.Close() }

// Lock calls Lock on the underlying BlockDevice.
func (s *Storage) Lock() error { return s.device.Lock() }

// Unlock calls Unlock on the underlying BlockDevice.
func (s *Storage) Unlock() error { return s.device.Unlock() }

// Device exposes the underlying BlockDevice for components (CryptoStream,
// Fat32Reader) that need raw sector access.
func (s *Storage) Device() *BlockDevice { return s.device }

// NewTestStorage builds a Storage directly from an already-open device and
// partition list, bypassing Inspect's path/probe/GPT-parse pipeline. It
// exists for internal/nxtesting; production code always goes through
// Inspect.
func NewTestStorage(device *BlockDevice, kind StorageKind, partitions []*Partition) *Storage {
	return &Storage{
		Kind:       kind,
		IsDrive:    device.IsDrive(),
		SectorSize: sectorSize,
		Partitions: partitions,
		device:     device,
		log:        logger.Discard,
	}
}

// PartitionByKind returns the first partition whose Kind equals kind,
// compared case-insensitively.
func (s *Storage) PartitionByKind(kind PartitionKind) (*Partition, error) {
	for _, p := range s.Partitions {
		if strings.EqualFold(string(p.Kind), string(kind)) {
			return p, nil
		}
	}
	return nil, nxerrors.ErrPartitionNotFound.WithMessage(string(kind))
}

// Inspect opens path as a BlockDevice and identifies its kind by probing, in
// order, for BOOT0, BOOT1, and RAWNAND magic bytes at their fixed offsets.
// On RAWNAND the GPT is parsed and one Partition is produced per entry, each
// matched against the static catalog; a geometry is only consulted if path
// turns out to be a raw drive whose size can't be queried directly.
func Inspect(path string, geometry DiskGeometry, log *logger.Logger) (*Storage, error) {
	if log == nil {
		log = logger.Discard
	}

	device, err := Open(path, geometry, log)
	if err != nil {
		return nil, err
	}

	s := &Storage{
		Path:       path,
		IsDrive:    device.IsDrive(),
		SectorSize: sectorSize,
		device:     device,
		log:        log,
		Kind:       KindUnknown,
	}

	kind, gptProbeBuf, err := probeKind(device)
	if err != nil {
		device.Close()
		return nil, err
	}
	s.Kind = kind
	log.Infof("storage: identified %q as %s", path, kind)

	if kind == KindRAWNAND {
		if err := s.parseGPT(gptProbeBuf); err != nil {
			device.Close()
			return nil, err
		}
	}

	return s, nil
}

// probeKind runs the fixed-order BOOT0/BOOT1/RAWNAND probe described in the
// design notes. On a RAWNAND match it also returns the raw GPT probe buffer
// so the caller doesn't need to re-read it.
func probeKind(device *BlockDevice) (StorageKind, []byte, error) {
	boot0Buf := make([]byte, sectorSize)
	if _, err := device.ReadAt(boot0Buf, boot0ProbeOffset); err == nil {
		if bytes.Equal(boot0Buf[boot0MagicOffset:boot0MagicOffset+len(boot0Magic)], boot0Magic) {
			return KindBOOT0, nil, nil
		}
	}

	boot1Buf := make([]byte, sectorSize)
	if _, err := device.ReadAt(boot1Buf, boot1ProbeOffset); err == nil {
		if bytes.Equal(boot1Buf[boot1MagicOffset:boot1MagicOffset+len(boot1Magic)], boot1Magic) {
			return KindBOOT1, nil, nil
		}
	}

	gptBuf := make([]byte, gptProbeSize)
	if _, err := device.ReadAt(gptBuf, gptProbeOffset); err == nil {
		if bytes.Equal(gptBuf[gptMagicOffset:gptMagicOffset+len(gptMagic)], gptMagic) {
			return KindRAWNAND, gptBuf, nil
		}
	}

	return KindUnknown, nil, nil
}

// parseGPT decodes the GPT header and entries out of gptBuf (the bytes read
// starting at gptProbeOffset) and builds s.Partitions. Per-entry problems
// don't abort the scan: an entry not found in the catalog is retained as an
// UNKNOWN partition, and an entry whose raw magic probe fails is left out of
// the list. Both are accumulated via go-multierror and logged as a single
// warning; they are not returned to the caller.
func (s *Storage) parseGPT(gptBuf []byte) error {
	// gptBuf starts at absolute offset gptProbeOffset (0x200), which is LBA 1:
	// the GPT header. The partition entry array follows at hdr.PartEntLBA.
	hdr, err := parseGptHeader(gptBuf[:sectorSize])
	if err != nil {
		return err
	}

	entryArrayOffset := int64(hdr.PartEntLBA*sectorSize) - gptProbeOffset
	if entryArrayOffset < 0 || entryArrayOffset >= int64(len(gptBuf)) {
		return fmt.Errorf("storage: GPT partition entry array at LBA %d is outside the probed range", hdr.PartEntLBA)
	}

	rawEntries, err := parseGptEntries(hdr, gptBuf[entryArrayOffset:])
	if err != nil {
		return err
	}

	var diagnostics *multierror.Error
	partitions := make([]*Partition, 0, len(rawEntries))
	for i, e := range rawEntries {
		if isEmptyGptEntry(e) {
			continue
		}
		p, err := newPartition(s, e)
		if err != nil {
			diagnostics = multierror.Append(diagnostics, fmt.Errorf("gpt entry %d: %w", i, err))
			continue
		}
		if !p.Valid {
			diagnostics = multierror.Append(diagnostics, fmt.Errorf("gpt entry %d: partition %q not in catalog", i, p.Name))
		}
		partitions = append(partitions, p)
	}

	s.Partitions = partitions
	if diagnostics != nil {
		s.log.Warnf("storage: GPT scan diagnostics: %v", diagnostics.ErrorOrNil())
	}
	return nil
}
