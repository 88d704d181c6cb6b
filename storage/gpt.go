package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// sectorSize is the fixed LBA size for NX storage.
const sectorSize = 512

// gptEntrySize is the on-disk size of a single GPT partition entry.
const gptEntrySize = 128

// gptHeader mirrors the fields of the GPT header at LBA 1 that the inspector
// actually uses. The rest of the UEFI header (CRCs, usable-LBA range, disk
// GUID) isn't consumed; matching GPT authoring and repair tooling is out of
// scope.
type gptHeader struct {
	Signature      [8]byte
	Revision       uint32
	HeaderSize     uint32
	HeaderCRC32    uint32
	Reserved       uint32
	CurrentLBA     uint64
	BackupLBA      uint64
	FirstUsableLBA uint64
	LastUsableLBA  uint64
	DiskGUID       [16]byte
	PartEntLBA     uint64
	NumPartEnts    uint32
	PartEntSize    uint32
	PartEntCRC32   uint32
}

// rawGptEntry is the 128-byte on-disk layout of one GPT partition entry.
type rawGptEntry struct {
	TypeGUID   [16]byte
	UniqueGUID [16]byte
	LbaStart   uint64
	LbaEnd     uint64
	Attrs      uint64
	Name       [72]byte // 36 UTF-16LE code units
}

// parseGptHeader decodes the 512-byte GPT header found at LBA 1 of a RAWNAND
// storage.
func parseGptHeader(buf []byte) (gptHeader, error) {
	var hdr gptHeader
	if len(buf) < sectorSize {
		return hdr, fmt.Errorf("gpt: header buffer too short: %d bytes", len(buf))
	}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &hdr); err != nil {
		return hdr, fmt.Errorf("gpt: failed to decode header: %w", err)
	}
	return hdr, nil
}

// parseGptEntries decodes hdr.NumPartEnts entries out of buf, which must
// start at the first byte of the partition entry array.
func parseGptEntries(hdr gptHeader, buf []byte) ([]rawGptEntry, error) {
	entries := make([]rawGptEntry, 0, hdr.NumPartEnts)
	for i := uint32(0); i < hdr.NumPartEnts; i++ {
		off := int(i) * gptEntrySize
		if off+gptEntrySize > len(buf) {
			return nil, fmt.Errorf("gpt: entry %d extends past end of partition array", i)
		}
		var e rawGptEntry
		if err := binary.Read(bytes.NewReader(buf[off:off+gptEntrySize]), binary.LittleEndian, &e); err != nil {
			return nil, fmt.Errorf("gpt: failed to decode entry %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// isEmptyGptEntry reports whether a raw entry's type GUID is all zero,
// meaning the slot holds no partition.
func isEmptyGptEntry(e rawGptEntry) bool {
	for _, b := range e.TypeGUID {
		if b != 0 {
			return false
		}
	}
	return true
}

// utf16leToString decodes a fixed-width UTF-16LE field, stopping at the
// first NUL code unit, and always returns a properly terminated Go string
// rather than propagating the raw buffer's trailing byte (the GPT-entry
// name field is 36 UTF-16 code units wide but not guaranteed to be
// null-padded beyond the name itself).
func utf16leToString(raw []byte) string {
	units := make([]uint16, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		u := binary.LittleEndian.Uint16(raw[i : i+2])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// guidString formats a 16-byte GPT GUID in its canonical mixed-endian form
// (the first three fields are stored little-endian on disk).
func guidString(b [16]byte) string {
	var d [16]byte
	copy(d[:], b[:])
	reverse := func(s, e int) {
		for i, j := s, e-1; i < j; i, j = i+1, j-1 {
			d[i], d[j] = d[j], d[i]
		}
	}
	reverse(0, 4)
	reverse(4, 6)
	reverse(6, 8)
	return fmt.Sprintf("%08x-%04x-%04x-%02x%02x-%02x%02x%02x%02x%02x%02x",
		binary.BigEndian.Uint32(d[0:4]),
		binary.BigEndian.Uint16(d[4:6]),
		binary.BigEndian.Uint16(d[6:8]),
		d[8], d[9],
		d[10], d[11], d[12], d[13], d[14], d[15],
	)
}
