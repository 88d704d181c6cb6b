package storage

import (
	"bytes"
	"encoding/binary"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeUTF16LEName(name string, width int) [72]byte {
	var out [72]byte
	units := utf16.Encode([]rune(name))
	for i, u := range units {
		if i*2+1 >= width {
			break
		}
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], u)
	}
	return out
}

func buildTestGptHeader(numEntries uint32, partEntLBA uint64) []byte {
	hdr := gptHeader{
		Signature:   [8]byte{'E', 'F', 'I', ' ', 'P', 'A', 'R', 'T'},
		Revision:    0x00010000,
		HeaderSize:  92,
		CurrentLBA:  1,
		PartEntLBA:  partEntLBA,
		NumPartEnts: numEntries,
		PartEntSize: gptEntrySize,
	}
	buf := &bytes.Buffer{}
	_ = binary.Write(buf, binary.LittleEndian, hdr)
	out := make([]byte, sectorSize)
	copy(out, buf.Bytes())
	return out
}

func TestParseGptHeader__RoundTrip(t *testing.T) {
	raw := buildTestGptHeader(4, 2)
	hdr, err := parseGptHeader(raw)
	require.NoError(t, err)
	assert.EqualValues(t, 4, hdr.NumPartEnts)
	assert.EqualValues(t, 2, hdr.PartEntLBA)
	assert.EqualValues(t, gptEntrySize, hdr.PartEntSize)
}

func TestParseGptHeader__TooShort(t *testing.T) {
	_, err := parseGptHeader(make([]byte, 10))
	assert.Error(t, err)
}

func TestParseGptEntries__DecodesNameAndRange(t *testing.T) {
	entry := rawGptEntry{
		TypeGUID: [16]byte{1},
		LbaStart: 100,
		LbaEnd:   199,
		Attrs:    0,
		Name:     encodeUTF16LEName("PRODINFO", 72),
	}
	buf := &bytes.Buffer{}
	require.NoError(t, binary.Write(buf, binary.LittleEndian, entry))

	hdr := gptHeader{NumPartEnts: 1}
	entries, err := parseGptEntries(hdr, buf.Bytes())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(100), entries[0].LbaStart)
	assert.Equal(t, uint64(199), entries[0].LbaEnd)
	assert.Equal(t, "PRODINFO", utf16leToString(entries[0].Name[:]))
}

func TestParseGptEntries__TruncatedArrayErrors(t *testing.T) {
	hdr := gptHeader{NumPartEnts: 2}
	_, err := parseGptEntries(hdr, make([]byte, gptEntrySize)) // only room for 1 entry
	assert.Error(t, err)
}

func TestIsEmptyGptEntry(t *testing.T) {
	assert.True(t, isEmptyGptEntry(rawGptEntry{}))
	assert.False(t, isEmptyGptEntry(rawGptEntry{TypeGUID: [16]byte{1}}))
}

func TestUtf16leToString__StopsAtNUL(t *testing.T) {
	raw := encodeUTF16LEName("SYSTEM", 72)
	assert.Equal(t, "SYSTEM", utf16leToString(raw[:]))
}

func TestGuidString__CanonicalFormat(t *testing.T) {
	// Mixed-endian GPT GUID for 00112233-4455-6677-8899-aabbccddeeff:
	// the first three fields are stored little-endian on disk.
	raw := [16]byte{
		0x33, 0x22, 0x11, 0x00, // time-low, LE
		0x55, 0x44, // time-mid, LE
		0x77, 0x66, // time-hi-and-version, LE
		0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, // clock-seq + node, BE
	}
	assert.Equal(t, "00112233-4455-6677-8899-aabbccddeeff", guidString(raw))
}
