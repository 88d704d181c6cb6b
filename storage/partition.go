package storage

import (
	"fmt"
	"unicode/utf16"

	"github.com/minkione/NxNandManager/nxerrors"
	"github.com/minkione/NxNandManager/xtscipher"
)

// clusterSize is the fixed allocation unit used for crypto-validation reads
// on this device (the fat32 package's free-space accounting uses the same
// value through its own constant).
const clusterSize = 0x4000

// Partition is a semantic subrange of a parent Storage, as produced by
// parsing a RAWNAND's GPT and matching each entry against the static
// catalog.
type Partition struct {
	parent *Storage

	Name       string
	TypeGUID   [16]byte
	UniqueGUID [16]byte
	LbaStart   uint64
	LbaEnd     uint64
	Attrs      uint64

	Kind        PartitionKind
	Valid       bool
	IsEncrypted bool
	Magic       []byte
	MagicOffset uint
	BadCrypto   bool

	cipher *xtscipher.XtsCipher
}

// Size returns the partition's length in bytes.
func (p *Partition) Size() uint64 {
	return (p.LbaEnd - p.LbaStart + 1) * sectorSize
}

// Parent returns the Storage that owns this partition.
func (p *Partition) Parent() *Storage { return p.parent }

// TypeGUIDString returns the partition's type GUID in canonical string form.
func (p *Partition) TypeGUIDString() string { return guidString(p.TypeGUID) }

// UniqueGUIDString returns the partition's unique GUID in canonical string form.
func (p *Partition) UniqueGUIDString() string { return guidString(p.UniqueGUID) }

// newPartition builds a Partition from a decoded GPT entry, matches it
// against the static catalog, and performs the construction-time
// already-decrypted probe described in the design notes: if the catalog
// expects encryption but a raw (uncrypted) read at the magic offset already
// finds the expected magic, the partition is treated as plaintext.
func newPartition(parent *Storage, e rawGptEntry) (*Partition, error) {
	name := utf16leToString(e.Name[:])

	p := &Partition{
		parent:     parent,
		Name:       name,
		TypeGUID:   e.TypeGUID,
		UniqueGUID: e.UniqueGUID,
		LbaStart:   e.LbaStart,
		LbaEnd:     e.LbaEnd,
		Attrs:      e.Attrs,
		Kind:       KindUNKNOWN,
	}

	entry, ok := lookupCatalog(name)
	if !ok {
		return p, nil
	}

	p.Valid = true
	p.Kind = entry.Kind
	p.IsEncrypted = entry.IsEncrypted
	p.Magic = entry.Magic
	p.MagicOffset = entry.MagicOffset

	if p.IsEncrypted && len(p.Magic) > 0 {
		alreadyPlain, err := p.probeRawMagic()
		if err != nil {
			return nil, err
		}
		if alreadyPlain {
			p.IsEncrypted = false
		}
	}

	return p, nil
}

// NewTestPartition builds a Partition by name on parent, going through the
// same catalog lookup and already-decrypted magic probe as a real GPT-parsed
// partition would. It exists for internal/nxtesting; production code always
// goes through a Storage's own GPT parse.
func NewTestPartition(parent *Storage, name string, lbaStart, lbaEnd uint64) (*Partition, error) {
	nameUnits := utf16.Encode([]rune(name))
	var rawName [72]byte
	for i, u := range nameUnits {
		if i*2+1 >= len(rawName) {
			break
		}
		rawName[i*2] = byte(u)
		rawName[i*2+1] = byte(u >> 8)
	}

	return newPartition(parent, rawGptEntry{
		LbaStart: lbaStart,
		LbaEnd:   lbaEnd,
		Name:     rawName,
	})
}

// probeRawMagic reads the catalog magic's byte range directly off the
// BlockDevice, with no cipher applied, and reports whether it already
// matches in clear.
func (p *Partition) probeRawMagic() (bool, error) {
	off := int64(p.LbaStart*sectorSize) + int64(p.MagicOffset)
	buf := make([]byte, len(p.Magic))
	if _, err := p.parent.device.ReadAt(buf, off); err != nil {
		return false, fmt.Errorf("partition %q: raw magic probe failed: %w", p.Name, err)
	}
	return bytesEqual(buf, p.Magic), nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SetCrypto installs an AES-XTS-128 cipher built from the given key pair on
// the partition and, if the partition is expected to be encrypted, validates
// it: the first cluster is read back through the new cipher and compared
// against the catalog magic at MagicOffset. A mismatch latches BadCrypto and
// the partition is refused for further logical (FAT32/copy) operations until
// a new cipher is installed.
func (p *Partition) SetCrypto(cryptoKey, tweakKey [xtscipher.KeySize]byte) error {
	cipher, err := xtscipher.New(cryptoKey, tweakKey)
	if err != nil {
		return err
	}
	p.cipher = cipher
	p.BadCrypto = false

	if !p.IsEncrypted || len(p.Magic) == 0 {
		return nil
	}

	stream := NewCryptoStream(p, ModeDecrypt, 0)
	firstCluster := make([]byte, clusterSize)
	if _, err := stream.Read(firstCluster); err != nil {
		return fmt.Errorf("partition %q: crypto validation read failed: %w", p.Name, err)
	}

	end := int(p.MagicOffset) + len(p.Magic)
	if end > len(firstCluster) || !bytesEqual(firstCluster[p.MagicOffset:end], p.Magic) {
		p.BadCrypto = true
		return nxerrors.ErrBadCrypto.WithMessage(fmt.Sprintf("partition %q failed magic validation", p.Name))
	}
	return nil
}

// Cipher returns the cipher installed by SetCrypto, or nil if none has been.
func (p *Partition) Cipher() *xtscipher.XtsCipher { return p.cipher }

// EncryptedReadable reports whether the partition can be read through a
// decrypting CryptoStream: it must either be plaintext already, or have a
// cipher installed that passed magic validation.
func (p *Partition) EncryptedReadable() bool {
	if !p.IsEncrypted {
		return true
	}
	return p.cipher != nil && !p.BadCrypto
}
