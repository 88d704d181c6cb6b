package storage

import (
	"crypto/md5"
	"fmt"
	"hash"

	"github.com/minkione/NxNandManager/nxerrors"
)

// CryptoMode selects how a CryptoStream transforms sectors as they cross the
// BlockDevice boundary.
type CryptoMode int

const (
	// ModeNoCrypto passes bytes through unchanged.
	ModeNoCrypto CryptoMode = iota
	// ModeDecrypt decrypts every sector read from the BlockDevice before
	// handing it to the caller; writes in this mode are illegal.
	ModeDecrypt
	// ModeEncrypt encrypts every sector that crosses the BlockDevice
	// boundary: sectors written are encrypted before they reach the device,
	// and sectors read are encrypted before they are handed to the caller
	// (the restore path that turns a plaintext source into ciphertext).
	ModeEncrypt
)

// defaultBufferSize is the stream's recommended copy-buffer size: the
// smallest power of two at least 1 MiB, and always a multiple of the sector
// size so crypto-mode reads stay sector-aligned.
const defaultBufferSize = 1 << 20

// CryptoStream is a stateful cursor over a Partition's byte range that
// applies the partition's XtsCipher transparently, sector by sector, and
// maintains a running MD5 of every byte it has handed to the caller on a
// read (after transformation) or accepted from the caller on a write (as
// given, before any encryption).
type CryptoStream struct {
	partition *Partition
	mode      CryptoMode
	cursor    int64 // relative to partition start
	digest    hash.Hash
}

// NewCryptoStream builds a stream over partition in the given mode, starting
// at byte offset start.
func NewCryptoStream(partition *Partition, mode CryptoMode, start int64) *CryptoStream {
	return &CryptoStream{
		partition: partition,
		mode:      mode,
		cursor:    start,
		digest:    md5.New(),
	}
}

// DefaultBufferSize returns the stream's recommended copy-buffer size.
func (s *CryptoStream) DefaultBufferSize() int {
	return defaultBufferSize
}

// Tell returns the current cursor position relative to the partition start.
func (s *CryptoStream) Tell() int64 { return s.cursor }

// Size returns the partition's total byte length.
func (s *CryptoStream) Size() int64 { return int64(s.partition.Size()) }

// Seek moves the cursor to an absolute partition-relative byte offset. Seeks
// in a crypto mode must land on a sector boundary, since sector alignment is
// what makes the per-sector tweak well defined.
func (s *CryptoStream) Seek(offset int64) error {
	if s.mode != ModeNoCrypto && offset%sectorSize != 0 {
		return nxerrors.ErrInvalidArgument.WithMessage("seek offset must be sector-aligned in a crypto mode")
	}
	if offset < 0 || offset > s.Size() {
		return nxerrors.ErrInvalidArgument.WithMessage("seek offset out of range")
	}
	s.cursor = offset
	return nil
}

// Read fills buf with up to len(buf) bytes starting at the cursor, advancing
// it by the number of bytes returned. A read that reaches the end of the
// partition returns a short count and no error; a read starting at or past
// the end returns (0, nil).
func (s *CryptoStream) Read(buf []byte) (int, error) {
	remaining := s.Size() - s.cursor
	if remaining <= 0 {
		return 0, nil
	}
	want := int64(len(buf))
	if want > remaining {
		want = remaining
	}

	n, err := s.readThrough(buf, want)
	if n > 0 {
		s.digest.Write(buf[:n])
		s.cursor += int64(n)
	}
	return n, err
}

// readThrough reads want bytes (which may not be sector-aligned, e.g. the
// final short read at partition end) starting at the cursor into buf. In a
// crypto mode the underlying BlockDevice read is always rounded up to whole
// sectors, decrypted (ModeDecrypt) or encrypted (ModeEncrypt) in place in a
// sector-aligned staging buffer, and only the requested byte count is
// copied back out to the caller.
func (s *CryptoStream) readThrough(buf []byte, want int64) (int, error) {
	absOffset := int64(s.partition.LbaStart*sectorSize) + s.cursor

	if s.mode == ModeNoCrypto {
		return s.partition.parent.device.ReadAt(buf[:want], absOffset)
	}

	cipher := s.partition.cipher
	if cipher == nil {
		return 0, nxerrors.ErrNotEncryptedReadable.WithMessage(s.partition.Name)
	}
	transform := cipher.Decrypt
	if s.mode == ModeEncrypt {
		transform = cipher.Encrypt
	}

	alignedLen := ((want + sectorSize - 1) / sectorSize) * sectorSize
	staging := make([]byte, alignedLen)

	n, err := s.partition.parent.device.ReadAt(staging, absOffset)
	if err != nil && n == 0 {
		return 0, err
	}

	sectorIndex := s.partition.LbaStart + uint64(s.cursor)/sectorSize
	sectorsRead := (n + sectorSize - 1) / sectorSize
	if err := transform(staging[:sectorsRead*sectorSize], staging[:sectorsRead*sectorSize], sectorIndex); err != nil {
		return 0, err
	}

	got := int64(n)
	if got > want {
		got = want
	}
	copy(buf[:got], staging[:got])
	return int(got), nil
}

// Write writes buf at the cursor, advancing it by the number of bytes
// written. Only ModeNoCrypto and ModeEncrypt are legal for writes.
func (s *CryptoStream) Write(buf []byte) (int, error) {
	n, err := s.writeThrough(buf)
	if n > 0 {
		s.digest.Write(buf[:n])
		s.cursor += int64(n)
	}
	return n, err
}

func (s *CryptoStream) writeThrough(buf []byte) (int, error) {
	absOffset := int64(s.partition.LbaStart*sectorSize) + s.cursor

	switch s.mode {
	case ModeNoCrypto:
		return s.partition.parent.device.WriteAt(buf, absOffset)

	case ModeEncrypt:
		if len(buf)%sectorSize != 0 {
			return 0, nxerrors.ErrInvalidArgument.WithMessage("encrypt-mode write must be a whole number of sectors")
		}
		cipher := s.partition.cipher
		if cipher == nil {
			return 0, nxerrors.ErrNotEncryptedReadable.WithMessage(s.partition.Name)
		}
		sectorIndex := s.partition.LbaStart + uint64(s.cursor)/sectorSize
		ciphertext := make([]byte, len(buf))
		if err := cipher.Encrypt(ciphertext, buf, sectorIndex); err != nil {
			return 0, err
		}
		return s.partition.parent.device.WriteAt(ciphertext, absOffset)

	case ModeDecrypt:
		return 0, nxerrors.ErrInvalidArgument.WithMessage("cannot write a stream opened in DECRYPT mode")
	}
	return 0, fmt.Errorf("cryptostream: unknown mode %v", s.mode)
}

// MD5Finalize returns the MD5 digest of every byte this stream has read or
// written so far: bytes read are hashed after transformation, bytes written
// as the caller supplied them, before encryption. Calling it does not reset
// the running hash.
func (s *CryptoStream) MD5Finalize() [md5.Size]byte {
	var sum [md5.Size]byte
	copy(sum[:], s.digest.Sum(nil))
	return sum
}
