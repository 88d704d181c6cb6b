// Package xtscipher implements the AES-XTS-128 sector cipher used to
// transparently encrypt and decrypt NX partition contents. It is a thin,
// sector-oriented wrapper around golang.org/x/crypto/xts.
package xtscipher

import (
	"crypto/aes"
	"fmt"

	"golang.org/x/crypto/xts"
)

// KeySize is the length in bytes of each of the two keys (data key and tweak
// key) that make up an XtsCipher.
const KeySize = 16

// SectorSize is the fixed sector size every encrypt/decrypt call operates on.
const SectorSize = 512

// XtsCipher encrypts and decrypts 512-byte sectors addressed by their
// absolute sector index, using AES-128 in XTS mode. Since every buffer this
// cipher is given is a whole multiple of the AES block size (16 bytes),
// x/crypto/xts never needs to fall back to ciphertext stealing.
type XtsCipher struct {
	cipher *xts.Cipher
}

// New builds an XtsCipher from a 16-byte crypto (data) key and a 16-byte
// tweak key, concatenated into the 32-byte key golang.org/x/crypto/xts
// expects for AES-128-XTS.
func New(cryptoKey, tweakKey [KeySize]byte) (*XtsCipher, error) {
	key := make([]byte, 0, 2*KeySize)
	key = append(key, cryptoKey[:]...)
	key = append(key, tweakKey[:]...)

	c, err := xts.NewCipher(aes.NewCipher, key)
	if err != nil {
		return nil, fmt.Errorf("xtscipher: failed to construct AES-XTS cipher: %w", err)
	}
	return &XtsCipher{cipher: c}, nil
}

// Decrypt decrypts one or more whole sectors in place into dst, tweaking by
// sectorIndex (the absolute LBA of the first sector in src, i.e. the
// partition's LbaStart plus the sector's offset within the partition). len(src) must be a non-zero multiple of SectorSize.
func (x *XtsCipher) Decrypt(dst, src []byte, sectorIndex uint64) error {
	return x.transform(dst, src, sectorIndex, false)
}

// Encrypt is the mirror of Decrypt.
func (x *XtsCipher) Encrypt(dst, src []byte, sectorIndex uint64) error {
	return x.transform(dst, src, sectorIndex, true)
}

func (x *XtsCipher) transform(dst, src []byte, sectorIndex uint64, encrypt bool) error {
	if len(src)%SectorSize != 0 || len(src) == 0 {
		return fmt.Errorf("xtscipher: buffer length %d is not a non-zero multiple of %d", len(src), SectorSize)
	}
	if len(dst) < len(src) {
		return fmt.Errorf("xtscipher: destination buffer shorter than source")
	}

	sectors := len(src) / SectorSize
	for i := 0; i < sectors; i++ {
		start := i * SectorSize
		end := start + SectorSize
		if encrypt {
			x.cipher.Encrypt(dst[start:end], src[start:end], sectorIndex+uint64(i))
		} else {
			x.cipher.Decrypt(dst[start:end], src[start:end], sectorIndex+uint64(i))
		}
	}
	return nil
}
