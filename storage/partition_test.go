package storage_test

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minkione/NxNandManager/internal/nxtesting"
	"github.com/minkione/NxNandManager/storage"
	"github.com/minkione/NxNandManager/xtscipher"
)

const testSectorSize = 512
const testClusterSize = 0x4000 // matches storage's fixed crypto-validation cluster size

var prodinfoMagic = []byte{0x43, 0x41, 0x4c, 0x30} // "CAL0"

func randomXtsKeys(t *testing.T) (crypto, tweak [xtscipher.KeySize]byte) {
	_, err := rand.Read(crypto[:])
	require.NoError(t, err)
	_, err = rand.Read(tweak[:])
	require.NoError(t, err)
	return
}

func TestPartition__AlreadyDecryptedIsDetectedAtConstruction(t *testing.T) {
	lbaStart := uint64(8)
	lbaEnd := lbaStart + testClusterSize/testSectorSize - 1

	image := nxtesting.CreateRandomImage(t, testSectorSize, uint(lbaEnd)+64)
	copy(image[lbaStart*testSectorSize:], prodinfoMagic)

	s := nxtesting.NewStorage(t, image, nxtesting.PartitionSpec{
		Name: "PRODINFO", LbaStart: lbaStart, LbaEnd: lbaEnd,
	})
	require.Len(t, s.Partitions, 1)

	p := s.Partitions[0]
	assert.Equal(t, storage.KindPRODINFO, p.Kind)
	assert.False(t, p.IsEncrypted, "magic already present in clear must flip IsEncrypted to false at construction")
}

func TestPartition__SetCryptoValidatesMagicThroughCipher(t *testing.T) {
	lbaStart := uint64(8)
	lbaEnd := lbaStart + testClusterSize/testSectorSize - 1

	image := nxtesting.CreateRandomImage(t, testSectorSize, uint(lbaEnd)+64)
	// Blank the magic-offset bytes so the raw (pre-encrypt) probe can't
	// accidentally see the clear-text magic and flip IsEncrypted to false.
	copy(image[lbaStart*testSectorSize:], make([]byte, 16))

	cryptoKey, tweakKey := randomXtsKeys(t)
	cipher, err := xtscipher.New(cryptoKey, tweakKey)
	require.NoError(t, err)

	plainCluster := nxtesting.CreateRandomImage(t, 1, testClusterSize)
	copy(plainCluster, prodinfoMagic)

	cipherCluster := make([]byte, testClusterSize)
	require.NoError(t, cipher.Encrypt(cipherCluster, plainCluster, lbaStart))
	copy(image[lbaStart*testSectorSize:], cipherCluster)

	s := nxtesting.NewStorage(t, image, nxtesting.PartitionSpec{
		Name: "PRODINFO", LbaStart: lbaStart, LbaEnd: lbaEnd,
	})
	p := s.Partitions[0]
	require.True(t, p.IsEncrypted, "ciphertext at the magic offset must not look already-decrypted")

	err = p.SetCrypto(cryptoKey, tweakKey)
	assert.NoError(t, err)
	assert.False(t, p.BadCrypto)
	assert.True(t, p.EncryptedReadable())
}

func TestPartition__SetCryptoDetectsBadCrypto(t *testing.T) {
	lbaStart := uint64(8)
	lbaEnd := lbaStart + testClusterSize/testSectorSize - 1

	image := nxtesting.CreateRandomImage(t, testSectorSize, uint(lbaEnd)+64)
	copy(image[lbaStart*testSectorSize:], make([]byte, 16))

	encryptKey, encryptTweak := randomXtsKeys(t)
	cipher, err := xtscipher.New(encryptKey, encryptTweak)
	require.NoError(t, err)

	plainCluster := nxtesting.CreateRandomImage(t, 1, testClusterSize)
	copy(plainCluster, prodinfoMagic)

	cipherCluster := make([]byte, testClusterSize)
	require.NoError(t, cipher.Encrypt(cipherCluster, plainCluster, lbaStart))
	copy(image[lbaStart*testSectorSize:], cipherCluster)

	s := nxtesting.NewStorage(t, image, nxtesting.PartitionSpec{
		Name: "PRODINFO", LbaStart: lbaStart, LbaEnd: lbaEnd,
	})
	p := s.Partitions[0]

	wrongKey, wrongTweak := randomXtsKeys(t)
	err = p.SetCrypto(wrongKey, wrongTweak)
	assert.Error(t, err)
	assert.True(t, p.BadCrypto)
	assert.False(t, p.EncryptedReadable())
}
