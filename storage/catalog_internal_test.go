package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupCatalog__CaseInsensitive(t *testing.T) {
	exact, ok := lookupCatalog("PRODINFO")
	require.True(t, ok)

	lower, ok := lookupCatalog("prodinfo")
	require.True(t, ok)

	mixed, ok := lookupCatalog("PrOdInFo")
	require.True(t, ok)

	assert.Equal(t, exact, lower)
	assert.Equal(t, exact, mixed)
	assert.Equal(t, KindPRODINFO, exact.Kind)
	assert.True(t, exact.IsEncrypted)
}

func TestLookupCatalog__UnknownName(t *testing.T) {
	_, ok := lookupCatalog("NOT-A-REAL-PARTITION")
	assert.False(t, ok)
}

func TestLookupCatalog__FatHostingPartitionsExpectEB5890Magic(t *testing.T) {
	for _, name := range []string{"SAFE", "SYSTEM", "USER"} {
		entry, ok := lookupCatalog(name)
		require.Truef(t, ok, "catalog missing entry for %q", name)
		assert.Equal(t, []byte{0xEB, 0x58, 0x90}, entry.Magic, "partition %q", name)
		assert.Equal(t, uint(0), entry.MagicOffset, "partition %q", name)
	}
}
