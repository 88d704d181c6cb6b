package nxtesting

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/minkione/NxNandManager/storage"
)

// NewStorage wraps imageBytes as an in-memory RAWNAND Storage and attaches a
// test partition for each name/lbaStart/lbaEnd triple, going through the
// same catalog lookup and magic probe a real GPT parse would.
func NewStorage(t *testing.T, imageBytes []byte, partitionSpecs ...PartitionSpec) *storage.Storage {
	device := NewBlockDevice(t, imageBytes)
	s := storage.NewTestStorage(device, storage.KindRAWNAND, nil)

	partitions := make([]*storage.Partition, 0, len(partitionSpecs))
	for _, spec := range partitionSpecs {
		p, err := storage.NewTestPartition(s, spec.Name, spec.LbaStart, spec.LbaEnd)
		require.NoErrorf(t, err, "failed to build test partition %q", spec.Name)
		partitions = append(partitions, p)
	}
	s.Partitions = partitions

	return s
}

// PartitionSpec describes one synthetic partition to attach via NewStorage.
type PartitionSpec struct {
	Name     string
	LbaStart uint64
	LbaEnd   uint64
}
