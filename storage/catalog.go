package storage

import (
	_ "embed"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
)

// PartitionKind enumerates the known NX partition roles. UNKNOWN covers any
// GPT entry whose name isn't found in the catalog.
type PartitionKind string

const (
	KindPRODINFO  PartitionKind = "PRODINFO"
	KindPRODINFOF PartitionKind = "PRODINFOF"
	KindBCPKG21   PartitionKind = "BCPKG2-1"
	KindBCPKG22   PartitionKind = "BCPKG2-2"
	KindBCPKG23   PartitionKind = "BCPKG2-3"
	KindBCPKG24   PartitionKind = "BCPKG2-4"
	KindSAFE      PartitionKind = "SAFE"
	KindSYSTEM    PartitionKind = "SYSTEM"
	KindUSER      PartitionKind = "USER"
	KindUNKNOWN   PartitionKind = "UNKNOWN"
)

// catalogEntry is one row of the static partition catalog: the sole source of
// truth for whether a GPT entry is expected to be encrypted and how its
// decrypted content can be validated.
type catalogEntry struct {
	Name         string `csv:"name"`
	Kind         string `csv:"kind"`
	IsEncrypted  bool   `csv:"is_encrypted"`
	MagicHex     string `csv:"magic_hex"`
	MagicOffset  uint   `csv:"magic_offset"`
}

// Catalog is the static, data-driven table of known partitions.
type Catalog struct {
	Kind        PartitionKind
	IsEncrypted bool
	Magic       []byte
	MagicOffset uint
}

//go:embed catalog.csv
var catalogRawCSV string

var catalogByName map[string]Catalog

func init() {
	catalogByName = make(map[string]Catalog)
	reader := strings.NewReader(catalogRawCSV)
	err := gocsv.UnmarshalToCallback(reader, func(row catalogEntry) error {
		magic, err := hex.DecodeString(row.MagicHex)
		if err != nil {
			return fmt.Errorf("catalog row %q: bad magic hex %q: %w", row.Name, row.MagicHex, err)
		}
		key := strings.ToUpper(row.Name)
		if _, exists := catalogByName[key]; exists {
			return fmt.Errorf("duplicate catalog entry for partition name %q", row.Name)
		}
		catalogByName[key] = Catalog{
			Kind:        PartitionKind(row.Kind),
			IsEncrypted: row.IsEncrypted,
			Magic:       magic,
			MagicOffset: row.MagicOffset,
		}
		return nil
	})
	if err != nil && err != io.EOF {
		panic(err)
	}
}

// lookupCatalog matches a GPT partition name against the static catalog,
// case-insensitively. The bool return is false for any name not in the
// catalog.
func lookupCatalog(name string) (Catalog, bool) {
	entry, ok := catalogByName[strings.ToUpper(name)]
	return entry, ok
}
