package main

import (
	"fmt"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/urfave/cli/v2"

	"github.com/minkione/NxNandManager/storage"
)

var inspectCommand = &cli.Command{
	Name:      "inspect",
	Usage:     "identify a storage image and list its partitions",
	ArgsUsage: "PATH",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "csv", Usage: "emit the partition table as CSV instead of a table"},
	},
	Action: runInspect,
}

// partitionRow is the CSV projection of storage.Partition: gocsv needs
// exported fields with csv tags, and a Partition carries unexported state
// (parent, cipher) gocsv has no business marshaling.
type partitionRow struct {
	Name       string `csv:"name"`
	Kind       string `csv:"kind"`
	LbaStart   uint64 `csv:"lba_start"`
	LbaEnd     uint64 `csv:"lba_end"`
	SizeBytes  uint64 `csv:"size_bytes"`
	Encrypted  bool   `csv:"encrypted"`
	Valid      bool   `csv:"valid"`
	TypeGUID   string `csv:"type_guid"`
	UniqueGUID string `csv:"unique_guid"`
}

func runInspect(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("inspect: PATH is required", 1)
	}

	s, err := storage.Inspect(path, storage.DiskGeometry{}, loggerFromContext(c))
	if err != nil {
		return err
	}
	defer s.Close()

	if c.Bool("csv") {
		rows := make([]*partitionRow, len(s.Partitions))
		for i, p := range s.Partitions {
			rows[i] = &partitionRow{
				Name:       p.Name,
				Kind:       string(p.Kind),
				LbaStart:   p.LbaStart,
				LbaEnd:     p.LbaEnd,
				SizeBytes:  p.Size(),
				Encrypted:  p.IsEncrypted,
				Valid:      p.Valid,
				TypeGUID:   p.TypeGUIDString(),
				UniqueGUID: p.UniqueGUIDString(),
			}
		}
		out, err := gocsv.MarshalString(rows)
		if err != nil {
			return fmt.Errorf("inspect: marshaling CSV: %w", err)
		}
		fmt.Fprint(os.Stdout, out)
		return nil
	}

	fmt.Printf("%s  kind=%s  size=%d bytes\n", path, s.Kind, s.Size())
	if len(s.Partitions) == 0 {
		return nil
	}

	fmt.Printf("%-16s %-10s %12s %12s %14s %-9s %s\n",
		"NAME", "KIND", "LBA_START", "LBA_END", "SIZE", "ENCRYPTED", "TYPE_GUID")
	for _, p := range s.Partitions {
		fmt.Printf("%-16s %-10s %12d %12d %14d %-9t %s\n",
			p.Name, p.Kind, p.LbaStart, p.LbaEnd, p.Size(), p.IsEncrypted, p.TypeGUIDString())
	}
	return nil
}
