package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/minkione/NxNandManager/fat32"
	"github.com/minkione/NxNandManager/storage"
)

var lsCommand = &cli.Command{
	Name:      "ls",
	Usage:     "list a directory on a FAT32 partition",
	ArgsUsage: "PATH PARTITION-KIND [DIR-PATH]",
	Action:    runLs,
}

func openFat32(c *cli.Context) (*storage.Storage, *fat32.Reader, error) {
	args := c.Args()
	if args.Len() < 2 {
		return nil, nil, cli.Exit("PATH and PARTITION-KIND are required", 1)
	}
	path, kind := args.Get(0), args.Get(1)

	s, err := storage.Inspect(path, storage.DiskGeometry{}, loggerFromContext(c))
	if err != nil {
		return nil, nil, err
	}

	partition, err := s.PartitionByKind(storage.PartitionKind(kind))
	if err != nil {
		s.Close()
		return nil, nil, err
	}

	r, err := fat32.Open(partition)
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return s, r, nil
}

func runLs(c *cli.Context) error {
	s, r, err := openFat32(c)
	if err != nil {
		return err
	}
	defer s.Close()

	dirPath := ""
	if c.Args().Len() >= 3 {
		dirPath = c.Args().Get(2)
	}

	entries, err := r.Dir(dirPath)
	if err != nil {
		return err
	}

	for _, e := range entries {
		kind := "FILE"
		if e.IsDirectory {
			kind = "DIR "
		}
		fmt.Printf("%s  %10d  %s\n", kind, e.FileSize, e.Name)
	}
	return nil
}
