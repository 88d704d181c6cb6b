package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

var dfCommand = &cli.Command{
	Name:      "df",
	Usage:     "print free space on a FAT32 partition, in raw bytes",
	ArgsUsage: "PATH PARTITION-KIND",
	Action:    runDf,
}

func runDf(c *cli.Context) error {
	s, r, err := openFat32(c)
	if err != nil {
		return err
	}
	defer s.Close()

	free, err := r.FreeSpace()
	if err != nil {
		return err
	}

	fmt.Println(free)
	return nil
}
