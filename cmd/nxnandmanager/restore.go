package main

import (
	"encoding/hex"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/minkione/NxNandManager/copyengine"
	"github.com/minkione/NxNandManager/storage"
)

var restoreCommand = &cli.Command{
	Name:      "restore",
	Usage:     "restore one partition from the matching partition on another image",
	ArgsUsage: "SOURCE-PATH PARTITION-KIND DEST-PATH",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "mode", Value: "raw", Usage: "raw, decrypt, or encrypt"},
		&cli.StringFlag{Name: "crypto-key", Usage: "hex-encoded 16-byte data key (decrypt/encrypt modes)"},
		&cli.StringFlag{Name: "tweak-key", Usage: "hex-encoded 16-byte tweak key (decrypt/encrypt modes)"},
	},
	Action: runRestore,
}

func runRestore(c *cli.Context) error {
	args := c.Args()
	if args.Len() < 3 {
		return cli.Exit("restore: SOURCE-PATH PARTITION-KIND DEST-PATH are required", 1)
	}
	sourcePath, kind, destPath := args.Get(0), args.Get(1), args.Get(2)

	mode, err := parseCopyMode(c.String("mode"))
	if err != nil {
		return err
	}

	log := loggerFromContext(c)

	sourceStorage, err := storage.Inspect(sourcePath, storage.DiskGeometry{}, log)
	if err != nil {
		return err
	}
	defer sourceStorage.Close()

	destStorage, err := storage.Inspect(destPath, storage.DiskGeometry{}, log)
	if err != nil {
		return err
	}
	defer destStorage.Close()

	destPartition, err := destStorage.PartitionByKind(storage.PartitionKind(kind))
	if err != nil {
		return err
	}

	if mode == copyengine.ModeDecrypt || mode == copyengine.ModeEncrypt {
		cryptoKey, tweakKey, err := parseKeyFlags(c.String("crypto-key"), c.String("tweak-key"))
		if err != nil {
			return err
		}
		sourcePartition, err := sourceStorage.PartitionByKind(storage.PartitionKind(kind))
		if err != nil {
			return err
		}
		if err := sourcePartition.SetCrypto(cryptoKey, tweakKey); err != nil {
			return err
		}
	}

	result, err := copyengine.RestorePartition(sourceStorage, destPartition, mode, &stopWork, renderProgress, log)
	finishProgress()
	if err != nil {
		return err
	}

	fmt.Printf("restored %d bytes, md5=%s\n", result.BytesCopied, hex.EncodeToString(result.MD5[:]))
	return nil
}
