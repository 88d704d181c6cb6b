package main

import (
	"encoding/hex"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/minkione/NxNandManager/copyengine"
	"github.com/minkione/NxNandManager/storage"
)

var dumpCommand = &cli.Command{
	Name:      "dump",
	Usage:     "stream one partition out to a file",
	ArgsUsage: "PATH PARTITION-KIND DEST-FILE",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "mode", Value: "raw", Usage: "raw, decrypt, or encrypt"},
		&cli.StringFlag{Name: "crypto-key", Usage: "hex-encoded 16-byte data key (decrypt/encrypt modes)"},
		&cli.StringFlag{Name: "tweak-key", Usage: "hex-encoded 16-byte tweak key (decrypt/encrypt modes)"},
	},
	Action: runDump,
}

func parseCopyMode(s string) (copyengine.CopyMode, error) {
	switch s {
	case "raw", "":
		return copyengine.ModeRaw, nil
	case "decrypt":
		return copyengine.ModeDecrypt, nil
	case "encrypt":
		return copyengine.ModeEncrypt, nil
	default:
		return 0, fmt.Errorf("--mode: unknown mode %q", s)
	}
}

func runDump(c *cli.Context) error {
	args := c.Args()
	if args.Len() < 3 {
		return cli.Exit("dump: PATH PARTITION-KIND DEST-FILE are required", 1)
	}
	path, kind, destPath := args.Get(0), args.Get(1), args.Get(2)

	mode, err := parseCopyMode(c.String("mode"))
	if err != nil {
		return err
	}

	log := loggerFromContext(c)
	s, err := storage.Inspect(path, storage.DiskGeometry{}, log)
	if err != nil {
		return err
	}
	defer s.Close()

	partition, err := s.PartitionByKind(storage.PartitionKind(kind))
	if err != nil {
		return err
	}

	if mode == copyengine.ModeDecrypt || mode == copyengine.ModeEncrypt {
		cryptoKey, tweakKey, err := parseKeyFlags(c.String("crypto-key"), c.String("tweak-key"))
		if err != nil {
			return err
		}
		if err := partition.SetCrypto(cryptoKey, tweakKey); err != nil {
			return err
		}
	}

	result, err := copyengine.DumpToFile(partition, destPath, mode, &stopWork, renderProgress, log)
	finishProgress()
	if err != nil {
		return err
	}

	fmt.Printf("dumped %d bytes, md5=%s\n", result.BytesCopied, hex.EncodeToString(result.MD5[:]))
	return nil
}
