package copyengine

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/minkione/NxNandManager/logger"
	"github.com/minkione/NxNandManager/nxerrors"
	"github.com/minkione/NxNandManager/storage"
)

// CopyMode selects the crypto transform a dump or restore applies while
// copying. ModeVerify is a synonym for "copy with no transformation, then
// verify the destination's digest against the source's." Only DumpToFile
// performs that verification; RestorePartition copies as in ModeRaw.
type CopyMode int

const (
	ModeRaw CopyMode = iota
	ModeDecrypt
	ModeEncrypt
	ModeVerify
)

func (m CopyMode) cryptoMode() storage.CryptoMode {
	switch m {
	case ModeDecrypt:
		return storage.ModeDecrypt
	case ModeEncrypt:
		return storage.ModeEncrypt
	default:
		return storage.ModeNoCrypto
	}
}

// Result carries the outcome of a successful dump or restore.
type Result struct {
	BytesCopied uint64
	MD5         [md5.Size]byte
}

// DumpToFile streams partition's contents to a newly created file at
// destPath, applying mode's crypto transform in flight. stopWork is
// observed once per buffer chunk; setting it from another goroutine cancels
// the operation at the next chunk boundary. progress may be nil.
func DumpToFile(
	partition *storage.Partition,
	destPath string,
	mode CopyMode,
	stopWork *atomic.Bool,
	progress ProgressFunc,
	log *logger.Logger,
) (Result, error) {
	if log == nil {
		log = logger.Discard
	}

	if err := checkDumpPreconditions(partition, mode); err != nil {
		return Result{}, err
	}

	if _, err := os.Stat(destPath); err == nil {
		return Result{}, nxerrors.ErrFileAlreadyExists.WithMessage(destPath)
	} else if !os.IsNotExist(err) {
		return Result{}, nxerrors.ErrWhileCopy.WrapError(err)
	}

	parent := partition.Parent()
	if err := parent.Lock(); err != nil {
		return Result{}, nxerrors.ErrWhileCopy.WrapError(err)
	}
	defer func() {
		if err := parent.Unlock(); err != nil {
			log.Warnf("copyengine: failed to unlock source volume: %v", err)
		}
	}()

	dest, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return Result{}, nxerrors.ErrWhileCopy.WrapError(err)
	}
	defer closeAndLog(dest, log, "destination file")

	src := storage.NewCryptoStream(partition, mode.cryptoMode(), 0)
	total := uint64(partition.Size())

	progressMode := ModeCopy
	if mode == ModeVerify {
		progressMode = ModeMD5Hash
	}

	copied, err := copyLoop(src, dest, total, progressMode, partition.Name, stopWork, progress, src.DefaultBufferSize(), log)
	if err != nil {
		return Result{}, err
	}

	result := Result{BytesCopied: copied, MD5: src.MD5Finalize()}

	if mode == ModeVerify {
		if err := dest.Sync(); err != nil {
			return result, nxerrors.ErrWhileCopy.WrapError(err)
		}
		if err := verifyDumpMD5(destPath, result.MD5); err != nil {
			return result, err
		}
	}

	return result, nil
}

func checkDumpPreconditions(partition *storage.Partition, mode CopyMode) error {
	switch mode {
	case ModeDecrypt:
		if !partition.IsEncrypted {
			return nxerrors.ErrCryptoDecryptedYet
		}
	case ModeEncrypt:
		if partition.IsEncrypted {
			return nxerrors.ErrCryptoEncryptedYet
		}
	}
	return nil
}

// verifyDumpMD5 rewinds the just-written dump file, hashes it, and compares
// the digest against the one accumulated while streaming from the source.
func verifyDumpMD5(path string, sourceDigest [md5.Size]byte) error {
	f, err := os.Open(path)
	if err != nil {
		return nxerrors.ErrWhileCopy.WrapError(err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return nxerrors.ErrWhileCopy.WrapError(err)
	}

	var destDigest [md5.Size]byte
	copy(destDigest[:], h.Sum(nil))
	if destDigest != sourceDigest {
		return nxerrors.ErrMD5Compare
	}
	return nil
}

// restoreFromStream streams destPartition's contents in from a source
// stream already positioned at the start of the source partition's data
// (source.LbaStart-relative), driving a CryptoStream on destPartition in
// NO_CRYPTO mode. It is the caller's responsibility (see RestorePartition)
// to have located and size-checked the matching source partition.
func restoreFromStream(
	src *storage.CryptoStream,
	destPartition *storage.Partition,
	stopWork *atomic.Bool,
	progress ProgressFunc,
	log *logger.Logger,
) (Result, error) {
	dst := storage.NewCryptoStream(destPartition, storage.ModeNoCrypto, 0)
	total := uint64(destPartition.Size())

	copied, err := copyLoop(src, dst, total, ModeRestore, destPartition.Name, stopWork, progress, src.DefaultBufferSize(), log)
	if err != nil {
		return Result{}, err
	}
	return Result{BytesCopied: copied, MD5: dst.MD5Finalize()}, nil
}

// RestorePartition restores destPartition on destStorage from the partition
// of the same kind found on sourceStorage, applying mode's crypto transform
// in flight. Both volumes are locked for the duration if they are drives.
func RestorePartition(
	sourceStorage *storage.Storage,
	destPartition *storage.Partition,
	mode CopyMode,
	stopWork *atomic.Bool,
	progress ProgressFunc,
	log *logger.Logger,
) (Result, error) {
	if log == nil {
		log = logger.Discard
	}

	sourcePartition, err := sourceStorage.PartitionByKind(destPartition.Kind)
	if err != nil {
		return Result{}, nxerrors.ErrInPartNotFound.WithMessage(string(destPartition.Kind))
	}

	if err := checkRestorePreconditions(sourcePartition, destPartition, mode); err != nil {
		return Result{}, err
	}

	if err := sourceStorage.Lock(); err != nil {
		return Result{}, nxerrors.ErrWhileCopy.WrapError(err)
	}

	destParent := destPartition.Parent()
	if err := destParent.Lock(); err != nil {
		_ = sourceStorage.Unlock()
		return Result{}, nxerrors.ErrWhileCopy.WrapError(err)
	}

	defer func() {
		if err := accumulateCleanupErrors(sourceStorage.Unlock(), destParent.Unlock()); err != nil {
			log.Warnf("copyengine: failed to release volume locks: %v", err)
		}
	}()

	src := storage.NewCryptoStream(sourcePartition, mode.cryptoMode(), 0)
	return restoreFromStream(src, destPartition, stopWork, progress, log)
}

func checkRestorePreconditions(source, dest *storage.Partition, mode CopyMode) error {
	if mode != ModeEncrypt && mode != ModeDecrypt {
		if source.IsEncrypted && !dest.IsEncrypted {
			return nxerrors.ErrRestoreCryptoMissing
		}
		if !source.IsEncrypted && dest.IsEncrypted {
			return nxerrors.ErrRestoreCryptoMissing2
		}
	}
	if mode == ModeDecrypt && !source.IsEncrypted {
		return nxerrors.ErrCryptoDecryptedYet
	}
	if mode == ModeEncrypt && source.IsEncrypted {
		return nxerrors.ErrCryptoEncryptedYet
	}
	if source.Size() > dest.Size() {
		return nxerrors.ErrIOMismatch
	}
	return nil
}

// copyReader is the minimal read-side contract copyLoop needs, satisfied by
// *storage.CryptoStream.
type copyReader interface {
	Read(buf []byte) (int, error)
}

// copyWriter is the minimal write-side contract copyLoop needs.
type copyWriter interface {
	Write(buf []byte) (int, error)
}

// copyLoop is the buffered read/write/progress/cancel loop shared by
// DumpToFile and RestorePartition.
func copyLoop(
	src copyReader,
	dst copyWriter,
	total uint64,
	mode ProgressMode,
	storageName string,
	stopWork *atomic.Bool,
	progress ProgressFunc,
	bufferSize int,
	log *logger.Logger,
) (uint64, error) {
	buffer := make([]byte, bufferSize)
	var bytesCount uint64
	beginTime := time.Now()

	for {
		if stopWork != nil && stopWork.Load() {
			log.Info("copyengine: cancellation observed at buffer boundary")
			return bytesCount, nxerrors.ErrUserAbort
		}

		n, readErr := src.Read(buffer)
		if n > 0 {
			written, writeErr := dst.Write(buffer[:n])
			bytesCount += uint64(written)
			if writeErr != nil {
				return bytesCount, nxerrors.ErrWhileCopy.WrapError(writeErr)
			}
			if written < n {
				return bytesCount, nxerrors.ErrWhileCopy
			}
		}

		if progress != nil {
			progress(ProgressInfo{
				Mode:           mode,
				StorageName:    storageName,
				BytesCount:     bytesCount,
				BytesTotal:     total,
				BeginTime:      beginTime,
				ElapsedSeconds: time.Since(beginTime).Seconds(),
			})
		}

		if readErr != nil {
			return bytesCount, nxerrors.ErrWhileCopy.WrapError(readErr)
		}
		if n == 0 {
			break
		}
	}

	if bytesCount != total {
		return bytesCount, nxerrors.ErrWhileCopy.WithMessage(
			fmt.Sprintf("copied %d of %d expected bytes", bytesCount, total))
	}
	return bytesCount, nil
}

func closeAndLog(c io.Closer, log *logger.Logger, what string) {
	if err := c.Close(); err != nil {
		log.Warnf("copyengine: failed to close %s: %v", what, err)
	}
}

// accumulateCleanupErrors is used by callers that need to close/unlock
// several resources on an error path and report every failure, not just the
// first — the same multierror-based "keep going, collect everything" shape
// the pack uses for accumulating independent validation failures.
func accumulateCleanupErrors(errs ...error) error {
	var result *multierror.Error
	for _, err := range errs {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
