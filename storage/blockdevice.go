package storage

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"syscall"
	"unsafe"

	"github.com/minkione/NxNandManager/logger"
)

// blkGetSize64 is the Linux ioctl request number for BLKGETSIZE64, reading a
// block device's capacity in bytes.
const blkGetSize64 = 0x80081272

// blockBackend is the minimal contract BlockDevice needs from its backing
// store: production code always supplies an *os.File, but internal/nxtesting
// supplies an in-memory adapter instead so packages can be tested without
// touching disk.
type blockBackend interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}

// BlockDevice is a uniform byte/sector-addressed read/write layer over
// either a regular file (disk image) or a raw block device. Reads and
// writes beyond its reported size are rejected; Lock and Unlock take no
// lock of any kind (see Lock).
type BlockDevice struct {
	backend  blockBackend
	size     int64
	isDrive  bool
	readOnly bool
	log      *logger.Logger
}

// NewTestBlockDevice builds a BlockDevice directly from an in-memory backend
// of the given size, bypassing Open's file-path/geometry resolution. It
// exists for internal/nxtesting; production code always goes through Open.
func NewTestBlockDevice(backend interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}, size int64) *BlockDevice {
	return &BlockDevice{backend: backend, size: size, log: logger.Discard}
}

// Open opens path for block-addressed I/O. It tries read-write first and
// falls back to read-only, matching the access-mode fallback the pack's
// device-probing code uses. A regular file's size is then resolved by
// seeking to its end; a raw device's size comes from the BLKGETSIZE64 ioctl
// on Linux, else from the supplied geometry if it is non-zero, else by
// seeking to the end.
func Open(path string, geometry DiskGeometry, log *logger.Logger) (*BlockDevice, error) {
	if log == nil {
		log = logger.Discard
	}

	file, readOnly, err := openWithFallback(path)
	if err != nil {
		return nil, fmt.Errorf("blockdevice: open %q: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("blockdevice: stat %q: %w", path, err)
	}
	isDrive := info.Mode()&os.ModeDevice != 0

	size, err := resolveFileSize(file, isDrive, geometry, log)
	if err != nil {
		file.Close()
		return nil, err
	}

	dev := &BlockDevice{
		backend:  file,
		size:     size,
		isDrive:  isDrive,
		readOnly: readOnly,
		log:      log,
	}

	log.Debugf("blockdevice: opened %q (drive=%v readOnly=%v size=%d)", path, dev.isDrive, dev.readOnly, dev.size)
	return dev, nil
}

func openWithFallback(path string) (*os.File, bool, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err == nil {
		return file, false, nil
	}
	file, err = os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, false, err
	}
	return file, true, nil
}

func resolveFileSize(file *os.File, isDrive bool, geometry DiskGeometry, log *logger.Logger) (int64, error) {
	if !isDrive {
		return file.Seek(0, io.SeekEnd)
	}

	if runtime.GOOS == "linux" {
		if size, err := blockDeviceSizeLinux(file); err == nil {
			return size, nil
		}
		log.Warn("blockdevice: BLKGETSIZE64 failed, falling back to disk geometry")
	}

	if geometry.TotalSizeBytes() > 0 {
		return geometry.TotalSizeBytes(), nil
	}
	return file.Seek(0, io.SeekEnd)
}

func blockDeviceSizeLinux(file *os.File) (int64, error) {
	var size int64
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, file.Fd(), blkGetSize64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, errno
	}
	return size, nil
}

// Size returns the device's total addressable length in bytes.
func (d *BlockDevice) Size() int64 { return d.size }

// IsDrive reports whether the backing store is a raw block device rather
// than a regular file.
func (d *BlockDevice) IsDrive() bool { return d.isDrive }

// ReadOnly reports whether the device could only be opened read-only.
func (d *BlockDevice) ReadOnly() bool { return d.readOnly }

// ReadAt reads len(p) bytes starting at absolute byte offset off. Short
// reads strictly inside the device's bounds are an error; a read that ends
// exactly at or before the end of the device succeeds even if off+len(p)
// reaches the final byte.
func (d *BlockDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > d.size {
		return 0, fmt.Errorf("blockdevice: read offset %d out of range [0, %d]", off, d.size)
	}
	n, err := d.backend.ReadAt(p, off)
	if err == io.EOF && n == len(p) {
		err = nil
	}
	return n, err
}

// WriteAt writes len(p) bytes at absolute byte offset off. A write that
// would run past the end of the device is rejected.
func (d *BlockDevice) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off > d.size || int64(len(p)) > d.size-off {
		return 0, fmt.Errorf("blockdevice: write of %d bytes at offset %d out of range [0, %d]", len(p), off, d.size)
	}
	return d.backend.WriteAt(p, off)
}

// Lock is called before an operation's first I/O. It takes no lock: for
// regular files it does nothing, and for raw drives it only writes a debug
// log line, so it does not exclude other users of the same device.
func (d *BlockDevice) Lock() error {
	if !d.isDrive {
		return nil
	}
	d.log.Debug("blockdevice: lock (drive)")
	return nil
}

// Unlock is the counterpart of Lock and likewise only writes a debug log
// line on raw drives. Always safe to call, including on a device that was
// never locked.
func (d *BlockDevice) Unlock() error {
	if !d.isDrive {
		return nil
	}
	d.log.Debug("blockdevice: unlock (drive)")
	return nil
}

// Close releases the underlying file handle.
func (d *BlockDevice) Close() error {
	return d.backend.Close()
}
