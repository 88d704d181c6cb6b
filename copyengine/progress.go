// Package copyengine orchestrates streaming dump-to-file and
// restore-from-storage operations over storage.CryptoStream, with progress
// reporting, cooperative cancellation, and MD5 round-trip verification.
package copyengine

import "time"

// ProgressMode identifies which kind of operation a ProgressInfo describes.
type ProgressMode int

const (
	ModeCopy ProgressMode = iota
	ModeRestore
	ModeMD5Hash
)

func (m ProgressMode) String() string {
	switch m {
	case ModeCopy:
		return "COPY"
	case ModeRestore:
		return "RESTORE"
	case ModeMD5Hash:
		return "MD5_HASH"
	default:
		return "UNKNOWN"
	}
}

// ProgressInfo is handed to the caller's progress callback between buffer
// chunks. It must never be retained across calls: BytesCount and
// ElapsedSeconds are only valid at the instant the callback runs.
type ProgressInfo struct {
	Mode           ProgressMode
	StorageName    string
	BytesCount     uint64
	BytesTotal     uint64
	BeginTime      time.Time
	ElapsedSeconds float64
}

// ProgressFunc is the caller-supplied progress callback. It must be
// non-blocking and must never call back into the engine that invoked it.
type ProgressFunc func(ProgressInfo)
