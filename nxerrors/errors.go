// Package nxerrors defines the stable error codes surfaced by the NX NAND
// core. Every condition in the copy/crypto/restore taxonomy maps to exactly
// one of these codes, returned rather than panicked across the copy loop.
package nxerrors

import "fmt"

// Code is a stable, named error condition. It implements the error interface
// directly so a bare Code can be compared with errors.Is or returned as-is.
type Code string

const (
	// ErrWhileCopy covers open/read/write/seek failures encountered during a
	// dump or restore loop, and a final byte count that doesn't match the
	// expected total.
	ErrWhileCopy = Code("error while copying")
	// ErrFileAlreadyExists is returned when a dump destination already exists.
	ErrFileAlreadyExists = Code("destination file already exists")
	// ErrCryptoDecryptedYet is returned when asked to decrypt a partition that
	// is already plaintext.
	ErrCryptoDecryptedYet = Code("partition is already decrypted")
	// ErrCryptoEncryptedYet is returned when asked to encrypt a partition that
	// is already ciphertext.
	ErrCryptoEncryptedYet = Code("partition is already encrypted")
	// ErrRestoreCryptoMissing is returned by a restore when the source
	// partition is encrypted but the destination is not, and the restore mode
	// doesn't itself transform the data.
	ErrRestoreCryptoMissing = Code("source is encrypted but destination is not")
	// ErrRestoreCryptoMissing2 is the mirror of ErrRestoreCryptoMissing: the
	// destination is encrypted but the source is not.
	ErrRestoreCryptoMissing2 = Code("destination is encrypted but source is not")
	// ErrIOMismatch is returned when the source partition is larger than the
	// destination partition during a restore.
	ErrIOMismatch = Code("source partition larger than destination partition")
	// ErrInPartNotFound is returned when the source storage has no partition
	// matching the destination's kind.
	ErrInPartNotFound = Code("no matching partition found on source storage")
	// ErrMD5Compare is returned when the MD5 of a dumped/restored file does
	// not match the MD5 computed from the source stream.
	ErrMD5Compare = Code("MD5 digest mismatch")
	// ErrUserAbort is returned when the caller's cancellation flag was
	// observed at a buffer boundary.
	ErrUserAbort = Code("operation aborted by caller")
	// ErrBadCrypto is latched on a partition whose magic-offset probe failed
	// after installing a cipher; logical operations on the partition are
	// refused once this is set.
	ErrBadCrypto = Code("decrypted content failed magic validation")
	// ErrPartitionNotFound is returned when a caller requests a partition
	// kind that does not exist on a Storage.
	ErrPartitionNotFound = Code("no partition of the requested kind")
	// ErrNotEncryptedReadable is returned when a CryptoStream in a crypto
	// mode reads or writes a partition that has no installed cipher.
	ErrNotEncryptedReadable = Code("partition is not encrypted-readable")
	ErrInvalidArgument      = Code("invalid argument")
	ErrUnsupportedKind      = Code("unsupported storage or partition kind")
)

func (c Code) Error() string {
	return string(c)
}

// WithMessage attaches additional context to the code, producing a
// DriverError whose Error() string is "<code>: <message>" but that still
// satisfies errors.Is(err, c).
func (c Code) WithMessage(message string) DriverError {
	return detailedError{
		message: fmt.Sprintf("%s: %s", string(c), message),
		code:    c,
	}
}

// WrapError wraps an underlying error under this code. The result's message
// includes the underlying error's text and errors.Is(err, c) holds; Unwrap
// returns the Code, so the underlying error itself is not reachable through
// errors.Is or errors.As.
func (c Code) WrapError(err error) DriverError {
	return detailedError{
		message:  fmt.Sprintf("%s: %s", string(c), err.Error()),
		code:     c,
		original: err,
	}
}

// DriverError is the richer error value returned once a Code has been given
// extra context. It remains comparable to its originating Code via
// errors.Is.
type DriverError interface {
	error
	WithMessage(message string) DriverError
	WrapError(err error) DriverError
	Unwrap() error
}

type detailedError struct {
	message  string
	code     Code
	original error
}

func (e detailedError) Error() string {
	return e.message
}

func (e detailedError) WithMessage(message string) DriverError {
	return detailedError{
		message:  fmt.Sprintf("%s: %s", e.message, message),
		code:     e.code,
		original: e,
	}
}

func (e detailedError) WrapError(err error) DriverError {
	return detailedError{
		message:  fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		code:     e.code,
		original: err,
	}
}

// Unwrap returns the originating Code, which is what callers match on with
// errors.Is/errors.As. Go's errors package only follows a single Unwrap()
// error return, so a wrapped error, if any, is not exposed.
func (e detailedError) Unwrap() error {
	return e.code
}
