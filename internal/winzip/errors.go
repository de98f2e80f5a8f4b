package winzip

import (
	"errors"
	"fmt"

	"zipaes/internal/zipentry"
)

// Structural and variant errors come from the header parser.
var (
	ErrMalformedHeader     = zipentry.ErrMalformedHeader
	ErrTruncatedArchive    = zipentry.ErrTruncatedArchive
	ErrNotEncrypted        = zipentry.ErrNotEncrypted
	ErrUnsupportedVendor   = zipentry.ErrUnsupportedVendor
	ErrUnsupportedStrength = zipentry.ErrUnsupportedStrength
	ErrUnsupportedVersion  = zipentry.ErrUnsupportedVersion
)

// Credential and integrity errors.
var (
	ErrWeakCredential       = errors.New("winzip: empty password")
	ErrPasswordVerification = errors.New("winzip: password verification failed")
	ErrAuthentication       = errors.New("winzip: authentication failed")
	ErrCancelled            = errors.New("winzip: decryption cancelled")

	errKeyLength = errors.New("winzip: derived key material has wrong length")
)

// DecryptError is returned for every failed decryption. It unwraps to one of
// the package sentinels.
type DecryptError struct {
	Entry string
	// State is the pipeline state the failure happened in.
	State State
	Err   error
	// Untrusted counts plaintext bytes already written downstream before
	// the failure. The caller must discard them.
	Untrusted int64
}

func (e *DecryptError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("winzip: %s: %v", e.State, e.Err)
	}
	return fmt.Sprintf("winzip: %q: %s: %v", e.Entry, e.State, e.Err)
}

func (e *DecryptError) Unwrap() error { return e.Err }

// IsUnsupported reports whether err names a recognised but unimplemented
// WinZip-AES variant rather than corrupted data.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupportedVendor) ||
		errors.Is(err, ErrUnsupportedStrength) ||
		errors.Is(err, ErrUnsupportedVersion)
}

// IsRetryable reports whether trying again with a different password could
// succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPasswordVerification) || errors.Is(err, ErrAuthentication)
}

// Kind returns a short stable label for err, used for metrics and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrPasswordVerification):
		return "password_verification_failed"
	case errors.Is(err, ErrAuthentication):
		return "authentication_failed"
	case errors.Is(err, ErrTruncatedArchive):
		return "truncated_archive"
	case errors.Is(err, ErrMalformedHeader):
		return "malformed_header"
	case errors.Is(err, ErrNotEncrypted):
		return "not_encrypted"
	case errors.Is(err, ErrUnsupportedVendor):
		return "unsupported_vendor"
	case errors.Is(err, ErrUnsupportedStrength):
		return "unsupported_strength"
	case errors.Is(err, ErrUnsupportedVersion):
		return "unsupported_version"
	case errors.Is(err, ErrWeakCredential):
		return "weak_credential"
	default:
		return "error"
	}
}
