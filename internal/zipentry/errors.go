package zipentry

import "errors"

// Structural and variant errors reported while parsing an entry.
var (
	ErrMalformedHeader     = errors.New("zipentry: malformed header")
	ErrTruncatedArchive    = errors.New("zipentry: truncated archive")
	ErrNotEncrypted        = errors.New("zipentry: entry is not WinZip-AES encrypted")
	ErrUnsupportedVendor   = errors.New("zipentry: unsupported AES vendor")
	ErrUnsupportedStrength = errors.New("zipentry: unsupported AES strength")
	ErrUnsupportedVersion  = errors.New("zipentry: unsupported AES version")
)
