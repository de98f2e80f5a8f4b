// Package extract turns authenticated WinZip-AES plaintext into file content:
// it inflates deflated payloads and checks the CRC-32 that AE-1 entries keep.
package extract

import (
	"bytes"
	"compress/flate"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"zipaes/internal/winzip"
	"zipaes/internal/zipentry"
)

var (
	ErrUnsupportedMethod = errors.New("extract: unsupported compression method")
	ErrChecksum          = errors.New("extract: CRC-32 mismatch")
	ErrSize              = errors.New("extract: uncompressed size mismatch")
)

// Content returns the final bytes of an authenticated entry.
func Content(pt *winzip.Plaintext) ([]byte, error) {
	out, err := Decompress(pt.Method, pt.Data, pt.Entry.UncompressedSize)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", pt.Entry.Filename, err)
	}
	if err := Verify(pt.Entry, pt.Version, out); err != nil {
		return nil, fmt.Errorf("%q: %w", pt.Entry.Filename, err)
	}
	return out, nil
}

// Decompress applies the entry's real compression method. sizeHint, when
// non-zero, presizes the output buffer.
func Decompress(method uint16, data []byte, sizeHint uint64) ([]byte, error) {
	switch method {
	case zipentry.MethodStore:
		return data, nil
	case zipentry.MethodDeflate:
		fr := flate.NewReader(bytes.NewReader(data))
		defer fr.Close()
		var buf bytes.Buffer
		if sizeHint > 0 && sizeHint < 1<<30 {
			buf.Grow(int(sizeHint))
		}
		if _, err := io.Copy(&buf, fr); err != nil {
			return nil, fmt.Errorf("inflate: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMethod, method)
	}
}

// Verify checks the uncompressed size and, for AE-1, the CRC-32. AE-2 stores
// a zero CRC and relies on the MAC alone.
func Verify(e *zipentry.RawEntry, v zipentry.Version, out []byte) error {
	if e.Boundary == zipentry.BoundaryScan {
		// Nothing recorded the sizes or CRC.
		return nil
	}
	if e.UncompressedSize != 0 && uint64(len(out)) != e.UncompressedSize {
		return fmt.Errorf("%w: got %d bytes, header says %d", ErrSize, len(out), e.UncompressedSize)
	}
	if v != zipentry.AE1 {
		return nil
	}
	if sum := crc32.ChecksumIEEE(out); sum != e.CRC32 {
		return fmt.Errorf("%w: got %08x, header says %08x", ErrChecksum, sum, e.CRC32)
	}
	return nil
}
