package zipentry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	centralHeaderLen = 46
	eocdLen          = 22
	maxCommentLen    = 1<<16 - 1
)

// EntryRef locates one entry of an archive. It is produced by Scan and is
// enough to call ParseEntryWithHint on the same buffer.
type EntryRef struct {
	Name             string
	Offset           int
	Flags            uint16
	Method           uint16
	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64

	// Central is set when the ref came from the central directory rather
	// than a sequential walk of local headers.
	Central bool
}

// IsDir reports whether the entry names a directory.
func (r EntryRef) IsDir() bool { return strings.HasSuffix(r.Name, "/") }

// IsEncrypted reports whether the encryption flag is set.
func (r EntryRef) IsEncrypted() bool { return r.Flags&FlagEncrypted != 0 }

// IsAES reports whether the entry declares the WinZip-AES method.
func (r EntryRef) IsAES() bool { return r.Method == MethodAES }

// Hint returns the sizes the ref knows about, for ParseEntryWithHint.
func (r EntryRef) Hint() *Hint {
	if !r.Central {
		return nil
	}
	return &Hint{CRC32: r.CRC32, CompressedSize: r.CompressedSize, UncompressedSize: r.UncompressedSize}
}

// Scan lists the entries of an in-memory archive. It trusts the central
// directory when an end-of-central-directory record is present and otherwise
// walks local headers from the start of buf.
func Scan(buf []byte) ([]EntryRef, error) {
	if eocd := findEOCD(buf); eocd >= 0 {
		return scanCentral(buf, eocd)
	}
	return walkLocal(buf)
}

// findEOCD searches backwards for the end of central directory record.
func findEOCD(buf []byte) int {
	stop := len(buf) - eocdLen - maxCommentLen
	if stop < 0 {
		stop = 0
	}
	for i := len(buf) - eocdLen; i >= stop; i-- {
		if binary.LittleEndian.Uint32(buf[i:]) == eocdSignature {
			return i
		}
	}
	return -1
}

func scanCentral(buf []byte, eocd int) ([]EntryRef, error) {
	numEntries := int(binary.LittleEndian.Uint16(buf[eocd+10:]))
	cdOffset := int(binary.LittleEndian.Uint32(buf[eocd+16:]))
	if cdOffset > eocd {
		return nil, fmt.Errorf("%w: central directory offset %d past end record", ErrMalformedHeader, cdOffset)
	}

	refs := make([]EntryRef, 0, numEntries)
	off := cdOffset
	for i := 0; i < numEntries; i++ {
		if off+centralHeaderLen > eocd {
			return nil, fmt.Errorf("%w: central directory entry %d overruns", ErrMalformedHeader, i)
		}
		h := buf[off:]
		if binary.LittleEndian.Uint32(h) != centralHeaderSignature {
			return nil, fmt.Errorf("%w: invalid central directory entry %d", ErrMalformedHeader, i)
		}
		nameLen := int(binary.LittleEndian.Uint16(h[28:]))
		extraLen := int(binary.LittleEndian.Uint16(h[30:]))
		commentLen := int(binary.LittleEndian.Uint16(h[32:]))
		next := off + centralHeaderLen + nameLen + extraLen + commentLen
		if next > eocd {
			return nil, fmt.Errorf("%w: central directory entry %d overruns", ErrMalformedHeader, i)
		}

		ref := EntryRef{
			Name:             string(h[centralHeaderLen : centralHeaderLen+nameLen]),
			Flags:            binary.LittleEndian.Uint16(h[8:]),
			Method:           binary.LittleEndian.Uint16(h[10:]),
			CRC32:            binary.LittleEndian.Uint32(h[16:]),
			CompressedSize:   uint64(binary.LittleEndian.Uint32(h[20:])),
			UncompressedSize: uint64(binary.LittleEndian.Uint32(h[24:])),
			Offset:           int(binary.LittleEndian.Uint32(h[42:])),
			Central:          true,
		}
		extra := h[centralHeaderLen+nameLen : centralHeaderLen+nameLen+extraLen]
		if err := applyCentralZip64(&ref, extra); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
		off = next
	}
	return refs, nil
}

// applyCentralZip64 fills in saturated central directory fields. The ZIP64
// field lists only those values, in the order uncompressed, compressed,
// local header offset.
func applyCentralZip64(ref *EntryRef, extra []byte) error {
	needU := ref.UncompressedSize == uint32max
	needC := ref.CompressedSize == uint32max
	needO := ref.Offset == uint32max
	if !needU && !needC && !needO {
		return nil
	}
	return WalkExtra(extra, func(id uint16, p []byte) error {
		if id != Zip64ExtraID {
			return nil
		}
		take := func(need bool, dst *uint64) error {
			if !need {
				return nil
			}
			if len(p) < 8 {
				return fmt.Errorf("%w: short zip64 field for %q", ErrMalformedHeader, ref.Name)
			}
			*dst = binary.LittleEndian.Uint64(p)
			p = p[8:]
			return nil
		}
		var off uint64
		if err := take(needU, &ref.UncompressedSize); err != nil {
			return err
		}
		if err := take(needC, &ref.CompressedSize); err != nil {
			return err
		}
		if err := take(needO, &off); err != nil {
			return err
		}
		if needO {
			ref.Offset = int(off)
		}
		return nil
	})
}

// walkLocal lists entries by following local headers back to back. It is the
// fallback for buffers that carry no central directory.
func walkLocal(buf []byte) ([]EntryRef, error) {
	var refs []EntryRef
	off := 0
	for off+4 <= len(buf) && binary.LittleEndian.Uint32(buf[off:]) == localHeaderSignature {
		e, err := parseLocal(buf, off, nil)
		if err != nil {
			return refs, err
		}
		refs = append(refs, EntryRef{
			Name:             e.Filename,
			Offset:           e.Offset,
			Flags:            e.Flags,
			Method:           e.Method,
			CRC32:            e.CRC32,
			CompressedSize:   e.CompressedSize,
			UncompressedSize: e.UncompressedSize,
		})
		off = e.Data.End()
		if e.HasDataDescriptor() {
			off += skipDescriptor(buf[off:], e)
		}
	}
	if len(refs) == 0 {
		return nil, errors.New("zipentry: no local file headers found")
	}
	return refs, nil
}
