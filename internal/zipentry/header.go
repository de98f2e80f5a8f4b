package zipentry

import (
	"encoding/binary"
	"fmt"
)

const (
	localHeaderSignature   = 0x04034b50
	centralHeaderSignature = 0x02014b50
	eocdSignature          = 0x06054b50
	descriptorSignature    = 0x08074b50

	localHeaderLen = 30
	uint32max      = 1<<32 - 1
)

// Compression methods the local header can declare.
const (
	MethodStore   uint16 = 0
	MethodDeflate uint16 = 8
	MethodAES     uint16 = 99
)

// General purpose flag bits.
const (
	FlagEncrypted      uint16 = 0x0001
	FlagDataDescriptor uint16 = 0x0008
	FlagUTF8           uint16 = 0x0800
)

// Boundary records where an entry's data length came from.
type Boundary int

const (
	BoundaryHeader     Boundary = iota // local header sizes
	BoundaryHint                       // caller hint, usually the central directory
	BoundaryDescriptor                 // signed data descriptor after the data
	BoundaryScan                       // next header signature; sizes and CRC unknown
)

// Range is a half-open byte range [Off, Off+Len) of the parsed buffer.
type Range struct {
	Off int
	Len int
}

// End returns the offset one past the last byte of the range.
func (r Range) End() int { return r.Off + r.Len }

// Hint carries sizes known from outside the local header, typically the
// central directory. It is only consulted when the local header defers its
// sizes to a data descriptor.
type Hint struct {
	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64
}

// RawEntry is one parsed local file entry. The byte ranges refer to the
// buffer it was parsed from, which must not be modified afterwards.
type RawEntry struct {
	Offset int

	Header Range // fixed 30-byte header
	Name   Range
	Extra  Range
	Data   Range

	ReaderVersion uint16
	Flags         uint16
	Method        uint16
	ModTime       uint16
	ModDate       uint16

	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64

	Filename string
	Boundary Boundary

	// AES is the decoded 0x9901 sub-field, nil when absent.
	AES *AESExtra

	buf        []byte
	aesPayload []byte
	zip64      bool
}

// Bytes returns the slice of the source buffer covered by r. The result is
// capacity-limited so appends never clobber neighbouring data.
func (e *RawEntry) Bytes(r Range) []byte {
	return e.buf[r.Off:r.End():r.End()]
}

// DataBytes returns the entry's stored data section.
func (e *RawEntry) DataBytes() []byte { return e.Bytes(e.Data) }

// HasDataDescriptor reports whether sizes and CRC follow the data.
func (e *RawEntry) HasDataDescriptor() bool { return e.Flags&FlagDataDescriptor != 0 }

// AESField returns the entry's WinZip-AES parameters, or ErrNotEncrypted when
// the entry does not use method 99 with a 0x9901 sub-field.
func (e *RawEntry) AESField() (*AESExtra, error) {
	if e.Method != MethodAES {
		return nil, fmt.Errorf("%w: %q uses compression method %d", ErrNotEncrypted, e.Filename, e.Method)
	}
	if e.AES == nil {
		return nil, fmt.Errorf("%w: %q has no 0x9901 extra field", ErrNotEncrypted, e.Filename)
	}
	return e.AES, nil
}

// ParseEntry parses the local file entry starting at off in buf.
func ParseEntry(buf []byte, off int) (*RawEntry, error) {
	return ParseEntryWithHint(buf, off, nil)
}

// ParseEntryWithHint parses the local file entry at off, using hint for the
// data boundary when the local header leaves its sizes to a data descriptor.
func ParseEntryWithHint(buf []byte, off int, hint *Hint) (*RawEntry, error) {
	e, err := parseLocal(buf, off, hint)
	if err != nil {
		return nil, err
	}
	if e.aesPayload != nil {
		x, err := DecodeAESExtra(e.aesPayload)
		if err != nil {
			return nil, err
		}
		e.AES = x
	}
	return e, nil
}

// parseLocal resolves every boundary of the entry but leaves the AES
// sub-field undecoded, so archive walking survives unsupported variants.
func parseLocal(buf []byte, off int, hint *Hint) (*RawEntry, error) {
	if off < 0 || off > len(buf) || len(buf)-off < localHeaderLen {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformedHeader, localHeaderLen, off, max(len(buf)-off, 0))
	}
	h := buf[off : off+localHeaderLen]
	if sig := binary.LittleEndian.Uint32(h[0:4]); sig != localHeaderSignature {
		return nil, fmt.Errorf("%w: bad signature 0x%08x at offset %d", ErrMalformedHeader, sig, off)
	}

	e := &RawEntry{
		Offset:           off,
		Header:           Range{Off: off, Len: localHeaderLen},
		ReaderVersion:    binary.LittleEndian.Uint16(h[4:6]),
		Flags:            binary.LittleEndian.Uint16(h[6:8]),
		Method:           binary.LittleEndian.Uint16(h[8:10]),
		ModTime:          binary.LittleEndian.Uint16(h[10:12]),
		ModDate:          binary.LittleEndian.Uint16(h[12:14]),
		CRC32:            binary.LittleEndian.Uint32(h[14:18]),
		CompressedSize:   uint64(binary.LittleEndian.Uint32(h[18:22])),
		UncompressedSize: uint64(binary.LittleEndian.Uint32(h[22:26])),
		buf:              buf,
	}
	nameLen := int(binary.LittleEndian.Uint16(h[26:28]))
	extraLen := int(binary.LittleEndian.Uint16(h[28:30]))

	e.Name = Range{Off: e.Header.End(), Len: nameLen}
	e.Extra = Range{Off: e.Name.End(), Len: extraLen}
	if e.Extra.End() > len(buf) {
		return nil, fmt.Errorf("%w: filename (%d) and extra field (%d) overrun buffer", ErrMalformedHeader, nameLen, extraLen)
	}
	e.Filename = string(e.Bytes(e.Name))

	needU := e.UncompressedSize == uint32max
	needC := e.CompressedSize == uint32max
	err := WalkExtra(e.Bytes(e.Extra), func(id uint16, payload []byte) error {
		switch id {
		case AESExtraID:
			e.aesPayload = payload
		case Zip64ExtraID:
			e.zip64 = true
			if !needU && !needC {
				return nil
			}
			usize, csize, err := zip64Sizes(payload, needU, needC)
			if err != nil {
				return err
			}
			if needU {
				e.UncompressedSize = usize
			}
			if needC {
				e.CompressedSize = csize
			}
			needU, needC = false, false
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if needC {
		return nil, fmt.Errorf("%w: compressed size deferred to missing zip64 field", ErrMalformedHeader)
	}

	dataOff := e.Extra.End()
	size := e.dataSize(dataOff, hint)
	if size > uint64(len(buf)-dataOff) {
		return nil, fmt.Errorf("%w: %q declares %d data bytes, %d available", ErrTruncatedArchive, e.Filename, size, len(buf)-dataOff)
	}
	e.Data = Range{Off: dataOff, Len: int(size)}
	return e, nil
}

// dataSize picks the data boundary: the declared size when present, then the
// caller's hint, then the data descriptor, and signature scanning last.
func (e *RawEntry) dataSize(dataOff int, hint *Hint) uint64 {
	if !e.HasDataDescriptor() || e.CompressedSize != 0 {
		return e.CompressedSize
	}
	if hint != nil && hint.CompressedSize != 0 {
		e.Boundary = BoundaryHint
		e.CompressedSize = hint.CompressedSize
		e.UncompressedSize = hint.UncompressedSize
		e.CRC32 = hint.CRC32
		return e.CompressedSize
	}
	if d, ok := findDescriptor(e.buf, dataOff, e.zip64); ok {
		e.Boundary = BoundaryDescriptor
		e.CompressedSize = d.CompressedSize
		e.UncompressedSize = d.UncompressedSize
		e.CRC32 = d.CRC32
		return e.CompressedSize
	}
	n := scanBoundary(e.buf, dataOff)
	e.Boundary = BoundaryScan
	e.CompressedSize = uint64(n)
	return e.CompressedSize
}
