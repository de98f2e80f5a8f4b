package zipentry

import (
	"encoding/binary"
	"fmt"
)

// Extra field IDs recognised by the parser.
const (
	Zip64ExtraID uint16 = 0x0001
	AESExtraID   uint16 = 0x9901
)

const (
	extraFieldHeaderLen = 4
	aesExtraLen         = 7
)

// Version is the WinZip-AES sub-format version.
type Version uint16

const (
	AE1 Version = 1 // CRC-32 is stored and checked
	AE2 Version = 2 // CRC-32 is zero; the MAC is the only integrity check
)

func (v Version) String() string {
	switch v {
	case AE1:
		return "AE-1"
	case AE2:
		return "AE-2"
	default:
		return fmt.Sprintf("AE-%d?", uint16(v))
	}
}

// Strength is the declared AES key strength.
type Strength uint8

const (
	AES128 Strength = 1
	AES192 Strength = 2
	AES256 Strength = 3
)

// KeyLen returns the AES key length in bytes, or 0 for an unknown strength.
func (s Strength) KeyLen() int {
	switch s {
	case AES128:
		return 16
	case AES192:
		return 24
	case AES256:
		return 32
	default:
		return 0
	}
}

// SaltLen returns the salt length stored ahead of the ciphertext. It is
// always half the key length.
func (s Strength) SaltLen() int { return s.KeyLen() / 2 }

// Valid reports whether s is one of the three defined strengths.
func (s Strength) Valid() bool { return s.KeyLen() != 0 }

func (s Strength) String() string {
	if !s.Valid() {
		return fmt.Sprintf("AES-strength(%d)", uint8(s))
	}
	return fmt.Sprintf("AES-%d", s.KeyLen()*8)
}

// AESExtra is the decoded 0x9901 extra sub-field.
type AESExtra struct {
	Version  Version
	Vendor   [2]byte
	Strength Strength
	// Method is the compression method applied before encryption.
	Method uint16
}

// DecodeAESExtra decodes the 7-byte payload of a 0x9901 sub-field.
func DecodeAESExtra(p []byte) (*AESExtra, error) {
	if len(p) != aesExtraLen {
		return nil, fmt.Errorf("%w: AES extra field is %d bytes, want %d", ErrMalformedHeader, len(p), aesExtraLen)
	}
	x := &AESExtra{
		Version:  Version(binary.LittleEndian.Uint16(p[0:2])),
		Strength: Strength(p[4]),
		Method:   binary.LittleEndian.Uint16(p[5:7]),
	}
	copy(x.Vendor[:], p[2:4])

	if x.Vendor != [2]byte{'A', 'E'} {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVendor, x.Vendor[:])
	}
	if x.Version != AE1 && x.Version != AE2 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, uint16(x.Version))
	}
	if !x.Strength.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedStrength, uint8(x.Strength))
	}
	return x, nil
}

// WalkExtra iterates the (id, size, payload) triples of an extra field block.
// A triple whose declared size overruns the block is a malformed header.
func WalkExtra(extra []byte, fn func(id uint16, payload []byte) error) error {
	for len(extra) > 0 {
		if len(extra) < extraFieldHeaderLen {
			return fmt.Errorf("%w: %d trailing bytes in extra field", ErrMalformedHeader, len(extra))
		}
		id := binary.LittleEndian.Uint16(extra[0:2])
		size := int(binary.LittleEndian.Uint16(extra[2:4]))
		extra = extra[extraFieldHeaderLen:]
		if size > len(extra) {
			return fmt.Errorf("%w: extra field 0x%04x declares %d bytes, %d left", ErrMalformedHeader, id, size, len(extra))
		}
		if err := fn(id, extra[:size:size]); err != nil {
			return err
		}
		extra = extra[size:]
	}
	return nil
}

// AppendAESExtra appends an encoded 0x9901 sub-field to dst.
func AppendAESExtra(dst []byte, x AESExtra) []byte {
	var b [extraFieldHeaderLen + aesExtraLen]byte
	binary.LittleEndian.PutUint16(b[0:], AESExtraID)
	binary.LittleEndian.PutUint16(b[2:], aesExtraLen)
	binary.LittleEndian.PutUint16(b[4:], uint16(x.Version))
	copy(b[6:8], x.Vendor[:])
	b[8] = byte(x.Strength)
	binary.LittleEndian.PutUint16(b[9:], x.Method)
	return append(dst, b[:]...)
}

// zip64Sizes reads the sizes a local header defers to the ZIP64 extra field.
// The field only carries values whose 32-bit header slot is saturated, in
// the fixed order uncompressed, compressed.
func zip64Sizes(p []byte, needU, needC bool) (usize, csize uint64, err error) {
	if needU {
		if len(p) < 8 {
			return 0, 0, fmt.Errorf("%w: short zip64 extra field", ErrMalformedHeader)
		}
		usize = binary.LittleEndian.Uint64(p)
		p = p[8:]
	}
	if needC {
		if len(p) < 8 {
			return 0, 0, fmt.Errorf("%w: short zip64 extra field", ErrMalformedHeader)
		}
		csize = binary.LittleEndian.Uint64(p)
	}
	return usize, csize, nil
}
