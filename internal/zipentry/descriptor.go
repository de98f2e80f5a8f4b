package zipentry

import (
	"bytes"
	"encoding/binary"
)

// Descriptor is the record that follows entry data when flag bit 3 is set.
type Descriptor struct {
	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64
	// Len is the encoded length of the descriptor, signature included.
	Len int
}

var (
	descriptorSig = []byte{'P', 'K', 0x07, 0x08}
	localSig      = []byte{'P', 'K', 0x03, 0x04}
	centralSig    = []byte{'P', 'K', 0x01, 0x02}
)

// findDescriptor looks for a signed data descriptor after dataOff whose
// compressed size equals its distance from dataOff. A signature match with
// the wrong size is ciphertext that happens to contain "PK\x07\x08".
// Entries with a ZIP64 extra field use 8-byte sizes in the descriptor, so
// that layout is tried first for them.
func findDescriptor(buf []byte, dataOff int, zip64 bool) (Descriptor, bool) {
	for from := dataOff; from < len(buf); {
		i := bytes.Index(buf[from:], descriptorSig)
		if i < 0 {
			return Descriptor{}, false
		}
		p := from + i
		if d, ok := matchDescriptor(buf[p:], uint64(p-dataOff), zip64); ok {
			return d, true
		}
		from = p + 1
	}
	return Descriptor{}, false
}

// matchDescriptor decodes a signed descriptor at the start of p whose
// compressed size is csize.
func matchDescriptor(p []byte, csize uint64, zip64 bool) (Descriptor, bool) {
	readers := []func([]byte) (Descriptor, bool){readDescriptor32, readDescriptor64}
	if zip64 {
		readers[0], readers[1] = readers[1], readers[0]
	}
	for _, read := range readers {
		if d, ok := read(p); ok && d.CompressedSize == csize {
			return d, true
		}
	}
	return Descriptor{}, false
}

func readDescriptor32(p []byte) (Descriptor, bool) { return readDescriptor(p, true) }

// readDescriptor decodes a 32-bit descriptor at the start of p, with or
// without the leading signature.
func readDescriptor(p []byte, signed bool) (Descriptor, bool) {
	hdr := 0
	if signed {
		if len(p) < 4 || binary.LittleEndian.Uint32(p) != descriptorSignature {
			return Descriptor{}, false
		}
		hdr = 4
	}
	if len(p) < hdr+12 {
		return Descriptor{}, false
	}
	return Descriptor{
		CRC32:            binary.LittleEndian.Uint32(p[hdr:]),
		CompressedSize:   uint64(binary.LittleEndian.Uint32(p[hdr+4:])),
		UncompressedSize: uint64(binary.LittleEndian.Uint32(p[hdr+8:])),
		Len:              hdr + 12,
	}, true
}

func readDescriptor64(p []byte) (Descriptor, bool) {
	if len(p) < 24 || binary.LittleEndian.Uint32(p) != descriptorSignature {
		return Descriptor{}, false
	}
	return Descriptor{
		CRC32:            binary.LittleEndian.Uint32(p[4:]),
		CompressedSize:   binary.LittleEndian.Uint64(p[8:]),
		UncompressedSize: binary.LittleEndian.Uint64(p[16:]),
		Len:              24,
	}, true
}

// scanBoundary is the last-resort boundary search used when nothing declares
// the data length: the data ends at the next local or central header, minus
// an unsigned 12-byte descriptor if one sits right before it. Without either
// signature the data runs to the end of buf.
func scanBoundary(buf []byte, dataOff int) int {
	end := len(buf)
	rest := buf[dataOff:]
	for _, sig := range [][]byte{localSig, centralSig} {
		if i := bytes.Index(rest, sig); i >= 0 && dataOff+i < end {
			end = dataOff + i
		}
	}
	if end-dataOff >= 12 && end < len(buf) {
		if d, ok := readDescriptor(buf[end-12:end], false); ok && d.CompressedSize == uint64(end-12-dataOff) {
			return end - 12 - dataOff
		}
	}
	return end - dataOff
}

// skipDescriptor returns the length of the data descriptor at p, or 0 when
// none is recognisable.
func skipDescriptor(p []byte, e *RawEntry) int {
	if d, ok := matchDescriptor(p, e.CompressedSize, e.zip64); ok {
		return d.Len
	}
	if d, ok := readDescriptor(p, false); ok && d.CompressedSize == e.CompressedSize {
		return d.Len
	}
	return 0
}
