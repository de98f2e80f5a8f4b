package zipentry_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zipaes/internal/zipentry"
	"zipaes/internal/ziptest"
)

func aesExtra(version zipentry.Version, vendor string, strength zipentry.Strength) []byte {
	x := zipentry.AESExtra{Version: version, Strength: strength, Method: zipentry.MethodDeflate}
	copy(x.Vendor[:], vendor)
	return zipentry.AppendAESExtra(nil, x)
}

func TestParseEntry(t *testing.T) {
	s := ziptest.MustSeal(ziptest.Entry{
		Name:     "docs/readme.txt",
		Password: "secret",
		Strength: zipentry.AES192,
		Version:  zipentry.AE1,
		Method:   zipentry.MethodDeflate,
		Content:  []byte("hello hello hello"),
	})

	e, err := zipentry.ParseEntry(s.Bytes, 0)
	require.NoError(t, err)
	assert.Equal(t, "docs/readme.txt", e.Filename)
	assert.Equal(t, zipentry.MethodAES, e.Method)
	assert.Equal(t, zipentry.BoundaryHeader, e.Boundary)
	assert.Equal(t, s.CRC32, e.CRC32)
	assert.Equal(t, s.CSize, e.CompressedSize)
	assert.Equal(t, s.USize, e.UncompressedSize)
	assert.Equal(t, zipentry.Range{Off: s.DataOff, Len: s.DataLen}, e.Data)
	assert.Equal(t, s.Bytes[s.DataOff:s.DataOff+s.DataLen], e.DataBytes())

	x, err := e.AESField()
	require.NoError(t, err)
	assert.Equal(t, zipentry.AE1, x.Version)
	assert.Equal(t, zipentry.AES192, x.Strength)
	assert.Equal(t, zipentry.MethodDeflate, x.Method)
	assert.Equal(t, [2]byte{'A', 'E'}, x.Vendor)
}

func TestParseEntryAtOffset(t *testing.T) {
	s := ziptest.MustSeal(ziptest.Entry{Name: "a", Password: "pw", Content: []byte("x")})
	buf := append([]byte("garbage!"), s.Bytes...)

	e, err := zipentry.ParseEntry(buf, 8)
	require.NoError(t, err)
	assert.Equal(t, 8, e.Offset)
	assert.Equal(t, s.DataOff+8, e.Data.Off)
}

func TestDataBytesIsCapacityLimited(t *testing.T) {
	s := ziptest.MustSeal(ziptest.Entry{Name: "a", Password: "pw", Content: []byte("abc")})
	buf := append(append([]byte{}, s.Bytes...), 0xAA, 0xBB)

	e, err := zipentry.ParseEntry(buf, 0)
	require.NoError(t, err)
	data := e.DataBytes()
	assert.Equal(t, len(data), cap(data))
	_ = append(data, 0)
	assert.Equal(t, byte(0xAA), buf[len(buf)-2])
}

func TestParseEntryMalformed(t *testing.T) {
	good := ziptest.MustSeal(ziptest.Entry{Name: "file", Password: "pw", Content: []byte("content")}).Bytes

	badSig := append([]byte{}, good...)
	badSig[0] = 'X'

	nameOverrun := append([]byte{}, good[:40]...)
	binary.LittleEndian.PutUint16(nameOverrun[26:], 200)

	extraOverrun := append([]byte{}, good...)
	binary.LittleEndian.PutUint16(extraOverrun[28:], 0xFFFF)

	// Sub-field declares more bytes than the extra block holds.
	innerOverrun := ziptest.LocalHeader(zipentry.FlagEncrypted, zipentry.MethodAES, 0, 0, 0, "f",
		[]byte{0x01, 0x99, 0x20, 0x00, 1, 2, 3})

	shortAES := ziptest.LocalHeader(zipentry.FlagEncrypted, zipentry.MethodAES, 0, 0, 0, "f",
		[]byte{0x01, 0x99, 0x06, 0x00, 2, 0, 'A', 'E', 3, 8})

	longAES := ziptest.LocalHeader(zipentry.FlagEncrypted, zipentry.MethodAES, 0, 0, 0, "f",
		[]byte{0x01, 0x99, 0x08, 0x00, 2, 0, 'A', 'E', 3, 8, 0, 0})

	trailing := ziptest.LocalHeader(zipentry.FlagEncrypted, zipentry.MethodAES, 0, 0, 0, "f",
		append(aesExtra(zipentry.AE2, "AE", zipentry.AES256), 0x01, 0x00))

	tests := []struct {
		name string
		buf  []byte
		off  int
	}{
		{name: "empty", buf: nil},
		{name: "short header", buf: good[:29]},
		{name: "offset past end", buf: good, off: len(good) + 1},
		{name: "negative offset", buf: good, off: -1},
		{name: "bad signature", buf: badSig},
		{name: "filename overrun", buf: nameOverrun},
		{name: "extra overrun", buf: extraOverrun},
		{name: "sub-field overrun", buf: innerOverrun},
		{name: "AES field too short", buf: shortAES},
		{name: "AES field too long", buf: longAES},
		{name: "trailing extra bytes", buf: trailing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := zipentry.ParseEntry(tt.buf, tt.off)
			require.ErrorIs(t, err, zipentry.ErrMalformedHeader)
		})
	}
}

func TestParseEntryUnsupportedVariants(t *testing.T) {
	tests := []struct {
		name  string
		extra []byte
		want  error
	}{
		{name: "vendor", extra: aesExtra(zipentry.AE2, "XY", zipentry.AES256), want: zipentry.ErrUnsupportedVendor},
		{name: "version 3", extra: aesExtra(3, "AE", zipentry.AES256), want: zipentry.ErrUnsupportedVersion},
		{name: "version 0", extra: aesExtra(0, "AE", zipentry.AES128), want: zipentry.ErrUnsupportedVersion},
		{name: "strength 0", extra: aesExtra(zipentry.AE1, "AE", 0), want: zipentry.ErrUnsupportedStrength},
		{name: "strength 4", extra: aesExtra(zipentry.AE2, "AE", 4), want: zipentry.ErrUnsupportedStrength},
		// Vendor is checked before version, version before strength.
		{name: "everything wrong", extra: aesExtra(9, "ZZ", 9), want: zipentry.ErrUnsupportedVendor},
		{name: "version and strength wrong", extra: aesExtra(9, "AE", 9), want: zipentry.ErrUnsupportedVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := ziptest.LocalHeader(zipentry.FlagEncrypted, zipentry.MethodAES, 0, 0, 0, "f", tt.extra)
			_, err := zipentry.ParseEntry(buf, 0)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAESFieldNotEncrypted(t *testing.T) {
	t.Run("plain deflate", func(t *testing.T) {
		buf := ziptest.LocalHeader(0, zipentry.MethodDeflate, 0, 3, 3, "plain", nil)
		buf = append(buf, 1, 2, 3)
		e, err := zipentry.ParseEntry(buf, 0)
		require.NoError(t, err)
		assert.Nil(t, e.AES)
		_, err = e.AESField()
		require.ErrorIs(t, err, zipentry.ErrNotEncrypted)
	})
	t.Run("method 99 without sub-field", func(t *testing.T) {
		buf := ziptest.LocalHeader(zipentry.FlagEncrypted, zipentry.MethodAES, 0, 0, 0, "odd", []byte{0x55, 0x54, 0x00, 0x00})
		e, err := zipentry.ParseEntry(buf, 0)
		require.NoError(t, err)
		_, err = e.AESField()
		require.ErrorIs(t, err, zipentry.ErrNotEncrypted)
	})
	t.Run("sub-field with another method", func(t *testing.T) {
		buf := ziptest.LocalHeader(0, zipentry.MethodStore, 0, 0, 0, "odd", aesExtra(zipentry.AE2, "AE", zipentry.AES128))
		e, err := zipentry.ParseEntry(buf, 0)
		require.NoError(t, err)
		_, err = e.AESField()
		require.ErrorIs(t, err, zipentry.ErrNotEncrypted)
	})
}

func TestParseEntryTruncated(t *testing.T) {
	s := ziptest.MustSeal(ziptest.Entry{Name: "f", Password: "pw", Content: []byte("some content here")})
	for cut := s.DataOff; cut < len(s.Bytes); cut++ {
		_, err := zipentry.ParseEntry(s.Bytes[:cut], 0)
		require.ErrorIs(t, err, zipentry.ErrTruncatedArchive, "cut at %d", cut)
	}
}

func TestParseEntryDataDescriptor(t *testing.T) {
	s := ziptest.MustSeal(ziptest.Entry{
		Name:           "dd.bin",
		Password:       "pw",
		Version:        zipentry.AE1,
		Content:        []byte("streamed without sizes"),
		DataDescriptor: true,
	})

	t.Run("descriptor", func(t *testing.T) {
		e, err := zipentry.ParseEntry(s.Bytes, 0)
		require.NoError(t, err)
		assert.True(t, e.HasDataDescriptor())
		assert.Equal(t, zipentry.BoundaryDescriptor, e.Boundary)
		assert.Equal(t, s.DataLen, e.Data.Len)
		assert.Equal(t, s.CRC32, e.CRC32)
		assert.Equal(t, s.USize, e.UncompressedSize)
	})

	t.Run("hint wins", func(t *testing.T) {
		hint := &zipentry.Hint{CRC32: s.CRC32, CompressedSize: s.CSize, UncompressedSize: s.USize}
		e, err := zipentry.ParseEntryWithHint(s.Bytes, 0, hint)
		require.NoError(t, err)
		assert.Equal(t, zipentry.BoundaryHint, e.Boundary)
		assert.Equal(t, s.DataLen, e.Data.Len)
	})

	t.Run("empty hint ignored", func(t *testing.T) {
		e, err := zipentry.ParseEntryWithHint(s.Bytes, 0, &zipentry.Hint{})
		require.NoError(t, err)
		assert.Equal(t, zipentry.BoundaryDescriptor, e.Boundary)
	})

	t.Run("hint past end", func(t *testing.T) {
		_, err := zipentry.ParseEntryWithHint(s.Bytes, 0, &zipentry.Hint{CompressedSize: uint64(len(s.Bytes))})
		require.ErrorIs(t, err, zipentry.ErrTruncatedArchive)
	})

	t.Run("scan to next header", func(t *testing.T) {
		// Drop the descriptor and follow with another entry.
		next := ziptest.MustSeal(ziptest.Entry{Name: "next", Password: "pw", Content: []byte("n")})
		buf := append(append([]byte{}, s.Bytes[:s.DataOff+s.DataLen]...), next.Bytes...)
		e, err := zipentry.ParseEntry(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, zipentry.BoundaryScan, e.Boundary)
		assert.Equal(t, s.DataLen, e.Data.Len)
	})

	t.Run("scan skips unsigned descriptor", func(t *testing.T) {
		next := ziptest.MustSeal(ziptest.Entry{Name: "next", Password: "pw", Content: []byte("n")})
		buf := append([]byte{}, s.Bytes[:s.DataOff+s.DataLen]...)
		buf = binary.LittleEndian.AppendUint32(buf, s.CRC32)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(s.CSize))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(s.USize))
		buf = append(buf, next.Bytes...)
		e, err := zipentry.ParseEntry(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, zipentry.BoundaryScan, e.Boundary)
		assert.Equal(t, s.DataLen, e.Data.Len)
	})

	t.Run("scan to end of buffer", func(t *testing.T) {
		buf := s.Bytes[:s.DataOff+s.DataLen]
		e, err := zipentry.ParseEntry(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, zipentry.BoundaryScan, e.Boundary)
		assert.Equal(t, s.DataLen, e.Data.Len)
	})
}

func TestParseEntryZip64Descriptor(t *testing.T) {
	s := ziptest.MustSeal(ziptest.Entry{Name: "z", Password: "pw", Content: []byte("zip64 descriptor"), DataDescriptor: true})
	data := s.Bytes[s.DataOff : s.DataOff+s.DataLen]

	// A zero-valued ZIP64 field marks the descriptor as using 8-byte sizes.
	zip64 := []byte{0x01, 0x00, 0x10, 0x00}
	zip64 = append(zip64, make([]byte, 16)...)
	extra := append(zip64, s.ExtraAES...)

	buf := ziptest.LocalHeader(zipentry.FlagEncrypted|zipentry.FlagDataDescriptor, zipentry.MethodAES, 0, 0, 0, "z", extra)
	dataOff := len(buf)
	buf = append(buf, data...)
	buf = binary.LittleEndian.AppendUint32(buf, 0x08074b50)
	buf = binary.LittleEndian.AppendUint32(buf, 0)
	buf = binary.LittleEndian.AppendUint64(buf, s.CSize)
	buf = binary.LittleEndian.AppendUint64(buf, s.USize)

	e, err := zipentry.ParseEntry(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, zipentry.BoundaryDescriptor, e.Boundary)
	assert.Equal(t, zipentry.Range{Off: dataOff, Len: s.DataLen}, e.Data)
	assert.Equal(t, s.USize, e.UncompressedSize)

	refs, err := zipentry.Scan(buf)
	require.NoError(t, err)
	require.Len(t, refs, 1)
}

func TestParseEntryZip64Sizes(t *testing.T) {
	data := []byte("0123456789")
	zip64 := []byte{0x01, 0x00, 0x10, 0x00}
	zip64 = binary.LittleEndian.AppendUint64(zip64, 1234)
	zip64 = binary.LittleEndian.AppendUint64(zip64, uint64(len(data)))
	extra := append(zip64, aesExtra(zipentry.AE2, "AE", zipentry.AES128)...)

	buf := ziptest.LocalHeader(zipentry.FlagEncrypted, zipentry.MethodAES, 0, 0xFFFFFFFF, 0xFFFFFFFF, "big", extra)
	buf = append(buf, data...)

	e, err := zipentry.ParseEntry(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), e.UncompressedSize)
	assert.Equal(t, uint64(len(data)), e.CompressedSize)
	assert.Equal(t, data, e.DataBytes())
	require.NotNil(t, e.AES)

	t.Run("missing zip64 field", func(t *testing.T) {
		buf := ziptest.LocalHeader(zipentry.FlagEncrypted, zipentry.MethodAES, 0, 0xFFFFFFFF, 0, "big",
			aesExtra(zipentry.AE2, "AE", zipentry.AES128))
		_, err := zipentry.ParseEntry(buf, 0)
		require.ErrorIs(t, err, zipentry.ErrMalformedHeader)
	})
	t.Run("short zip64 field", func(t *testing.T) {
		buf := ziptest.LocalHeader(zipentry.FlagEncrypted, zipentry.MethodAES, 0, 0xFFFFFFFF, 0xFFFFFFFF, "big",
			[]byte{0x01, 0x00, 0x08, 0x00, 1, 2, 3, 4, 5, 6, 7, 8})
		_, err := zipentry.ParseEntry(buf, 0)
		require.ErrorIs(t, err, zipentry.ErrMalformedHeader)
	})
}
