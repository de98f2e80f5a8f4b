package extract

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zipaes/internal/winzip"
	"zipaes/internal/zipentry"
	"zipaes/internal/ziptest"
)

func decrypt(t *testing.T, e ziptest.Entry) *winzip.Plaintext {
	t.Helper()
	sealed := ziptest.MustSeal(e)
	pt, err := winzip.Decrypt(context.Background(), sealed.Bytes, []byte(e.Password))
	require.NoError(t, err)
	return pt
}

func TestContent(t *testing.T) {
	content := bytes.Repeat([]byte("extract me\n"), 200)
	for _, method := range []uint16{zipentry.MethodStore, zipentry.MethodDeflate} {
		for _, v := range []zipentry.Version{zipentry.AE1, zipentry.AE2} {
			pt := decrypt(t, ziptest.Entry{Name: "f", Password: "pw", Version: v, Method: method, Content: content})
			out, err := Content(pt)
			require.NoError(t, err, "method %d %s", method, v)
			assert.Equal(t, content, out)
		}
	}
}

func TestContentChecksum(t *testing.T) {
	pt := decrypt(t, ziptest.Entry{Name: "crc", Password: "pw", Version: zipentry.AE1, Content: []byte("checked")})
	pt.Entry.CRC32 ^= 1
	_, err := Content(pt)
	require.ErrorIs(t, err, ErrChecksum)

	// AE-2 entries carry no CRC, so a wrong one is not looked at.
	pt = decrypt(t, ziptest.Entry{Name: "nocrc", Password: "pw", Version: zipentry.AE2, Content: []byte("unchecked")})
	pt.Entry.CRC32 = 0xdeadbeef
	_, err = Content(pt)
	require.NoError(t, err)
}

func TestContentSize(t *testing.T) {
	pt := decrypt(t, ziptest.Entry{Name: "size", Password: "pw", Content: []byte("12345")})
	pt.Entry.UncompressedSize = 4
	_, err := Content(pt)
	require.ErrorIs(t, err, ErrSize)

	pt.Entry.Boundary = zipentry.BoundaryScan
	_, err = Content(pt)
	require.NoError(t, err)
}

func TestDecompress(t *testing.T) {
	_, err := Decompress(12, []byte("bzip2"), 0)
	require.ErrorIs(t, err, ErrUnsupportedMethod)

	_, err = Decompress(zipentry.MethodDeflate, []byte{0xff, 0xff, 0xff}, 10)
	require.Error(t, err)

	out, err := Decompress(zipentry.MethodStore, []byte("as is"), 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("as is"), out)
}
