package backend

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yzip "github.com/yeka/zip"

	"zipaes/internal/winzip"
	"zipaes/internal/zipentry"
	"zipaes/internal/ziptest"
)

func testArchive(t *testing.T) ([]byte, map[string][]byte) {
	t.Helper()
	want := map[string][]byte{
		"a.txt":     []byte("alpha"),
		"b/b.txt":   bytes.Repeat([]byte("bravo "), 400),
		"c/d/c.bin": {0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
	}
	buf := ziptest.Archive(
		ziptest.MustSeal(ziptest.Entry{Name: "a.txt", Password: "pw", Strength: zipentry.AES128, Version: zipentry.AE1, Content: want["a.txt"]}),
		ziptest.MustSeal(ziptest.Entry{Name: "b/b.txt", Password: "pw", Strength: zipentry.AES192, Method: zipentry.MethodDeflate, Content: want["b/b.txt"]}),
		ziptest.MustSeal(ziptest.Entry{Name: "c/d/c.bin", Password: "pw", Strength: zipentry.AES256, Version: zipentry.AE1, Method: zipentry.MethodDeflate, Content: want["c/d/c.bin"]}),
	)
	return buf, want
}

func decryptAll(t *testing.T, be Backend, buf []byte, password string) []Outcome {
	t.Helper()
	refs, err := zipentry.Scan(buf)
	require.NoError(t, err)
	w, err := be.NewWorker(buf, []byte(password))
	require.NoError(t, err)
	defer w.Close()

	out := make([]Outcome, 0, len(refs))
	for _, ref := range refs {
		out = append(out, w.Decrypt(context.Background(), ref))
	}
	return out
}

func TestBackendsAgree(t *testing.T) {
	buf, want := testArchive(t)
	for _, name := range []string{Native, Reference} {
		t.Run(name, func(t *testing.T) {
			be, err := New(name, winzip.Options{})
			require.NoError(t, err)
			assert.Equal(t, name, be.Name())

			outcomes := decryptAll(t, be, buf, "pw")
			require.Len(t, outcomes, len(want))
			for _, o := range outcomes {
				require.NoError(t, o.Err, o.Ref.Name)
				assert.Equal(t, want[o.Ref.Name], o.Content, o.Ref.Name)
				assert.Positive(t, o.Processed)
			}
		})
	}
}

func TestBackendsWrongPassword(t *testing.T) {
	buf, _ := testArchive(t)
	for _, name := range []string{Native, Reference} {
		t.Run(name, func(t *testing.T) {
			be, err := New(name, winzip.Options{})
			require.NoError(t, err)
			for _, o := range decryptAll(t, be, buf, "not the password") {
				require.Error(t, o.Err, o.Ref.Name)
				assert.Nil(t, o.Content)
			}
		})
	}
}

func TestNativeErrorKinds(t *testing.T) {
	buf, _ := testArchive(t)
	be := NewNative(winzip.Options{})
	for _, o := range decryptAll(t, be, buf, "not the password") {
		if !winzip.IsRetryable(o.Err) {
			t.Errorf("%s: %v is not a password failure", o.Ref.Name, o.Err)
		}
	}

	w, err := be.NewWorker(buf, []byte("pw"))
	require.NoError(t, err)
	o := w.Decrypt(context.Background(), zipentry.EntryRef{Name: "bogus", Offset: len(buf) - 10})
	require.ErrorIs(t, o.Err, winzip.ErrMalformedHeader)
	assert.Equal(t, "malformed_header", winzip.Kind(o.Err))
}

func TestYekaArchiveNative(t *testing.T) {
	var buf bytes.Buffer
	zw := yzip.NewWriter(&buf)
	w, err := zw.Encrypt("notes.md", "s3cr3t", yzip.AES256Encryption)
	require.NoError(t, err)
	_, err = w.Write([]byte("# notes\n\nwritten elsewhere\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	outcomes := decryptAll(t, NewNative(winzip.Options{}), buf.Bytes(), "s3cr3t")
	require.Len(t, outcomes, 1)
	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, "# notes\n\nwritten elsewhere\n", string(outcomes[0].Content))
}

func TestReferenceCancelled(t *testing.T) {
	buf, _ := testArchive(t)
	w, err := NewReference().NewWorker(buf, []byte("pw"))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := w.Decrypt(ctx, zipentry.EntryRef{Name: "a.txt"})
	require.ErrorIs(t, o.Err, winzip.ErrCancelled)
}

func TestNewErrors(t *testing.T) {
	_, err := New("gpu", winzip.Options{})
	require.Error(t, err)

	be, err := New("", winzip.Options{})
	require.NoError(t, err)
	assert.Equal(t, Native, be.Name())

	_, err = be.NewWorker(nil, []byte("pw"))
	require.ErrorIs(t, err, errEmptyArchive)
	_, err = NewReference().NewWorker(nil, []byte("pw"))
	require.ErrorIs(t, err, errEmptyArchive)
}
