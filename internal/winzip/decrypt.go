package winzip

import (
	"context"

	"zipaes/internal/zipentry"
)

// Plaintext is an authenticated, decrypted entry payload.
type Plaintext struct {
	Data []byte
	// Method tells the caller whether Data still needs inflating
	// (zipentry.MethodDeflate) or is final (zipentry.MethodStore).
	Method   uint16
	Version  zipentry.Version
	Strength Strength
	Entry    *zipentry.RawEntry
}

// Decrypt parses the local file entry at the start of entryBytes and returns
// its plaintext. Plaintext is only returned once the MAC has been verified.
func Decrypt(ctx context.Context, entryBytes, password []byte) (*Plaintext, error) {
	return DecryptWith(ctx, entryBytes, password, Options{})
}

// DecryptWith is Decrypt with explicit pipeline options.
func DecryptWith(ctx context.Context, entryBytes, password []byte, opts Options) (*Plaintext, error) {
	e, err := zipentry.ParseEntry(entryBytes, 0)
	if err != nil {
		return nil, &DecryptError{State: StateReadHeader, Err: err}
	}
	return DecryptEntry(ctx, e, password, opts)
}

// DecryptEntry runs the pipeline over an already parsed entry and buffers the
// plaintext. On failure the buffer is wiped and nothing is returned.
func DecryptEntry(ctx context.Context, e *zipentry.RawEntry, password []byte, opts Options) (*Plaintext, error) {
	w := &plainBuffer{}
	if x := e.AES; x != nil {
		if n := e.Data.Len - x.Strength.SaltLen() - VerifierLen - MACLen; n > 0 {
			w.b = make([]byte, 0, n)
		}
	}
	res, err := NewPipeline(e, password, opts).Run(ctx, w)
	if err != nil {
		w.wipe()
		return nil, err
	}
	return &Plaintext{
		Data:     w.b,
		Method:   res.Method,
		Version:  res.Version,
		Strength: res.Strength,
		Entry:    e,
	}, nil
}

// plainBuffer is a preallocated append-only writer, so the plaintext is never
// copied into a larger array and left behind in the old one.
type plainBuffer struct {
	b []byte
}

func (w *plainBuffer) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

func (w *plainBuffer) wipe() {
	clear(w.b[:cap(w.b)])
	w.b = nil
}
