package backend

import (
	"context"
	"errors"
	"fmt"

	"zipaes/internal/winzip"
	"zipaes/internal/zipentry"
)

// Outcome is the result of decrypting one entry.
type Outcome struct {
	Ref zipentry.EntryRef
	// Content is the final file content, already inflated. It is nil
	// whenever Err is set.
	Content  []byte
	Version  zipentry.Version
	Strength zipentry.Strength
	// Processed counts stored data bytes consumed for this entry.
	Processed int64
	Err       error
}

// Worker decrypts entries of one archive. A Worker is used by a single
// goroutine; create one per goroutine.
type Worker interface {
	Decrypt(ctx context.Context, ref zipentry.EntryRef) Outcome
	Close()
}

// Backend constructs Workers bound to an archive buffer and password.
type Backend interface {
	Name() string
	NewWorker(zipBytes, password []byte) (Worker, error)
}

// Backend names accepted by New.
const (
	Native    = "native"
	Reference = "reference"
)

// New returns the named backend. An empty name selects Native.
func New(name string, opts winzip.Options) (Backend, error) {
	switch name {
	case "", Native:
		return NewNative(opts), nil
	case Reference:
		return NewReference(), nil
	default:
		return nil, fmt.Errorf("backend: unknown backend %q", name)
	}
}

var errEmptyArchive = errors.New("backend: empty archive bytes")
