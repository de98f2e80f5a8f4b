package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"

	yzip "github.com/yeka/zip"

	"zipaes/internal/winzip"
	"zipaes/internal/zipentry"
)

// NewReference returns a backend that opens entries with github.com/yeka/zip.
// It exists to cross-check the native pipeline against an independent
// WinZip-AES implementation and needs a central directory.
func NewReference() Backend {
	return &referenceBackend{}
}

type referenceBackend struct{}

func (b *referenceBackend) Name() string { return Reference }

// NewWorker parses the archive once per worker; yeka's File carries the
// password as mutable state, so readers are never shared across goroutines.
func (b *referenceBackend) NewWorker(zipBytes, password []byte) (Worker, error) {
	if len(zipBytes) == 0 {
		return nil, errEmptyArchive
	}
	zr, err := yzip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}
	byName := make(map[string][]*yzip.File, len(zr.File))
	for _, f := range zr.File {
		byName[f.Name] = append(byName[f.Name], f)
	}
	return &referenceWorker{byName: byName, password: string(password)}, nil
}

type referenceWorker struct {
	byName   map[string][]*yzip.File
	password string
}

func (w *referenceWorker) Close() {}

func (w *referenceWorker) Decrypt(ctx context.Context, ref zipentry.EntryRef) Outcome {
	out := Outcome{Ref: ref, Processed: int64(ref.CompressedSize)}
	if err := ctx.Err(); err != nil {
		out.Err = fmt.Errorf("%w: %w", winzip.ErrCancelled, err)
		return out
	}
	files := w.byName[ref.Name]
	if len(files) == 0 {
		out.Err = fmt.Errorf("reference: %q not in central directory", ref.Name)
		return out
	}
	// Duplicate names are consumed in directory order.
	f := files[0]
	w.byName[ref.Name] = files[1:]

	if !f.IsEncrypted() {
		out.Err = fmt.Errorf("%w: %q", winzip.ErrNotEncrypted, ref.Name)
		return out
	}
	f.SetPassword(w.password)
	rc, err := f.Open()
	if err != nil {
		out.Err = fmt.Errorf("reference: open %q: %w", ref.Name, err)
		return out
	}
	content, err := io.ReadAll(rc)
	closeErr := rc.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		out.Err = fmt.Errorf("reference: read %q: %w", ref.Name, err)
		return out
	}
	out.Content = content
	return out
}
