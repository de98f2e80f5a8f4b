package backend

import (
	"context"

	"zipaes/internal/extract"
	"zipaes/internal/winzip"
	"zipaes/internal/zipentry"
)

// NewNative returns the backend that runs the winzip pipeline directly.
func NewNative(opts winzip.Options) Backend {
	return &nativeBackend{opts: opts}
}

type nativeBackend struct {
	opts winzip.Options
}

func (b *nativeBackend) Name() string { return Native }

func (b *nativeBackend) NewWorker(zipBytes, password []byte) (Worker, error) {
	if len(zipBytes) == 0 {
		return nil, errEmptyArchive
	}
	return &nativeWorker{zipBytes: zipBytes, password: password, opts: b.opts}, nil
}

type nativeWorker struct {
	zipBytes []byte
	password []byte
	opts     winzip.Options
}

func (w *nativeWorker) Close() {}

func (w *nativeWorker) Decrypt(ctx context.Context, ref zipentry.EntryRef) Outcome {
	out := Outcome{Ref: ref}
	e, err := zipentry.ParseEntryWithHint(w.zipBytes, ref.Offset, ref.Hint())
	if err != nil {
		out.Err = &winzip.DecryptError{Entry: ref.Name, State: winzip.StateReadHeader, Err: err}
		return out
	}
	out.Processed = int64(e.Data.Len)

	pt, err := winzip.DecryptEntry(ctx, e, w.password, w.opts)
	if err != nil {
		out.Err = err
		return out
	}
	out.Version, out.Strength = pt.Version, pt.Strength

	content, err := extract.Content(pt)
	if err != nil {
		out.Err = err
		return out
	}
	out.Content = content
	return out
}
