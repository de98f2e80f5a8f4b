package winzip

import (
	"context"
	"crypto/aes"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"zipaes/internal/zipentry"
)

// State is a step of the decryption pipeline.
type State int

const (
	StateReadHeader State = iota
	StateDeriveKeys
	StateVerifyPassword
	StateStreamDecrypt
	StateAuthenticate
	StateDone
	StateFailed
	StateCancelled
)

var stateNames = [...]string{
	StateReadHeader:     "read-header",
	StateDeriveKeys:     "derive-keys",
	StateVerifyPassword: "verify-password",
	StateStreamDecrypt:  "stream-decrypt",
	StateAuthenticate:   "authenticate",
	StateDone:           "done",
	StateFailed:         "failed",
	StateCancelled:      "cancelled",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// DefaultChunkSize is how much ciphertext is processed between cancellation
// checks.
const DefaultChunkSize = 32 << 10

// Options tune a pipeline. The zero value is usable.
type Options struct {
	// ChunkSize is rounded down to a multiple of the AES block size.
	ChunkSize int
	Logger    logrus.FieldLogger
	// OnState, if set, is called on every state transition.
	OnState func(State)
}

func (o Options) chunkSize() int {
	n := o.ChunkSize
	if n <= 0 {
		n = DefaultChunkSize
	}
	n -= n % aes.BlockSize
	if n == 0 {
		n = aes.BlockSize
	}
	return n
}

var discardLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Result describes a successfully authenticated entry.
type Result struct {
	Entry    *zipentry.RawEntry
	Version  zipentry.Version
	Strength Strength
	// Method is the compression method the plaintext still carries.
	Method uint16
	Len    int64
}

// Pipeline decrypts and authenticates one entry. It is single-use and not
// safe for concurrent use; separate entries need separate pipelines.
type Pipeline struct {
	entry    *zipentry.RawEntry
	password []byte
	opts     Options
	log      logrus.FieldLogger
	state    State
}

// NewPipeline prepares a pipeline for entry. The password is only read during
// key derivation and is not retained after it.
func NewPipeline(entry *zipentry.RawEntry, password []byte, opts Options) *Pipeline {
	log := opts.Logger
	if log == nil {
		log = discardLogger
	}
	return &Pipeline{
		entry:    entry,
		password: password,
		opts:     opts,
		log:      log.WithField("entry", entry.Filename),
		state:    StateReadHeader,
	}
}

// State returns the state the pipeline is in.
func (p *Pipeline) State() State { return p.state }

// sections of the entry data: salt, verifier, ciphertext, MAC.
type sections struct {
	salt       []byte
	verifier   []byte
	ciphertext []byte
	mac        []byte
}

func splitData(data []byte, s Strength) (sections, error) {
	saltLen := s.SaltLen()
	overhead := saltLen + VerifierLen + MACLen
	if len(data) < overhead {
		return sections{}, fmt.Errorf("%w: entry data is %d bytes, %s needs at least %d", ErrTruncatedArchive, len(data), s, overhead)
	}
	ctEnd := len(data) - MACLen
	return sections{
		salt:       data[:saltLen],
		verifier:   data[saltLen : saltLen+VerifierLen],
		ciphertext: data[saltLen+VerifierLen : ctEnd],
		mac:        data[ctEnd:],
	}, nil
}

// Run decrypts the entry into dst, feeding the MAC the same ciphertext in the
// same pass. Plaintext reaches dst before authentication completes; if Run
// fails, the returned *DecryptError says how many of those bytes must be
// discarded.
func (p *Pipeline) Run(ctx context.Context, dst io.Writer) (*Result, error) {
	if p.state != StateReadHeader {
		return nil, fmt.Errorf("winzip: pipeline already ran (state %s)", p.state)
	}
	p.enter(StateReadHeader)

	x, err := p.entry.AESField()
	if err != nil {
		return nil, p.fail(err, 0)
	}
	sec, err := splitData(p.entry.DataBytes(), x.Strength)
	if err != nil {
		return nil, p.fail(err, 0)
	}
	p.log = p.log.WithFields(logrus.Fields{"strength": x.Strength.String(), "version": x.Version.String()})

	p.enter(StateDeriveKeys)
	keys, err := DeriveKeys(p.password, sec.salt, x.Strength)
	p.password = nil
	if err != nil {
		return nil, p.fail(err, 0)
	}
	defer keys.Zero()
	if keys.Len() != 2*x.Strength.KeyLen()+VerifierLen {
		return nil, p.fail(errKeyLength, 0)
	}

	p.enter(StateVerifyPassword)
	if err := keys.CheckVerifier(sec.verifier); err != nil {
		return nil, p.fail(err, 0)
	}

	p.enter(StateStreamDecrypt)
	stream, err := NewCounterCipher(keys.EncryptionKey())
	if err != nil {
		return nil, p.fail(err, 0)
	}
	auth := NewAuthenticator(keys.AuthenticationKey())
	written, err := p.stream(ctx, dst, stream, auth, sec.ciphertext)
	if err != nil {
		return nil, p.fail(err, written)
	}

	p.enter(StateAuthenticate)
	if err := auth.Verify(sec.mac); err != nil {
		return nil, p.fail(err, written)
	}

	p.enter(StateDone)
	return &Result{
		Entry:    p.entry,
		Version:  x.Version,
		Strength: x.Strength,
		Method:   x.Method,
		Len:      written,
	}, nil
}

func (p *Pipeline) stream(ctx context.Context, dst io.Writer, stream *CounterCipher, auth *Authenticator, ct []byte) (int64, error) {
	chunk := p.opts.chunkSize()
	buf := make([]byte, min(chunk, len(ct)))
	defer clear(buf)

	var written int64
	for len(ct) > 0 {
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		n := min(chunk, len(ct))
		auth.Write(ct[:n])
		stream.XORKeyStream(buf[:n], ct[:n])
		m, err := dst.Write(buf[:n])
		written += int64(m)
		if err != nil {
			return written, fmt.Errorf("winzip: write plaintext: %w", err)
		}
		ct = ct[n:]
	}
	return written, nil
}

func (p *Pipeline) enter(s State) {
	p.state = s
	p.log.WithField("state", s.String()).Debug("pipeline state")
	if p.opts.OnState != nil {
		p.opts.OnState(s)
	}
}

func (p *Pipeline) fail(err error, untrusted int64) error {
	at := p.state
	if errors.Is(err, ErrCancelled) {
		p.enter(StateCancelled)
	} else {
		p.enter(StateFailed)
	}
	p.log.WithError(err).WithField("failed_in", at.String()).Debug("pipeline stopped")
	return &DecryptError{Entry: p.entry.Filename, State: at, Err: err, Untrusted: untrusted}
}
