package winzip

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"fmt"
	"hash"
)

// Authenticator accumulates HMAC-SHA1 over the ciphertext, in archive order.
type Authenticator struct {
	mac hash.Hash
	n   int64
}

// NewAuthenticator returns an accumulator keyed with the authentication key.
func NewAuthenticator(key []byte) *Authenticator {
	return &Authenticator{mac: hmac.New(sha1.New, key)}
}

// Write feeds ciphertext to the MAC. It never fails.
func (a *Authenticator) Write(p []byte) (int, error) {
	a.n += int64(len(p))
	return a.mac.Write(p)
}

// Len returns the number of ciphertext bytes fed so far.
func (a *Authenticator) Len() int64 { return a.n }

// Finalize returns the first 10 bytes of the digest.
func (a *Authenticator) Finalize() [MACLen]byte {
	var code [MACLen]byte
	copy(code[:], a.mac.Sum(nil))
	return code
}

// Verify compares the computed code with the stored one in constant time.
func (a *Authenticator) Verify(stored []byte) error {
	if len(stored) != MACLen {
		return fmt.Errorf("%w: stored code is %d bytes", ErrAuthentication, len(stored))
	}
	code := a.Finalize()
	if subtle.ConstantTimeCompare(code[:], stored) != 1 {
		return ErrAuthentication
	}
	return nil
}
