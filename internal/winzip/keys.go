package winzip

import (
	"crypto/sha1"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"zipaes/internal/zipentry"
)

// Strength is the declared AES key strength of an entry.
type Strength = zipentry.Strength

const (
	// Iterations is the PBKDF2 iteration count fixed by WinZip-AES. The
	// archive does not record it.
	Iterations  = 1000
	VerifierLen = 2
	MACLen      = 10
)

// KeyMaterial is the PBKDF2-HMAC-SHA1 output for one (password, salt,
// strength) triple: encryption key, authentication key, then the 2-byte
// password verifier.
type KeyMaterial struct {
	strength Strength
	dk       []byte
}

// DeriveKeys derives 2*KeyLen+2 bytes of key material from password and salt.
func DeriveKeys(password, salt []byte, s Strength) (*KeyMaterial, error) {
	if len(password) == 0 {
		return nil, ErrWeakCredential
	}
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedStrength, uint8(s))
	}
	if len(salt) != s.SaltLen() {
		return nil, fmt.Errorf("%w: salt is %d bytes, %s needs %d", ErrMalformedHeader, len(salt), s, s.SaltLen())
	}

	n := 2*s.KeyLen() + VerifierLen
	dk := pbkdf2.Key(password, salt, Iterations, n, sha1.New)
	if len(dk) != n {
		return nil, errKeyLength
	}
	return &KeyMaterial{strength: s, dk: dk}, nil
}

// Strength returns the strength the material was derived for.
func (k *KeyMaterial) Strength() Strength { return k.strength }

// Len returns the total length of the derived material.
func (k *KeyMaterial) Len() int { return len(k.dk) }

func (k *KeyMaterial) EncryptionKey() []byte {
	n := k.strength.KeyLen()
	return k.dk[:n:n]
}

func (k *KeyMaterial) AuthenticationKey() []byte {
	n := k.strength.KeyLen()
	return k.dk[n : 2*n : 2*n]
}

func (k *KeyMaterial) Verifier() []byte {
	n := k.strength.KeyLen()
	return k.dk[2*n : 2*n+VerifierLen : 2*n+VerifierLen]
}

// CheckVerifier compares the derived verifier with the two bytes stored
// after the salt. A match only means the password is probably right.
func (k *KeyMaterial) CheckVerifier(stored []byte) error {
	if subtle.ConstantTimeCompare(k.Verifier(), stored) != 1 {
		return ErrPasswordVerification
	}
	return nil
}

// Zero overwrites the key material. The slices returned by the accessors
// are zeroed too.
func (k *KeyMaterial) Zero() {
	clear(k.dk)
}
