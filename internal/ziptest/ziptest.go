// Package ziptest builds WinZip-AES entries and archives for tests. It keeps
// its own counter-mode loop so round trips do not test the decryptor against
// itself.
package ziptest

import (
	"bytes"
	"compress/flate"
	"crypto/aes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"hash/crc32"

	"golang.org/x/crypto/pbkdf2"

	"zipaes/internal/zipentry"
)

// Entry describes one entry to seal.
type Entry struct {
	Name     string
	Password string
	Strength zipentry.Strength
	Version  zipentry.Version
	// Method is the compression applied before encryption.
	Method  uint16
	Content []byte
	// Salt is random when nil.
	Salt []byte
	// DataDescriptor moves CRC and sizes into a signed descriptor after
	// the data and zeroes them in the local header.
	DataDescriptor bool
	// Vendor overrides the "AE" vendor tag when non-zero.
	Vendor [2]byte
}

// Sealed is an encoded local entry: header, name, extra field, data and an
// optional descriptor.
type Sealed struct {
	Entry
	Bytes []byte

	DataOff   int
	DataLen   int
	SaltLen   int
	Payload   []byte // compressed bytes that were encrypted
	CRC32     uint32
	CSize     uint64
	USize     uint64
	LocalCRC  uint32
	ExtraAES  []byte
}

// CiphertextOff returns the offset of the first ciphertext byte in Bytes.
func (s *Sealed) CiphertextOff() int { return s.DataOff + s.SaltLen + 2 }

// CiphertextLen returns the length of the ciphertext.
func (s *Sealed) CiphertextLen() int { return s.DataLen - s.SaltLen - 2 - 10 }

// MACOff returns the offset of the 10-byte authentication code in Bytes.
func (s *Sealed) MACOff() int { return s.DataOff + s.DataLen - 10 }

// Seal encrypts e the way WinZip does and encodes it as a local entry.
func Seal(e Entry) (*Sealed, error) {
	if e.Strength == 0 {
		e.Strength = zipentry.AES256
	}
	if e.Version == 0 {
		e.Version = zipentry.AE2
	}
	if e.Vendor == [2]byte{} {
		e.Vendor = [2]byte{'A', 'E'}
	}
	payload := e.Content
	if e.Method == zipentry.MethodDeflate {
		var buf bytes.Buffer
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(e.Content); err != nil {
			return nil, err
		}
		if err := fw.Close(); err != nil {
			return nil, err
		}
		payload = buf.Bytes()
	}

	keyLen := e.Strength.KeyLen()
	saltLen := e.Strength.SaltLen()
	salt := e.Salt
	if salt == nil {
		salt = make([]byte, saltLen)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
	}
	dk := pbkdf2.Key([]byte(e.Password), salt, 1000, 2*keyLen+2, sha1.New)
	encKey, authKey, pvv := dk[:keyLen], dk[keyLen:2*keyLen], dk[2*keyLen:]

	ct, err := xorCounter(encKey, payload)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha1.New, authKey)
	mac.Write(ct)

	data := make([]byte, 0, len(salt)+2+len(ct)+10)
	data = append(data, salt...)
	data = append(data, pvv...)
	data = append(data, ct...)
	data = append(data, mac.Sum(nil)[:10]...)

	s := &Sealed{
		Entry:   e,
		SaltLen: len(salt),
		Payload: payload,
		CSize:   uint64(len(data)),
		USize:   uint64(len(e.Content)),
		DataLen: len(data),
	}
	if e.Version == zipentry.AE1 {
		s.CRC32 = crc32.ChecksumIEEE(e.Content)
	}
	s.ExtraAES = zipentry.AppendAESExtra(nil, zipentry.AESExtra{
		Version:  e.Version,
		Vendor:   e.Vendor,
		Strength: e.Strength,
		Method:   e.Method,
	})

	flags := zipentry.FlagEncrypted
	crc, csize, usize := s.CRC32, uint32(s.CSize), uint32(s.USize)
	if e.DataDescriptor {
		flags |= zipentry.FlagDataDescriptor
		crc, csize, usize = 0, 0, 0
	}
	s.LocalCRC = crc

	b := LocalHeader(flags, zipentry.MethodAES, crc, csize, usize, e.Name, s.ExtraAES)
	s.DataOff = len(b)
	b = append(b, data...)
	if e.DataDescriptor {
		b = binary.LittleEndian.AppendUint32(b, 0x08074b50)
		b = binary.LittleEndian.AppendUint32(b, s.CRC32)
		b = binary.LittleEndian.AppendUint32(b, uint32(s.CSize))
		b = binary.LittleEndian.AppendUint32(b, uint32(s.USize))
	}
	s.Bytes = b
	return s, nil
}

// MustSeal is Seal for test setup; it panics on error.
func MustSeal(e Entry) *Sealed {
	s, err := Seal(e)
	if err != nil {
		panic(err)
	}
	return s
}

// LocalHeader encodes a 30-byte local header followed by name and extra.
func LocalHeader(flags, method uint16, crc, csize, usize uint32, name string, extra []byte) []byte {
	b := make([]byte, 0, 30+len(name)+len(extra))
	b = binary.LittleEndian.AppendUint32(b, 0x04034b50)
	b = binary.LittleEndian.AppendUint16(b, 51)
	b = binary.LittleEndian.AppendUint16(b, flags)
	b = binary.LittleEndian.AppendUint16(b, method)
	b = binary.LittleEndian.AppendUint16(b, 0) // time
	b = binary.LittleEndian.AppendUint16(b, 0) // date
	b = binary.LittleEndian.AppendUint32(b, crc)
	b = binary.LittleEndian.AppendUint32(b, csize)
	b = binary.LittleEndian.AppendUint32(b, usize)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(name)))
	b = binary.LittleEndian.AppendUint16(b, uint16(len(extra)))
	b = append(b, name...)
	b = append(b, extra...)
	return b
}

// Archive concatenates sealed entries and appends a central directory and
// end record.
func Archive(entries ...*Sealed) []byte {
	var out, cd []byte
	for _, s := range entries {
		off := len(out)
		out = append(out, s.Bytes...)

		flags := zipentry.FlagEncrypted
		if s.DataDescriptor {
			flags |= zipentry.FlagDataDescriptor
		}
		cd = binary.LittleEndian.AppendUint32(cd, 0x02014b50)
		cd = binary.LittleEndian.AppendUint16(cd, 51) // made by
		cd = binary.LittleEndian.AppendUint16(cd, 51) // needed
		cd = binary.LittleEndian.AppendUint16(cd, flags)
		cd = binary.LittleEndian.AppendUint16(cd, zipentry.MethodAES)
		cd = binary.LittleEndian.AppendUint32(cd, 0) // time, date
		cd = binary.LittleEndian.AppendUint32(cd, s.CRC32)
		cd = binary.LittleEndian.AppendUint32(cd, uint32(s.CSize))
		cd = binary.LittleEndian.AppendUint32(cd, uint32(s.USize))
		cd = binary.LittleEndian.AppendUint16(cd, uint16(len(s.Name)))
		cd = binary.LittleEndian.AppendUint16(cd, uint16(len(s.ExtraAES)))
		cd = binary.LittleEndian.AppendUint16(cd, 0) // comment
		cd = binary.LittleEndian.AppendUint16(cd, 0) // disk
		cd = binary.LittleEndian.AppendUint16(cd, 0) // internal attrs
		cd = binary.LittleEndian.AppendUint32(cd, 0) // external attrs
		cd = binary.LittleEndian.AppendUint32(cd, uint32(off))
		cd = append(cd, s.Name...)
		cd = append(cd, s.ExtraAES...)
	}
	cdOff := len(out)
	out = append(out, cd...)
	out = binary.LittleEndian.AppendUint32(out, 0x06054b50)
	out = binary.LittleEndian.AppendUint16(out, 0)
	out = binary.LittleEndian.AppendUint16(out, 0)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(entries)))
	out = binary.LittleEndian.AppendUint16(out, uint16(len(entries)))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(cd)))
	out = binary.LittleEndian.AppendUint32(out, uint32(cdOff))
	out = binary.LittleEndian.AppendUint16(out, 0)
	return out
}

// xorCounter runs AES-CTR with a little-endian counter starting at 1.
func xorCounter(key, src []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, len(src))
	var ctr, ks [aes.BlockSize]byte
	for i := 0; i < len(src); i += aes.BlockSize {
		binary.LittleEndian.PutUint64(ctr[:8], uint64(i/aes.BlockSize)+1)
		block.Encrypt(ks[:], ctr[:])
		end := min(i+aes.BlockSize, len(src))
		for j := i; j < end; j++ {
			dst[j] = src[j] ^ ks[j-i]
		}
	}
	return dst, nil
}
