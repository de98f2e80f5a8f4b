package winzip

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
)

// CounterCipher is AES in counter mode with the WinZip convention: the
// 16-byte counter starts at 1 and is incremented as a little-endian 128-bit
// integer. cipher.NewCTR increments big-endian, so it cannot be used.
//
// Encryption and decryption are the same operation.
type CounterCipher struct {
	block   cipher.Block
	counter [aes.BlockSize]byte
	stream  [aes.BlockSize]byte
	used    int // keystream bytes consumed from stream
	blocks  uint64
}

var _ cipher.Stream = (*CounterCipher)(nil)

// NewCounterCipher returns a counter-mode stream keyed with an AES-128,
// AES-192 or AES-256 key.
func NewCounterCipher(key []byte) (*CounterCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return newCounterCipher(block), nil
}

func newCounterCipher(block cipher.Block) *CounterCipher {
	c := &CounterCipher{block: block, used: aes.BlockSize}
	c.counter[0] = 1
	return c
}

// Counter returns the counter value the next keystream block will use.
func (c *CounterCipher) Counter() [aes.BlockSize]byte { return c.counter }

// Blocks returns the number of keystream blocks generated so far.
func (c *CounterCipher) Blocks() uint64 { return c.blocks }

// XORKeyStream implements cipher.Stream. A trailing partial block uses only
// the leading bytes of its keystream block; the rest is kept for the next
// call.
func (c *CounterCipher) XORKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("winzip: output smaller than input")
	}
	for len(src) > 0 {
		if c.used == aes.BlockSize {
			c.refill()
		}
		n := subtle.XORBytes(dst, src, c.stream[c.used:])
		c.used += n
		dst, src = dst[n:], src[n:]
	}
}

// ProcessBlock transforms one block of at most 16 bytes that starts on a
// block boundary. Only the final block of a stream may be short.
func (c *CounterCipher) ProcessBlock(dst, src []byte) {
	if len(src) > aes.BlockSize {
		panic("winzip: ProcessBlock input longer than one block")
	}
	if c.used != aes.BlockSize {
		panic("winzip: ProcessBlock called mid-block")
	}
	c.XORKeyStream(dst, src)
	c.used = aes.BlockSize
}

func (c *CounterCipher) refill() {
	c.block.Encrypt(c.stream[:], c.counter[:])
	incrementCounter(&c.counter)
	c.used = 0
	c.blocks++
}

// incrementCounter adds one to a little-endian 128-bit integer, wrapping to
// zero after 2^128-1.
func incrementCounter(ctr *[aes.BlockSize]byte) {
	for i := range ctr {
		ctr[i]++
		if ctr[i] != 0 {
			return
		}
	}
}
