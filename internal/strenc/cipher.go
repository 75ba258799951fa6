// Package strenc encrypts string literals at build time and decodes them
// lazily at run time.
package strenc

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"hash/fnv"
	"math/rand"
)

// ErrDecodeMismatch means a decoded string failed its integrity check. At
// build time it is fatal: the artifact would not reproduce the source.
var ErrDecodeMismatch = errors.New("strenc: decoded string failed integrity check")

// EncryptedString is an immutable ciphertext plus what is needed to decode it
type EncryptedString struct {
	Nonce uint64
	Data  []byte
	Tag   uint32
}

// Cipher is the per-build string cipher: a SHA-256 counter keystream XORed
// into the plaintext, then a byte substitution through a per-build S-box.
type Cipher struct {
	key  [32]byte
	sbox [256]byte
	inv  [256]byte
}

// NewCipher derives the S-box from key; equal keys give equal ciphers
func NewCipher(key [32]byte) *Cipher {
	c := &Cipher{key: key}
	for i := range c.sbox {
		c.sbox[i] = byte(i)
	}
	rng := rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(key[24:]))))
	for i := 255; i > 0; i-- {
		j := rng.Intn(i + 1)
		c.sbox[i], c.sbox[j] = c.sbox[j], c.sbox[i]
	}
	for i, v := range c.sbox {
		c.inv[v] = byte(i)
	}
	return c
}

// Key returns the cipher key
func (c *Cipher) Key() [32]byte { return c.key }

// keystream XORs the nonce's keystream into b
func (c *Cipher) keystream(b []byte, nonce uint64) {
	var block [48]byte
	copy(block[:32], c.key[:])
	binary.LittleEndian.PutUint64(block[32:], nonce)
	for off, ctr := 0, uint64(0); off < len(b); ctr++ {
		binary.LittleEndian.PutUint64(block[40:], ctr)
		ks := sha256.Sum256(block[:])
		n := len(ks)
		if rem := len(b) - off; rem < n {
			n = rem
		}
		for i := 0; i < n; i++ {
			b[off+i] ^= ks[i]
		}
		off += n
	}
}

func (c *Cipher) tag(plain []byte, nonce uint64) uint32 {
	h := fnv.New32a()
	var hdr [16]byte
	binary.LittleEndian.PutUint64(hdr[:8], nonce)
	copy(hdr[8:], c.key[:8])
	h.Write(hdr[:])
	h.Write(plain)
	return h.Sum32()
}

// Encode encrypts plaintext under nonce
func (c *Cipher) Encode(plaintext []byte, nonce uint64) EncryptedString {
	data := make([]byte, len(plaintext))
	copy(data, plaintext)
	c.keystream(data, nonce)
	for i, b := range data {
		data[i] = c.sbox[b]
	}
	return EncryptedString{Nonce: nonce, Data: data, Tag: c.tag(plaintext, nonce)}
}

// Decode returns the plaintext of es in a fresh slice
func (c *Cipher) Decode(es EncryptedString) ([]byte, error) {
	out := make([]byte, len(es.Data))
	if err := c.DecodeInto(out, es); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeInto writes the plaintext of es into dst, which must have the same
// length as the ciphertext
func (c *Cipher) DecodeInto(dst []byte, es EncryptedString) error {
	if len(dst) != len(es.Data) {
		return errors.New("strenc: destination length mismatch")
	}
	for i, b := range es.Data {
		dst[i] = c.inv[b]
	}
	c.keystream(dst, es.Nonce)
	if c.tag(dst, es.Nonce) != es.Tag {
		return ErrDecodeMismatch
	}
	return nil
}
