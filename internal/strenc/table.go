package strenc

import (
	"fmt"
	"sync"

	"github.com/obfusk8/obfusk8/internal/ir"
	"github.com/obfusk8/obfusk8/internal/memory"
)

// Table is the encrypted string table of one region. It implements
// ir.StringTable and is safe for concurrent Open calls.
type Table struct {
	Key     [32]byte
	Entries []EncryptedString

	once   sync.Once
	cipher *Cipher
}

// NewTable returns an empty table encrypting under c
func NewTable(c *Cipher) *Table {
	t := &Table{Key: c.Key(), cipher: c}
	t.once.Do(func() {})
	return t
}

func (t *Table) getCipher() *Cipher {
	t.once.Do(func() {
		t.cipher = NewCipher(t.Key)
	})
	return t.cipher
}

// Add encrypts plaintext, checks that it decodes back and appends it. It
// returns the new entry's index.
func (t *Table) Add(plaintext []byte, nonce uint64) (int, error) {
	c := t.getCipher()
	es := c.Encode(plaintext, nonce)
	back, err := c.Decode(es)
	if err != nil {
		return 0, err
	}
	if string(back) != string(plaintext) {
		return 0, fmt.Errorf("%w: round trip of entry %d", ErrDecodeMismatch, len(t.Entries))
	}
	t.Entries = append(t.Entries, es)
	return len(t.Entries) - 1, nil
}

// Len returns the number of entries
func (t *Table) Len() int {
	return len(t.Entries)
}

// Open starts a decoding session for one region invocation
func (t *Table) Open() ir.StringSession {
	return &Session{
		cipher:  t.getCipher(),
		entries: t.Entries,
		handles: make([]*Handle, len(t.Entries)),
		pool:    memory.Default(),
	}
}

// Session caches decoded strings for one invocation. Close zeroes them.
type Session struct {
	cipher  *Cipher
	entries []EncryptedString
	handles []*Handle
	pool    *memory.Pool
}

// String returns the plaintext of entry i, decoding it on first use
func (s *Session) String(i int) ([]byte, error) {
	if i < 0 || i >= len(s.entries) {
		return nil, fmt.Errorf("strenc: string index %d out of range", i)
	}
	h := s.handles[i]
	if h == nil {
		h = &Handle{cipher: s.cipher, es: s.entries[i], pool: s.pool}
		s.handles[i] = h
	}
	return h.Read()
}

// Close releases every decoded string
func (s *Session) Close() {
	for _, h := range s.handles {
		h.Release()
	}
}

// Handle is one encrypted string. It decodes on first Read and keeps the
// plaintext in a SecureBuffer until Release.
type Handle struct {
	cipher *Cipher
	es     EncryptedString
	pool   *memory.Pool
	buf    *memory.SecureBuffer
}

// NewHandle returns a handle for es
func NewHandle(c *Cipher, es EncryptedString) *Handle {
	return &Handle{cipher: c, es: es, pool: memory.Default()}
}

// Read returns the plaintext. Repeated reads return the cached buffer.
func (h *Handle) Read() ([]byte, error) {
	if h.buf != nil {
		return h.buf.Bytes(), nil
	}
	buf := h.pool.Get(len(h.es.Data))
	if err := h.cipher.DecodeInto(buf.Bytes(), h.es); err != nil {
		buf.Release()
		return nil, err
	}
	h.buf = buf
	return buf.Bytes(), nil
}

// Release zeroes the cached plaintext
func (h *Handle) Release() {
	if h == nil || h.buf == nil {
		return
	}
	h.buf.Release()
	h.buf = nil
}
