// Package artifact persists protected regions as compressed bundles that
// can be run later without the source or the build seed.
package artifact

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/obfusk8/obfusk8/internal/ir"
	"github.com/obfusk8/obfusk8/internal/pipeline"
	"github.com/obfusk8/obfusk8/internal/strenc"
	"github.com/obfusk8/obfusk8/internal/vm"
)

// Version is the bundle format version
const Version = 1

// Extension is the conventional file extension of a bundle
const Extension = ".obk8"

var magic = []byte("OBK8")

var (
	// ErrBadMagic means the input is not a bundle
	ErrBadMagic = errors.New("artifact: not an obfusk8 bundle")
	// ErrVersion means the bundle was written by an incompatible format
	ErrVersion = errors.New("artifact: unsupported bundle version")
	// ErrNoRegion means the bundle has no region of the requested name
	ErrNoRegion = errors.New("artifact: no such region")
)

func init() {
	for _, v := range []interface{}{
		&ir.Const{}, &ir.Var{}, &ir.Unary{}, &ir.Binary{}, &ir.Conv{},
		&ir.Call{}, &ir.Let{}, &ir.Seal{}, &ir.StrRef{},
		&ir.Assign{}, &ir.ExprStmt{}, &ir.If{}, &ir.Loop{}, &ir.Branch{},
		&ir.Return{}, &ir.Defer{}, &ir.Marker{}, &ir.Dispatch{}, &ir.Virtual{},
		&vm.Program{}, &strenc.Table{},
	} {
		gob.Register(v)
	}
}

// Bundle is the output of one build
type Bundle struct {
	BuildID string
	Version int
	Created time.Time
	Source  string
	Regions []*ir.Region
	Reports []*pipeline.Report
}

// New bundles the successfully protected regions of a build
func New(source string, prots []*pipeline.Protected) *Bundle {
	b := &Bundle{
		BuildID: uuid.New().String(),
		Version: Version,
		Created: time.Now().UTC(),
		Source:  source,
	}
	for _, p := range prots {
		if p == nil {
			continue
		}
		b.Regions = append(b.Regions, p.Region)
		b.Reports = append(b.Reports, p.Report)
	}
	return b
}

// Region returns the region called name
func (b *Bundle) Region(name string) (*ir.Region, error) {
	for _, r := range b.Regions {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoRegion, name)
}

// Names returns the region names in build order
func (b *Bundle) Names() []string {
	out := make([]string, len(b.Regions))
	for i, r := range b.Regions {
		out[i] = r.Name
	}
	return out
}

// Write encodes the bundle: magic, version byte, zstd-compressed gob
func (b *Bundle) Write(w io.Writer) error {
	if _, err := w.Write(append(append([]byte(nil), magic...), byte(Version))); err != nil {
		return err
	}
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(zw).Encode(b); err != nil {
		zw.Close()
		return fmt.Errorf("artifact: encode: %w", err)
	}
	return zw.Close()
}

// Read decodes a bundle written by Write
func Read(r io.Reader) (*Bundle, error) {
	br := bufio.NewReader(r)
	hdr := make([]byte, len(magic)+1)
	if _, err := io.ReadFull(br, hdr); err != nil {
		return nil, ErrBadMagic
	}
	if !bytes.Equal(hdr[:len(magic)], magic) {
		return nil, ErrBadMagic
	}
	if int(hdr[len(magic)]) != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, hdr[len(magic)])
	}

	zr, err := zstd.NewReader(br)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var b Bundle
	if err := gob.NewDecoder(zr).Decode(&b); err != nil {
		return nil, fmt.Errorf("artifact: decode: %w", err)
	}
	return &b, nil
}

// Save writes the bundle to path, creating parent directories
func (b *Bundle) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := b.Write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads the bundle at path
func Load(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}
