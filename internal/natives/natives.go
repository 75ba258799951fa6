// Package natives is the host function table protected regions run
// against: formatted output and an explicit failure hook.
package natives

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/obfusk8/obfusk8/internal/ir"
)

// ErrFail is returned (wrapped with the message) by fail()
var ErrFail = errors.New("region failed")

// Signatures are the result types of the built-in natives, for the parser
var Signatures = map[string]ir.Type{
	"printf":  ir.Void,
	"print":   ir.Void,
	"println": ir.Void,
	"fail":    ir.Void,
}

// Host writes region output to one writer. Concurrent regions may share a
// Host; each call writes atomically.
type Host struct {
	mu  sync.Mutex
	out io.Writer
}

// NewHost returns a Host writing to out
func NewHost(out io.Writer) *Host {
	return &Host{out: out}
}

// Natives returns the function table for ir.Invoke
func (h *Host) Natives() ir.Natives {
	return ir.Natives{
		"printf":  h.printf,
		"print":   h.print,
		"println": h.println,
		"fail":    fail,
	}
}

func (h *Host) write(s string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, s)
	return err
}

func (h *Host) printf(args []ir.Value) (ir.Value, error) {
	if len(args) == 0 || args[0].T != ir.String {
		return ir.Value{}, fmt.Errorf("printf: %w: first argument must be a format string", ir.ErrTypeMismatch)
	}
	rest := make([]interface{}, len(args)-1)
	for i, a := range args[1:] {
		rest[i] = a.Interface()
	}
	return ir.Value{}, h.write(fmt.Sprintf(string(args[0].Bytes), rest...))
}

func (h *Host) print(args []ir.Value) (ir.Value, error) {
	var sb strings.Builder
	for _, a := range args {
		sb.WriteString(plain(a))
	}
	return ir.Value{}, h.write(sb.String())
}

func (h *Host) println(args []ir.Value) (ir.Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = plain(a)
	}
	return ir.Value{}, h.write(strings.Join(parts, " ") + "\n")
}

func fail(args []ir.Value) (ir.Value, error) {
	if len(args) == 0 {
		return ir.Value{}, ErrFail
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = plain(a)
	}
	return ir.Value{}, fmt.Errorf("%w: %s", ErrFail, strings.Join(parts, " "))
}

// plain renders strings unquoted and everything else like ir.Value
func plain(v ir.Value) string {
	if v.T == ir.String {
		return string(v.Bytes)
	}
	return v.String()
}
