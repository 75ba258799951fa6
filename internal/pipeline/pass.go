package pipeline

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/obfusk8/obfusk8/internal/ir"
	"github.com/obfusk8/obfusk8/internal/keystore"
	"github.com/obfusk8/obfusk8/internal/labyrinth"
	"github.com/obfusk8/obfusk8/internal/mba"
	"github.com/obfusk8/obfusk8/internal/strenc"
	"github.com/obfusk8/obfusk8/internal/vm"
	"github.com/obfusk8/obfusk8/pkg/types"
)

// Pass is one protection transform
type Pass interface {
	// Name returns the pass name used in reports and config
	Name() string

	// Description returns a brief description of the transform
	Description() string

	// MinProfile is the weakest profile that runs this pass
	MinProfile() types.Profile

	// Apply returns a transformed copy of r. Degraded constructs go in the
	// result; a returned error aborts the region.
	Apply(pc *PassContext, r *ir.Region) (*ir.Region, types.PassResult, error)
}

// PassContext is what a pass may draw on while transforming one region
type PassContext struct {
	Build   *keystore.Context
	Labels  *keystore.Range
	Profile types.Profile
	Options *Options
	Log     *logrus.Entry
}

// --- Registry: Manages available passes ---

// Registry stores passes in pipeline order
type Registry struct {
	mu     sync.RWMutex
	passes map[string]Pass
	order  []string // maintains insertion order
}

// NewRegistry creates an empty pass registry
func NewRegistry() *Registry {
	return &Registry{
		passes: make(map[string]Pass),
		order:  make([]string, 0),
	}
}

// DefaultRegistry returns the built-in passes in their fixed order
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(stringsPass{})
	r.Register(mbaPass{})
	r.Register(controlFlowPass{})
	r.Register(vmPass{})
	return r
}

// Register adds a pass; re-registering a name replaces it in place
func (r *Registry) Register(p Pass) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.passes[name]; !exists {
		r.order = append(r.order, name)
	}
	r.passes[name] = p
}

// Get retrieves a pass by name
func (r *Registry) Get(name string) (Pass, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.passes[name]
	return p, exists
}

// All returns all registered passes in order
func (r *Registry) All() []Pass {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Pass, 0, len(r.order))
	for _, name := range r.order {
		if p, exists := r.passes[name]; exists {
			result = append(result, p)
		}
	}
	return result
}

// ForProfile returns the passes profile runs, in order, minus disabled ones
func (r *Registry) ForProfile(profile types.Profile, disabled []string) []Pass {
	off := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		off[name] = true
	}
	var result []Pass
	for _, p := range r.All() {
		if profile.AtLeast(p.MinProfile()) && !off[p.Name()] {
			result = append(result, p)
		}
	}
	return result
}

// Names returns the names of all registered passes
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, len(r.order))
	copy(result, r.order)
	return result
}

// --- Built-in passes ---

type stringsPass struct{}

func (stringsPass) Name() string              { return types.PassStrings }
func (stringsPass) MinProfile() types.Profile { return types.Medium }
func (stringsPass) Description() string {
	return "encrypt obf.Str literals (every string literal at heavy) into a lazily decoded table"
}

func (stringsPass) Apply(pc *PassContext, r *ir.Region) (*ir.Region, types.PassResult, error) {
	mode := strenc.Annotated
	if pc.Profile.AtLeast(types.Heavy) {
		mode = strenc.AllLiterals
	}
	table := strenc.NewTable(strenc.NewCipher(pc.Build.StringKey()))
	s := strenc.NewSealer(table, pc.Labels.Rand(types.PassStrings), mode, r.Pos)
	body, err := s.Seal(r.Body)
	if err != nil {
		return nil, types.PassResult{}, err
	}
	out := r.WithBody(body)
	if table.Len() > 0 {
		out.Strings = table
	}
	return out, types.Result(types.PassStrings, s.Sites, s.Degradations), nil
}

type mbaPass struct{}

func (mbaPass) Name() string              { return types.PassMBA }
func (mbaPass) MinProfile() types.Profile { return types.Heavy }
func (mbaPass) Description() string {
	return "substitute protected arithmetic with mixed boolean-arithmetic identities"
}

func (mbaPass) Apply(pc *PassContext, r *ir.Region) (*ir.Region, types.PassResult, error) {
	rw := mba.New(pc.Labels.Rand(types.PassMBA), mba.Options{Depth: pc.Options.MBADepth})
	body := rw.RewriteStmts(r.Body)

	if n := pc.Options.VerifySamples; n > 0 {
		rng := pc.Labels.Rand("mba/verify")
		checked := 0
		for _, site := range rw.Rewrites {
			ok, err := mba.CheckSite(site, rng, n)
			if err != nil {
				return nil, types.PassResult{}, err
			}
			if ok {
				checked++
			}
		}
		pc.Log.WithField("checked", checked).Debug("mba sites verified")
	}
	return r.WithBody(body), types.Result(types.PassMBA, rw.Sites, nil), nil
}

type controlFlowPass struct{}

func (controlFlowPass) Name() string              { return types.PassControlFlow }
func (controlFlowPass) MinProfile() types.Profile { return types.Heavy }
func (controlFlowPass) Description() string {
	return "flatten control flow into a dispatch labyrinth with opaque predicates and decoy blocks"
}

func (controlFlowPass) Apply(pc *PassContext, r *ir.Region) (*ir.Region, types.PassResult, error) {
	f := labyrinth.New(pc.Labels, pc.Labels.Rand(types.PassControlFlow), labyrinth.Options{DecoyRatio: pc.Options.DecoyRatio})
	body, err := f.Flatten(r)
	if err != nil {
		return nil, types.PassResult{}, err
	}
	for _, g := range f.Graphs {
		pc.Log.WithFields(logrus.Fields{
			"blocks": g.Blocks,
			"decoys": g.Decoys(),
		}).Debug("dispatch built")
	}
	return r.WithBody(body), types.Result(types.PassControlFlow, f.Sites, f.Degradations), nil
}

type vmPass struct{}

func (vmPass) Name() string              { return types.PassVM }
func (vmPass) MinProfile() types.Profile { return types.Heavy }
func (vmPass) Description() string {
	return "compile statement runs to bytecode for a per-build permuted stack machine"
}

func (vmPass) Apply(pc *PassContext, r *ir.Region) (*ir.Region, types.PassResult, error) {
	v := vm.NewVirtualizer(pc.Labels.Rand(types.PassVM), vm.Options{RejectPlainStrings: pc.Profile.AtLeast(types.Heavy)})
	body, err := v.Virtualize(r)
	if err != nil {
		return nil, types.PassResult{}, err
	}
	for _, p := range v.Programs {
		pc.Log.WithField("program", p.String()).Debug("run virtualized")
	}
	return r.WithBody(body), types.Result(types.PassVM, v.Sites, v.Degradations), nil
}
