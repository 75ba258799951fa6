// Package pipeline runs the protection passes a profile selects over
// protected regions and reports what each pass did.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/obfusk8/obfusk8/internal/ir"
	"github.com/obfusk8/obfusk8/internal/keystore"
	"github.com/obfusk8/obfusk8/internal/labyrinth"
	"github.com/obfusk8/obfusk8/internal/mba"
	"github.com/obfusk8/obfusk8/internal/parallel"
	"github.com/obfusk8/obfusk8/pkg/types"
)

// Options tunes a Pipeline. Zero values select defaults.
type Options struct {
	MBADepth      int
	VerifySamples int
	DecoyRatio    float64
	// Disabled names passes to skip even when the profile selects them
	Disabled []string
	// Workers bounds ProtectAll parallelism (default one per CPU)
	Workers int

	Logger   *logrus.Logger
	Metrics  *Metrics
	Registry *Registry

	// OnRegion, when set, is called once per finished region with its
	// report or error. ProtectAll calls it from worker goroutines.
	OnRegion func(region string, rep *Report, err error)
}

// Error is a build failure of one region, naming the pass when one failed
type Error struct {
	Region string
	Pass   string
	Err    error
}

func (e *Error) Error() string {
	if e.Pass == "" {
		return fmt.Sprintf("region %s: %v", e.Region, e.Err)
	}
	return fmt.Sprintf("region %s: pass %s: %v", e.Region, e.Pass, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Protected is a materialized region: the transformed IR plus its report
type Protected struct {
	Region   *ir.Region
	Original *ir.Region
	Profile  types.Profile
	Report   *Report
}

// Run executes the protected region
func (p *Protected) Run(natives ir.Natives, args ...ir.Value) (ir.Value, error) {
	return ir.Invoke(p.Region, natives, args...)
}

// Pipeline protects regions against one obfuscation context
type Pipeline struct {
	build    *keystore.Context
	opts     Options
	registry *Registry
	log      *logrus.Logger
}

// New creates a pipeline drawing keys and labels from build
func New(build *keystore.Context, opts Options) *Pipeline {
	if opts.MBADepth <= 0 {
		opts.MBADepth = mba.DefaultDepth
	}
	if opts.DecoyRatio <= 0 {
		opts.DecoyRatio = labyrinth.DefaultDecoyRatio
	}
	reg := opts.Registry
	if reg == nil {
		reg = DefaultRegistry()
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	for _, name := range opts.Disabled {
		if _, ok := reg.Get(name); !ok {
			log.WithField("pass", name).Warn("disabled pass is not registered")
		}
	}
	return &Pipeline{build: build, opts: opts, registry: reg, log: log}
}

// Context returns the obfuscation context of the build
func (p *Pipeline) Context() *keystore.Context {
	return p.build
}

// Registry returns the pass registry
func (p *Pipeline) Registry() *Registry {
	return p.registry
}

// RegionProfile returns the profile a region's directive asked for
func RegionProfile(r *ir.Region) (types.Profile, error) {
	return types.ParseProfile(r.Profile)
}

// Protect runs every pass profile selects over r
func (p *Pipeline) Protect(ctx context.Context, r *ir.Region, profile types.Profile) (*Protected, error) {
	labels, err := p.allocate(r, profile)
	if err != nil {
		return nil, err
	}
	return p.protect(ctx, r, profile, labels)
}

// ProtectAll protects regions in parallel, each at the profile its
// directive names. Label ranges are reserved in region order before any
// worker starts, so the output only depends on the seed and the input. The
// result has one entry per region; failed regions are nil and their errors
// are joined.
func (p *Pipeline) ProtectAll(ctx context.Context, regions []*ir.Region) ([]*Protected, error) {
	profiles := make([]types.Profile, len(regions))
	ranges := make([]*keystore.Range, len(regions))
	for i, r := range regions {
		prof, err := RegionProfile(r)
		if err != nil {
			return nil, &Error{Region: r.Name, Err: err}
		}
		profiles[i] = prof
		if ranges[i], err = p.allocate(r, prof); err != nil {
			return nil, err
		}
	}

	pool, err := parallel.NewWorkerPool(&parallel.WorkerPoolOptions{Size: p.opts.Workers})
	if err != nil {
		return nil, err
	}
	defer pool.Shutdown()

	out := make([]*Protected, len(regions))
	errs := pool.Map(ctx, len(regions), func(ctx context.Context, i int) error {
		prot, err := p.protect(ctx, regions[i], profiles[i], ranges[i])
		out[i] = prot
		p.notify(regions[i].Name, prot, err)
		return err
	})
	for i, err := range errs {
		var perr *Error
		if err != nil && !errors.As(err, &perr) {
			errs[i] = &Error{Region: regions[i].Name, Err: err}
		}
	}
	return out, errors.Join(errs...)
}

func (p *Pipeline) notify(name string, prot *Protected, err error) {
	if p.opts.OnRegion == nil {
		return
	}
	var rep *Report
	if prot != nil {
		rep = prot.Report
	}
	p.opts.OnRegion(name, rep, err)
}

func (p *Pipeline) allocate(r *ir.Region, profile types.Profile) (*keystore.Range, error) {
	n, pass := uint64(1), ""
	if p.runs(types.PassControlFlow, profile) {
		n, pass = labyrinth.Labels(r.Body, p.opts.DecoyRatio), types.PassControlFlow
	}
	labels, err := p.build.Allocate(n)
	if err != nil {
		return nil, &Error{Region: r.Name, Pass: pass, Err: err}
	}
	p.opts.Metrics.RecordLabels(n)
	return labels, nil
}

func (p *Pipeline) runs(name string, profile types.Profile) bool {
	for _, pass := range p.registry.ForProfile(profile, p.opts.Disabled) {
		if pass.Name() == name {
			return true
		}
	}
	return false
}

func (p *Pipeline) protect(ctx context.Context, r *ir.Region, profile types.Profile, labels *keystore.Range) (*Protected, error) {
	start := time.Now()
	rep := &Report{
		Region:     r.Name,
		Pos:        r.Pos,
		Profile:    profile.String(),
		LabelStart: labels.Start(),
		LabelEnd:   labels.End(),
	}
	log := p.log.WithFields(logrus.Fields{"region": r.Name, "profile": profile.String()})

	cur := r
	for _, pass := range p.registry.ForProfile(profile, p.opts.Disabled) {
		if err := ctx.Err(); err != nil {
			p.opts.Metrics.RecordRegion(profile, err)
			return nil, &Error{Region: r.Name, Pass: pass.Name(), Err: err}
		}
		plog := log.WithField("pass", pass.Name())
		pc := &PassContext{
			Build:   p.build,
			Labels:  labels,
			Profile: profile,
			Options: &p.opts,
			Log:     plog,
		}

		began := time.Now()
		next, res, err := pass.Apply(pc, cur)
		if err != nil {
			plog.WithError(err).Error("pass failed")
			p.opts.Metrics.RecordRegion(profile, err)
			return nil, &Error{Region: r.Name, Pass: pass.Name(), Err: err}
		}
		p.opts.Metrics.RecordPass(res, time.Since(began))

		for _, d := range res.Degradations {
			plog.WithField("pos", d.Pos).Warnf("left untransformed: %s", d.Reason)
		}
		plog.WithFields(logrus.Fields{
			"status": res.Status,
			"sites":  res.Sites,
		}).Debug("pass done")

		rep.Passes = append(rep.Passes, res)
		cur = next
	}

	out := cur.WithBody(cur.Body)
	out.Profile = profile.String()
	if out.Strings != nil {
		rep.Strings = out.Strings.Len()
	}
	rep.Elapsed = time.Since(start)
	p.opts.Metrics.RecordRegion(profile, nil)
	log.WithField("passes", len(rep.Passes)).Info("region protected")

	return &Protected{Region: out, Original: r, Profile: profile, Report: rep}, nil
}
