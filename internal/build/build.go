// Package build drives one protection build end to end: parse the input,
// run the pipeline, then bundle, report and measure the result.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/obfusk8/obfusk8/internal/analyzer"
	"github.com/obfusk8/obfusk8/internal/artifact"
	"github.com/obfusk8/obfusk8/internal/config"
	"github.com/obfusk8/obfusk8/internal/ir"
	"github.com/obfusk8/obfusk8/internal/keystore"
	"github.com/obfusk8/obfusk8/internal/natives"
	"github.com/obfusk8/obfusk8/internal/pipeline"
	"github.com/obfusk8/obfusk8/internal/report"
)

// Result is the outcome of one build
type Result struct {
	Input     string
	Regions   []*ir.Region
	Protected []*pipeline.Protected
	Bundle    *artifact.Bundle
	Report    *report.Report
	Metrics   *pipeline.Metrics
	Context   *keystore.Context

	// Err joins the per-region failures; the build is unusable when set
	Err error
}

// Options are the per-invocation knobs that do not live in the config
type Options struct {
	Logger *logrus.Logger
	// OnRegion is forwarded to the pipeline
	OnRegion func(region string, rep *pipeline.Report, err error)
}

// Parse reads and parses the protected regions of a source file
func Parse(cfg *config.Config, path string) ([]*ir.Region, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ir.ParseFile(path, src, ir.Options{Profile: cfg.Build.Profile, Natives: natives.Signatures})
}

// Run builds the file at path. Input errors are returned directly; region
// failures land in Result.Err so the report can still be written.
func Run(ctx context.Context, cfg *config.Config, path string, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	started := time.Now()

	regions, err := Parse(cfg, path)
	if err != nil {
		return nil, err
	}
	if len(regions) == 0 {
		return nil, fmt.Errorf("%s: no protected regions", path)
	}

	res := &Result{
		Input:   path,
		Regions: regions,
		Metrics: pipeline.NewMetrics(""),
		Context: keystore.NewContext(cfg.Build.Seed, keystore.Options{Capacity: cfg.Build.Capacity}),
	}
	pl := pipeline.New(res.Context, pipeline.Options{
		MBADepth:      cfg.Passes.MBADepth,
		VerifySamples: cfg.Passes.VerifySamples,
		DecoyRatio:    cfg.Passes.DecoyRatio,
		Disabled:      cfg.Passes.Disabled,
		Workers:       cfg.Worker.Workers,
		Logger:        log,
		Metrics:       res.Metrics,
		OnRegion:      opts.OnRegion,
	})

	log.WithFields(logrus.Fields{
		"input":   path,
		"regions": len(regions),
		"seed":    cfg.Build.Seed,
	}).Info("build started")

	res.Protected, res.Err = pl.ProtectAll(ctx, regions)
	res.Bundle = artifact.New(path, res.Protected)

	names := make([]string, len(regions))
	for i, r := range regions {
		names[i] = r.Name
	}
	rep := report.NewReport("obfusk8 build", path)
	rep.BuildID = res.Bundle.BuildID
	rep.AddBuild(names, res.Protected, res.Err)
	rep.SetContext(res.Context.Used(), res.Context.Capacity())
	rep.Divergence = Divergence(res.Protected)
	rep.Statistics.Duration = time.Since(started)
	res.Report = rep

	entry := log.WithFields(logrus.Fields{
		"protected": rep.Statistics.Protected,
		"failed":    rep.Statistics.Failed,
		"labels":    res.Context.Used(),
	})
	if res.Err != nil {
		entry.WithError(res.Err).Error("build failed")
	} else {
		entry.Info("build finished")
	}
	return res, nil
}

// Divergence compares every protected region with its source
func Divergence(prots []*pipeline.Protected) []report.Divergence {
	c := analyzer.NewComparer(nil)
	var out []report.Divergence
	for _, p := range prots {
		if p == nil {
			continue
		}
		cmp := c.Compare(p.Original, p.Region)
		out = append(out, report.Divergence{
			Region:    p.Region.Name,
			Against:   "original",
			Distance:  cmp.Distance,
			Hashable:  cmp.Hashable,
			Different: cmp.Different,
		})
	}
	return out
}

// ArtifactPath is where the bundle goes when no output path is configured
func ArtifactPath(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + artifact.Extension
}

// Write saves what the configuration asks for: the bundle (only when every
// region built), the report and the metrics.
func (r *Result) Write(cfg *config.Config) error {
	if r.Err == nil {
		out := cfg.Output.OutputFile
		if out == "" {
			out = ArtifactPath(r.Input)
		}
		if err := r.Bundle.Save(out); err != nil {
			return err
		}
	}
	if path := cfg.Output.ReportFile; path != "" {
		if err := report.NewManager(filepath.Dir(path)).WriteFile(r.Report, report.FormatForPath(path), path); err != nil {
			return err
		}
	}
	if path := cfg.Output.MetricsFile; path != "" {
		if err := r.Metrics.WriteFile(path); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}
	return nil
}
