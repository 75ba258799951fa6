package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/obfusk8/obfusk8/internal/build"
	"github.com/obfusk8/obfusk8/internal/config"
	"github.com/obfusk8/obfusk8/internal/pipeline"
	"github.com/obfusk8/obfusk8/internal/report"
	"github.com/obfusk8/obfusk8/internal/ui"
)

func protectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "protect <input.go>",
		Short: "Protect the //obf:protect regions of a file into a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			res, err := protect(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}
			if werr := res.Write(cfg); werr != nil {
				return werr
			}
			if err := printSummary(cmd.OutOrStdout(), cfg, res); err != nil {
				return err
			}
			return res.Err
		},
	}
	buildFlags(cmd)
	cmd.Flags().BoolVar(&enableTUI, "tui", false, "Show the interactive build dashboard")
	return cmd
}

// protect runs one build, behind the dashboard when the TUI is enabled
func protect(ctx context.Context, cfg *config.Config, input string) (*build.Result, error) {
	log := config.InitLogger(&cfg.Log)
	if !cfg.Output.EnableTUI {
		return build.Run(ctx, cfg, input, build.Options{Logger: log})
	}

	// the dashboard owns the terminal; logs would tear it
	log.SetOutput(io.Discard)
	regions, err := build.Parse(cfg, input)
	if err != nil {
		return nil, err
	}
	var res *build.Result
	dash := ui.NewDashboard(input, len(regions))
	err = ui.RunBuild(ctx, dash, func(ctx context.Context, onRegion func(string, *pipeline.Report, error)) error {
		var err error
		res, err = build.Run(ctx, cfg, input, build.Options{Logger: log, OnRegion: onRegion})
		if err != nil {
			return err
		}
		return res.Err
	})
	if res == nil {
		return nil, err
	}
	return res, nil
}

func printSummary(w io.Writer, cfg *config.Config, res *build.Result) error {
	if cfg.Output.QuietMode && res.Err == nil {
		return nil
	}
	switch cfg.Output.Format {
	case "json", "yaml":
		return report.NewManager(".").WriteToWriter(res.Report, cfg.Output.Format, w)
	}

	var failures []error
	for _, f := range res.Report.Failures {
		failures = append(failures, fmt.Errorf("%s: %s", f.Region, f.Error))
	}
	fmt.Fprint(w, ui.Summary(pipeline.DefaultRegistry().Names(), res.Report.Regions, failures))
	if res.Err == nil {
		out := cfg.Output.OutputFile
		if out == "" {
			out = build.ArtifactPath(res.Input)
		}
		fmt.Fprintln(w, ui.RenderLabelValue("Bundle", out))
	}
	return nil
}
