package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/obfusk8/obfusk8/internal/artifact"
	"github.com/obfusk8/obfusk8/internal/ir"
	"github.com/obfusk8/obfusk8/internal/natives"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <bundle> [region] [args...]",
		Short: "Execute a protected region from a bundle",
		Long: `Execute a protected region. The region name may be omitted when the
bundle holds a single region. Arguments are parsed by parameter type.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := artifact.Load(args[0])
			if err != nil {
				return err
			}
			r, rest, err := pickRegion(b, args[1:])
			if err != nil {
				return err
			}
			vals, err := parseArgs(r, rest)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			v, err := ir.Invoke(r, natives.NewHost(out).Natives(), vals...)
			if err != nil {
				return err
			}
			if r.Result != ir.Void {
				fmt.Fprintln(out, v)
			}
			return nil
		},
	}
}

func pickRegion(b *artifact.Bundle, args []string) (*ir.Region, []string, error) {
	if len(args) > 0 {
		if r, err := b.Region(args[0]); err == nil {
			return r, args[1:], nil
		}
	}
	names := b.Names()
	if len(names) == 1 {
		r, err := b.Region(names[0])
		return r, args, err
	}
	if len(args) == 0 {
		return nil, nil, fmt.Errorf("bundle has %d regions, name one of: %s", len(names), strings.Join(names, ", "))
	}
	return nil, nil, fmt.Errorf("%w: %s (have %s)", artifact.ErrNoRegion, args[0], strings.Join(names, ", "))
}

func parseArgs(r *ir.Region, args []string) ([]ir.Value, error) {
	if len(args) != len(r.Params) {
		return nil, fmt.Errorf("region %s takes %d arguments, got %d", r.Name, len(r.Params), len(args))
	}
	vals := make([]ir.Value, len(args))
	for i, p := range r.Params {
		v, err := ir.ParseValue(p.T, args[i])
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", p.Name, err)
		}
		vals[i] = v
	}
	return vals, nil
}
