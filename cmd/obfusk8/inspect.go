package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/obfusk8/obfusk8/internal/artifact"
	"github.com/obfusk8/obfusk8/internal/ir"
	"github.com/obfusk8/obfusk8/internal/report"
	"github.com/obfusk8/obfusk8/internal/vm"
)

func inspectCmd() *cobra.Command {
	var (
		query  string
		region string
		disasm bool
	)
	cmd := &cobra.Command{
		Use:   "inspect <bundle|report.json>",
		Short: "Show the regions of a bundle or query a JSON report",
		Example: `  obfusk8 inspect hello.obk8 --region hello --disasm
  obfusk8 inspect report.json --query 'regions.#(region=="fib").passes.#.status'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if filepath.Ext(args[0]) == ".json" {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				if query == "" {
					query = "statistics"
				}
				res, err := report.Query(data, query)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, res.String())
				return nil
			}

			b, err := artifact.Load(args[0])
			if err != nil {
				return err
			}
			if region == "" {
				fmt.Fprintf(out, "build %s from %s (%s)\n", b.BuildID, b.Source, b.Created.Format("2006-01-02 15:04:05"))
				for _, rep := range b.Reports {
					fmt.Fprintf(out, "  %-20s %-6s labels [%d, %d) strings %d\n",
						rep.Region, rep.Profile, rep.LabelStart, rep.LabelEnd, rep.Strings)
				}
				return nil
			}

			r, err := b.Region(region)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, ir.Format(r))
			if disasm {
				ir.InspectStmts(r.Body, func(s ir.Stmt) bool {
					if v, ok := s.(*ir.Virtual); ok {
						if p, ok := v.Code.(*vm.Program); ok {
							fmt.Fprintln(out, p.Disassemble())
						}
					}
					return true
				})
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "gjson path to evaluate against a JSON report")
	cmd.Flags().StringVar(&region, "region", "", "Print the protected IR of one region")
	cmd.Flags().BoolVar(&disasm, "disasm", false, "With --region, also disassemble its VM programs")
	return cmd
}
