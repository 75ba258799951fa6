package main

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/obfusk8/obfusk8/internal/build"
	"github.com/obfusk8/obfusk8/internal/config"
	"github.com/obfusk8/obfusk8/internal/watcher"
)

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <input.go>",
		Short: "Rebuild the bundle whenever the input changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := config.InitLogger(&cfg.Log)
			input := args[0]
			out := cmd.OutOrStdout()

			rebuild := func(ctx context.Context, _ string) error {
				res, err := build.Run(ctx, cfg, input, build.Options{Logger: log})
				if err != nil {
					return err
				}
				if err := res.Write(cfg); err != nil {
					return err
				}
				if err := printSummary(out, cfg, res); err != nil {
					return err
				}
				return res.Err
			}
			if err := rebuild(cmd.Context(), input); err != nil {
				log.WithError(err).Error("initial build failed")
			}

			w, err := watcher.New(filepath.Dir(input), rebuild, watcher.Options{
				Pattern: filepath.Base(input),
				Logger:  log,
			})
			if err != nil {
				return err
			}
			return w.Run(cmd.Context())
		},
	}
	buildFlags(cmd)
	return cmd
}
