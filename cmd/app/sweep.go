package main

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/local/pdftools/internal/artifact"
	cfgpkg "github.com/local/pdftools/internal/config"
	logpkg "github.com/local/pdftools/internal/logger"
)

func newSweepCmd() *cobra.Command {
	var (
		maxAge time.Duration
		dir    string
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete workspaces older than --max-age once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cfgpkg.FromEnv()
			if err := initLogging(cfg); err != nil {
				return err
			}
			defer logpkg.Close()

			if dir == "" {
				dir = cfg.Storage.UploadDir
			}
			if maxAge == 0 {
				maxAge = cfg.Storage.SweepMaxAge
			}
			st, err := artifact.NewFSStore(dir)
			if err != nil {
				return err
			}
			report, err := st.Sweep(cmd.Context(), maxAge)
			if err != nil {
				return err
			}
			log.Info().
				Int("scanned", report.Scanned).
				Int("deleted", report.Deleted).
				Int("failed", report.Failed).
				Int("kept", report.Kept).
				Msg("sweep finished")
			return json.NewEncoder(cmd.OutOrStdout()).Encode(report)
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "delete workspaces older than this (default SWEEP_MAX_AGE)")
	cmd.Flags().StringVar(&dir, "dir", "", "store root (default UPLOAD_DIR)")
	return cmd
}
