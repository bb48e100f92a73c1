// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/netweave/pkg/logging"
)

// --- Global Command Variables ---
var (
	configPath  string
	logLevelStr string
	quiet       bool

	config Config
	logger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "netweave",
		Short: "Orchestrate statistical network analyses over an external fitting engine",
		Long: `netweave validates analysis contract documents, drives the external
fitting engine as a subprocess, aggregates raw parameter blocks into
canonical edges, and caches completed runs by settings hash.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			config = cfg

			level := logLevelStr
			if level == "" {
				level = config.Logging.Level
			}

			logger = logging.New(logging.Config{
				Level:   logging.ParseLevel(level),
				LogDir:  config.Logging.Dir,
				Service: "netweave",
				JSON:    config.Logging.JSON,
				Quiet:   quiet,
			})
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				logger.Close()
			}
		},
	}
)

func main() {
	err := rootCmd.Execute()

	// Cobra skips PersistentPostRun when a command errors, so the log
	// file is flushed here as well; Close is idempotent.
	if logger != nil {
		logger.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevelStr, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress console log output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(specCmd)
	rootCmd.AddCommand(modulesCmd)
}
