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
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/BhavyaBibra/ComplianceGPT/pkg/logging"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

// versionInfo is printed by the version command.
type versionInfo struct {
	Version   string `yaml:"version"`
	Commit    string `yaml:"commit"`
	GoVersion string `yaml:"go_version"`
	Platform  string `yaml:"platform"`
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "orchestrator",
		Short:         "ComplianceGPT query orchestrator",
		Long:          `Answers compliance questions grounded in retrieved framework text, maps controls between frameworks and builds incident playbooks.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(
		newServeCommand(&configPath),
		newConfigCommand(&configPath),
		newVersionCommand(),
	)
	return root
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := orchestrator.LoadConfig(*configPath)
			if err != nil {
				return err
			}

			level, levelErr := logging.ParseLevel(cfg.LogLevel)
			logger := logging.New(logging.Config{
				Level:   level,
				LogDir:  cfg.LogDir,
				Service: "orchestrator",
				JSON:    cfg.LogJSON || !isTerminal(os.Stderr),
			})
			defer logger.Close()
			slog.SetDefault(logger.Slog())
			if levelErr != nil {
				slog.Warn("Falling back to info logging", "error", levelErr)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			slog.Info("Starting orchestrator",
				"version", version,
				"port", cfg.Port,
				"primary_provider", cfg.LLM.Primary.Name,
				"secondary_provider", cfg.LLM.Secondary.Name)

			svc, err := orchestrator.New(ctx, cfg, nil)
			if err != nil {
				return fmt.Errorf("failed to create orchestrator: %w", err)
			}
			return svc.Run(ctx)
		},
	}
}

func newConfigCommand(configPath *string) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := orchestrator.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return configCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(versionInfo{
				Version:   version,
				Commit:    commit,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			})
			if err != nil {
				return fmt.Errorf("encode version: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

// isTerminal reports whether f is an interactive terminal. Logs default to
// JSON everywhere else so collectors can parse them.
func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
