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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tutor-gateway/services/gateway/audit"
	"github.com/AleutianAI/tutor-gateway/services/gateway/config"
	"github.com/AleutianAI/tutor-gateway/services/gateway/server"
	storagebadger "github.com/AleutianAI/tutor-gateway/services/gateway/storage/badger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "tutorgate",
		Short:         "A CLI to run and inspect the course tutoring gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (env vars take precedence)")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newAuditCmd(&configPath))
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the tutoring gateway server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
			slog.SetDefault(logger)

			path := *configPath
			if path == "" {
				path = os.Getenv("TUTOR_CONFIG")
			}
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			cleanup, err := server.InitTracer(cmd.Context())
			if err != nil {
				return fmt.Errorf("setup OTLP tracer: %w", err)
			}
			defer cleanup(context.Background())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx, cfg, logger)
		},
	}
}

func newAuditCmd(configPath *string) *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the anonymized audit trail",
	}

	export := &cobra.Command{
		Use:   "export",
		Short: "Write all audit records to stdout as JSON lines, oldest first",
		RunE: func(_ *cobra.Command, _ []string) error {
			path := *configPath
			if path == "" {
				path = os.Getenv("TUTOR_CONFIG")
			}
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if cfg.Audit.Path == "" {
				return fmt.Errorf("audit.path is not configured; nothing to export")
			}

			storeCfg := storagebadger.DefaultConfig(cfg.Audit.Path)
			storeCfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
			db, err := storagebadger.Open(storeCfg)
			if err != nil {
				return fmt.Errorf("open audit store: %w", err)
			}
			defer db.Close()

			enc := json.NewEncoder(os.Stdout)
			store := audit.NewBadgerStore(db)
			return store.Export(func(rec audit.StoredRecord) error {
				return enc.Encode(rec)
			})
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print system and engagement aggregates over the audit trail",
		RunE: func(_ *cobra.Command, _ []string) error {
			path := *configPath
			if path == "" {
				path = os.Getenv("TUTOR_CONFIG")
			}
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if cfg.Audit.Path == "" {
				return fmt.Errorf("audit.path is not configured; nothing to summarize")
			}

			storeCfg := storagebadger.DefaultConfig(cfg.Audit.Path)
			storeCfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
			db, err := storagebadger.Open(storeCfg)
			if err != nil {
				return fmt.Errorf("open audit store: %w", err)
			}
			defer db.Close()

			analytics, err := audit.Summarize(audit.NewBadgerStore(db), time.Now().UTC())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(analytics)
		},
	}

	auditCmd.AddCommand(export)
	auditCmd.AddCommand(stats)
	return auditCmd
}
