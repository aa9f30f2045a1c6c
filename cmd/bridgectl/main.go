// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command bridgectl is the operator CLI for a running bridge. It checks
// compatibility, drives the staged migration and reads legacy usage over
// the bridge's admin API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/AleutianAI/AleutianBridge/pkg/ux"
	"github.com/spf13/cobra"
)

const (
	EnvURL   = "BRIDGE_URL"
	EnvToken = "BRIDGE_ADMIN_TOKEN"

	defaultURL = "http://127.0.0.1:12230/v1/bridge"
)

// options are the persistent flags shared by every command.
type options struct {
	url     string
	token   string
	output  string
	timeout time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "bridgectl",
		Short: "Operate the REST migration bridge",
		Long: `bridgectl talks to a running bridge over its admin API.

A migration moves clients from the legacy action endpoint to the REST API
in steps: start (25%), advance to 50, 75 and 100 percent, then complete.
Rollback restores the settings and flags captured when the migration
started.`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.url, "url", envOr(EnvURL, defaultURL), "bridge base URL including the namespace (env "+EnvURL+")")
	pf.StringVar(&opts.token, "token", os.Getenv(EnvToken), "admin bearer token (env "+EnvToken+")")
	pf.StringVarP(&opts.output, "output", "o", "", "output style: full, minimal, machine or json (env "+ux.EnvPersonality+")")
	pf.DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")

	rootCmd.AddCommand(
		newStatusCmd(opts),
		newCheckCmd(opts),
		newStartCmd(opts),
		newAdvanceCmd(opts),
		newCompleteCmd(opts),
		newRollbackCmd(opts),
		newStatsCmd(opts),
		newResetUsageCmd(opts),
		newAuditCmd(opts),
		newDiagnosticsCmd(opts),
	)
	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// session bundles what a command needs for one invocation.
type session struct {
	client  *adminClient
	printer *ux.Printer
	json    bool
	cmd     *cobra.Command
}

func newSession(cmd *cobra.Command, opts *options) *session {
	out := cmd.OutOrStdout()
	f, _ := out.(*os.File)
	return &session{
		client:  newAdminClient(opts.url, opts.token, opts.timeout),
		printer: ux.NewPrinter(out, ux.DetectPersonality(jsonless(opts.output), f)),
		json:    opts.output == "json",
		cmd:     cmd,
	}
}

func jsonless(output string) string {
	if output == "json" {
		return ""
	}
	return output
}

func (s *session) ctx() context.Context {
	return s.cmd.Context()
}

// emit writes v as indented JSON in json mode and calls render otherwise.
func (s *session) emit(v any, render func(*ux.Printer)) error {
	if !s.json {
		render(s.printer)
		return nil
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(s.cmd.OutOrStdout(), string(b))
	return err
}
