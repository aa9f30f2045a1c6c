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
	"errors"
	"fmt"
	"os"

	"github.com/AleutianAI/AleutianBridge/pkg/ux"
	"github.com/AleutianAI/AleutianBridge/services/bridge/handlers"
	"github.com/AleutianAI/AleutianBridge/services/bridge/migration"
	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// errAborted is returned when the operator declines a confirmation.
var errAborted = errors.New("aborted by operator")

// =============================================================================
// STATUS AND CHECKS
// =============================================================================

func newStatusCmd(opts *options) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the migration phase, rollout percentage and flags",
		Long: `Show the migration phase, rollout percentage and flags.

With --watch the command follows the bridge's progress stream and prints
every change until the migration completes or is rolled back.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := newSession(cmd, opts)
			if watch {
				return s.client.Watch(s.ctx(), func(prog migration.Progress) bool {
					if err := s.emit(prog, func(p *ux.Printer) { renderProgress(p, prog) }); err != nil {
						return false
					}
					return !prog.Phase.Terminal()
				})
			}
			prog, err := s.client.Progress(s.ctx())
			if err != nil {
				return err
			}
			return s.emit(prog, func(p *ux.Printer) { renderProgress(p, prog) })
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "follow progress until the migration completes or rolls back")
	return cmd
}

// newCheckCmd runs the compatibility validator.
//
// # Description
//
// Prints every check, its recommendations and the overall verdict. The
// command exits non-zero when the environment is not compatible so it can
// gate a deployment script.
//
// # Examples
//
//	bridgectl check
//	bridgectl check -o json
func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run the compatibility checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := newSession(cmd, opts)
			report, err := s.client.Compatibility(s.ctx())
			if err != nil {
				return err
			}
			if err := s.emit(report, func(p *ux.Printer) { renderReport(p, report) }); err != nil {
				return err
			}
			if !report.Compatible {
				return errors.New("environment is not compatible")
			}
			return nil
		},
	}
}

func newDiagnosticsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnostics",
		Short: "List bridge components and initialization errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := newSession(cmd, opts)
			d, err := s.client.Diagnostics(s.ctx())
			if err != nil {
				return err
			}
			return s.emit(d, func(p *ux.Printer) { renderDiagnostics(p, d) })
		},
	}
}

// =============================================================================
// MIGRATION TRANSITIONS
// =============================================================================

func newStartCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Validate, snapshot and enable the REST API for 25% of clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTransition(cmd, opts, "start", nil)
		},
	}
}

func newAdvanceCmd(opts *options) *cobra.Command {
	var target int
	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Move the rollout to the next step or to --target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var body any
			if target != 0 {
				switch target {
				case 50, 75, 100:
				default:
					return fmt.Errorf("--target must be 50, 75 or 100, got %d", target)
				}
				body = handlers.AdvanceRequest{Target: target}
			}
			return runTransition(cmd, opts, "advance", body)
		},
	}
	cmd.Flags().IntVar(&target, "target", 0, "rollout percentage (50, 75 or 100); defaults to the next step")
	return cmd
}

func newCompleteCmd(opts *options) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Finish the migration and turn off the legacy fallback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := confirm(opts, yes, "Complete the migration?",
				"All clients move to the REST API and the legacy fallback is switched off."); err != nil {
				return err
			}
			return runTransition(cmd, opts, "complete", nil)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func newRollbackCmd(opts *options) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Restore the settings and flags captured at start",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := confirm(opts, yes, "Roll back the migration?",
				"Settings changed since the migration started are overwritten by the snapshot."); err != nil {
				return err
			}
			return runTransition(cmd, opts, "rollback", nil)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

// confirm asks the operator before a disruptive transition. It only
// prompts when stdin and stdout are terminals and the output is not meant
// for scripts; otherwise it proceeds.
func confirm(opts *options, yes bool, title, description string) error {
	if yes || opts.output == "json" || !interactive() {
		return nil
	}
	if ux.DetectPersonality(jsonless(opts.output), os.Stdout) == ux.PersonalityMachine {
		return nil
	}

	ok := false
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Proceed").
		Negative("Cancel").
		Value(&ok).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return errAborted
	}
	if err != nil {
		return err
	}
	if !ok {
		return errAborted
	}
	return nil
}

func interactive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
}

// runTransition prints the server's Result even when the transition was
// rejected, then returns the error so the exit status reflects it.
func runTransition(cmd *cobra.Command, opts *options, name string, body any) error {
	s := newSession(cmd, opts)
	res, err := s.client.Transition(s.ctx(), name, body)

	var apiErr *apiError
	if err != nil && !(errors.As(err, &apiErr) && (res.Phase != "" || res.Message != "")) {
		return err
	}
	if emitErr := s.emit(res, func(p *ux.Printer) { renderResult(p, res) }); emitErr != nil {
		return emitErr
	}
	return err
}

// =============================================================================
// LEGACY USAGE AND AUDIT
// =============================================================================

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show legacy handler call counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := newSession(cmd, opts)
			stats, err := s.client.LegacyStats(s.ctx())
			if err != nil {
				return err
			}
			return s.emit(stats, func(p *ux.Printer) { renderStats(p, stats) })
		},
	}
}

func newResetUsageCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-usage",
		Short: "Clear the legacy handler call counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := newSession(cmd, opts)
			if err := s.client.ResetUsage(s.ctx()); err != nil {
				return err
			}
			return s.emit(map[string]bool{"reset": true}, func(p *ux.Printer) {
				p.Success("legacy usage counters cleared")
			})
		},
	}
}

func newAuditCmd(opts *options) *cobra.Command {
	var (
		eventType string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent operator actions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := newSession(cmd, opts)
			events, err := s.client.Audit(s.ctx(), eventType, limit)
			if err != nil {
				return err
			}
			return s.emit(events, func(p *ux.Printer) { renderAudit(p, events) })
		},
	}
	cmd.Flags().StringVar(&eventType, "event-type", "", "only show events of this type, e.g. migration.start")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of events")
	return cmd
}
