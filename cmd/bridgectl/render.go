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
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianBridge/pkg/extensions"
	"github.com/AleutianAI/AleutianBridge/pkg/ux"
	"github.com/AleutianAI/AleutianBridge/services/bridge/compat"
	"github.com/AleutianAI/AleutianBridge/services/bridge/flags"
	"github.com/AleutianAI/AleutianBridge/services/bridge/handlers"
	"github.com/AleutianAI/AleutianBridge/services/bridge/legacy"
	"github.com/AleutianAI/AleutianBridge/services/bridge/migration"
)

func renderProgress(p *ux.Printer, prog migration.Progress) {
	p.Title("Migration status")
	p.KeyValue("phase", prog.Phase)
	p.KeyValue("progress", p.ProgressBar(prog.Progress, 100, 30))
	p.KeyValue("revision", prog.Revision)
	if prog.StartedAt != nil {
		p.KeyValue("started_at", prog.StartedAt.Format(time.RFC3339))
	}
	if prog.CompletedAt != nil {
		p.KeyValue("completed_at", prog.CompletedAt.Format(time.RFC3339))
	}
	if prog.RolledBackAt != nil {
		p.KeyValue("rolled_back_at", prog.RolledBackAt.Format(time.RFC3339))
	}
	if prog.NextRolloutTarget > 0 {
		p.KeyValue("next_target", fmt.Sprintf("%d%%", prog.NextRolloutTarget))
	}
	renderSnapshot(p, prog.Snapshot)
	renderFlags(p, prog.Flags)
	for _, w := range prog.Warnings {
		p.Warning(w)
	}
	for _, e := range prog.Errors {
		p.Error(e)
	}
}

func renderFlags(p *ux.Printer, f flags.Flags) {
	p.KeyValue("rest_api", f.RESTAPIEnabled)
	p.KeyValue("ajax_fallback", f.AJAXFallbackEnabled)
	p.KeyValue("dual_mode", f.DualModeEnabled)
	p.KeyValue("force_ajax", f.ForceAJAX)
	p.KeyValue("rollout_pct", f.GradualRolloutPercentage)
	p.KeyValue("deprecation_warn", f.DeprecationWarningsEnabled)
}

func renderSnapshot(p *ux.Printer, s *migration.SnapshotInfo) {
	if s == nil {
		return
	}
	p.KeyValue("snapshot", fmt.Sprintf("%s (%s, v%s)", s.ID, s.Timestamp.Format(time.RFC3339), s.Version))
}

func renderResult(p *ux.Printer, res migration.Result) {
	if res.Success {
		p.Success(res.Message)
	} else if res.Message != "" {
		p.Error(res.Message)
	}
	if res.Phase != "" {
		p.KeyValue("phase", res.Phase)
	}
	renderSnapshot(p, res.Snapshot)
	if res.Flags != nil {
		renderFlags(p, *res.Flags)
	}
	if res.Report != nil {
		renderReport(p, *res.Report)
	}
}

func renderReport(p *ux.Printer, r compat.Report) {
	p.Title("Compatibility report")

	names := make([]string, 0, len(r.Checks))
	for name := range r.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		res := r.Checks[name]
		p.Check(name, res.Passed, res.Message)
	}

	for _, w := range r.Warnings {
		p.Warning(w)
	}
	for _, rec := range r.Recommendations {
		body := rec.Description
		if rec.Action != "" {
			body += "\n" + string(ux.IconArrow) + " " + rec.Action
		}
		title := fmt.Sprintf("[%s] %s", rec.Priority, rec.Title)
		if rec.Priority == compat.PriorityCritical {
			p.ErrorBox(title, body)
		} else {
			p.WarningBox(title, body)
		}
	}

	if r.Compatible {
		p.Success("environment is compatible")
	} else {
		p.Error("environment is not compatible: " + strings.Join(r.Errors, "; "))
	}
}

func renderStats(p *ux.Printer, s legacy.Stats) {
	p.Title("Legacy handler usage")
	p.KeyValue("total_calls", s.TotalCalls)
	p.KeyValue("wrapped", s.WrappedCount)
	if s.MostUsed != "" {
		p.KeyValue("most_used", s.MostUsed)
	}
	for _, h := range s.Handlers {
		line := fmt.Sprintf("%s %s %s  calls=%d", h.LegacyHandler, ux.IconArrow, h.RESTEndpoint, h.Calls)
		if h.LastSeen != nil {
			line += "  last=" + h.LastSeen.Format(time.RFC3339)
		}
		p.Check(h.LegacyHandler, h.Wrapped, line)
	}
}

func renderAudit(p *ux.Printer, events []extensions.AuditEvent) {
	p.Title("Audit trail")
	if len(events) == 0 {
		p.Muted("no events recorded")
		return
	}
	for _, e := range events {
		p.Check(e.EventType, e.Outcome == extensions.OutcomeSuccess,
			fmt.Sprintf("%s by %s", e.Timestamp.Format(time.RFC3339), e.UserID))
	}
}

func renderDiagnostics(p *ux.Printer, d handlers.DiagnosticsResponse) {
	p.Title("Bridge diagnostics")
	p.KeyValue("namespace", d.Namespace)
	p.KeyValue("initialized", d.Initialized)
	for _, c := range d.Components {
		msg := string(c.Kind)
		if c.Skipped {
			msg += " (skipped)"
		}
		p.Check(c.Name, c.Loaded, msg)
	}
	for _, e := range d.Errors {
		p.Error(fmt.Sprintf("%s: %s", e.Component, e.Message))
	}
}
