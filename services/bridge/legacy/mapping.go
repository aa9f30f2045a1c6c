// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package legacy

import (
	"maps"
	"slices"
	"strings"
)

const (
	// HookPrefix prefixes every legacy name to form its hook name.
	HookPrefix = "ajax_"

	// MethodPrefix prefixes the camel-cased legacy name to form the
	// implementation name, e.g. save_settings -> HandleSaveSettings.
	MethodPrefix = "Handle"
)

// HandlerMapping maps legacy names to REST paths relative to the bridge
// namespace.
type HandlerMapping map[string]string

var defaultMapping = HandlerMapping{
	"save_settings":   "/settings",
	"get_settings":    "/settings",
	"reset_settings":  "/settings/reset",
	"export_settings": "/settings/export",
	"import_settings": "/settings/import",
	"create_backup":   "/backups",
	"list_backups":    "/backups",
	"restore_backup":  "/backups/{id}/restore",
	"delete_backup":   "/backups/{id}",
	"apply_theme":     "/themes/apply",
	"preview_theme":   "/themes/preview",
}

// DefaultMapping returns a copy of the built-in mapping table.
func DefaultMapping() HandlerMapping {
	return maps.Clone(defaultMapping)
}

// Names returns the legacy names in sorted order.
func (m HandlerMapping) Names() []string {
	return slices.Sorted(maps.Keys(m))
}

// HookName returns the hook a legacy name is registered under.
func HookName(legacyName string) string {
	return HookPrefix + legacyName
}

// DeriveMethodName converts a hook or legacy name into its implementation
// name: the hook prefix is stripped, the rest split on underscores and
// camel-cased, and MethodPrefix prepended.
func DeriveMethodName(hook string) string {
	base := strings.TrimPrefix(hook, HookPrefix)

	var b strings.Builder
	b.WriteString(MethodPrefix)
	for _, part := range strings.Split(base, "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}
