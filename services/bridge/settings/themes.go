// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package settings

import (
	"context"
	"fmt"
	"slices"
)

// Theme describes an installed theme.
type Theme struct {
	Name    string            `json:"name"`
	Palette map[string]string `json:"palette"`
}

// DefaultThemes is the built-in theme catalogue.
func DefaultThemes() []Theme {
	return []Theme{
		{Name: "default", Palette: map[string]string{"background": "#ffffff", "text": "#1d2327"}},
		{Name: "dark", Palette: map[string]string{"background": "#1d2327", "text": "#f0f0f1"}},
		{Name: "high-contrast", Palette: map[string]string{"background": "#000000", "text": "#ffff00"}},
	}
}

// ThemeService applies and previews themes.
type ThemeService struct {
	settings *Service
	themes   []Theme
}

// NewThemeService creates a theme service over the given catalogue.
func NewThemeService(settings *Service, themes []Theme) *ThemeService {
	return &ThemeService{settings: settings, themes: themes}
}

// Preview returns the theme without applying it.
func (t *ThemeService) Preview(_ context.Context, name string) (Theme, error) {
	i := slices.IndexFunc(t.themes, func(th Theme) bool { return th.Name == name })
	if i < 0 {
		return Theme{}, fmt.Errorf("%w: %q", ErrUnknownTheme, name)
	}
	return t.themes[i], nil
}

// Apply makes name the active theme.
func (t *ThemeService) Apply(ctx context.Context, name string) (Theme, error) {
	theme, err := t.Preview(ctx, name)
	if err != nil {
		return Theme{}, err
	}
	if _, err := t.settings.Save(ctx, Settings{"theme": theme.Name}); err != nil {
		return Theme{}, err
	}
	return theme, nil
}
