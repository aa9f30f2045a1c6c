// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package migration

import "errors"

var (
	// ErrIncompatible indicates a required compatibility check failed.
	// The accompanying Result carries the report.
	ErrIncompatible = errors.New("environment is not compatible with migration")

	// ErrBackupFailed indicates the pre-migration snapshot could not be saved.
	ErrBackupFailed = errors.New("failed to create migration snapshot")

	// ErrNoSnapshot indicates rollback was requested without a snapshot.
	ErrNoSnapshot = errors.New("no migration snapshot available")

	// ErrConcurrentTransition indicates another transition changed the
	// status between read and write.
	ErrConcurrentTransition = errors.New("concurrent migration transition")

	// ErrInvalidTransition indicates the transition is not allowed from the
	// current phase.
	ErrInvalidTransition = errors.New("invalid migration transition")

	// ErrRestoreFailed indicates rollback could not restore the snapshot.
	ErrRestoreFailed = errors.New("failed to restore migration snapshot")
)
