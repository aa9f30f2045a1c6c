// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package flags

import (
	"github.com/cespare/xxhash/v2"
)

// Transport names the request path a client should use.
type Transport string

const (
	TransportREST Transport = "rest"
	TransportAJAX Transport = "ajax"
)

// Bucket maps a stable client identifier to [0, 100).
//
// The same identifier always lands in the same bucket, so a client does not
// flip between transports while the percentage stays constant, and raising
// the percentage only ever moves clients from AJAX to REST.
func Bucket(clientID string) int {
	return int(xxhash.Sum64String(clientID) % 100)
}

// Assign decides which transport serves clientID under f.
//
//   - REST disabled or ForceAJAX set: always AJAX.
//   - Dual mode off (migration completed): always REST.
//   - Otherwise: REST when Bucket(clientID) < GradualRolloutPercentage.
func Assign(f Flags, clientID string) Transport {
	if !f.RESTAPIEnabled || f.ForceAJAX {
		return TransportAJAX
	}
	if !f.DualModeEnabled {
		return TransportREST
	}
	if Bucket(clientID) < f.GradualRolloutPercentage {
		return TransportREST
	}
	return TransportAJAX
}
