// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package heli

import "time"

// ArmingState is the latest arming information from the vehicle.
type ArmingState struct {
	Armed   bool      `json:"armed"`
	ArmedAt time.Time `json:"armed_time"`
}

// SpoolupProgress returns how far the throttle ramp has progressed at now,
// in [0, 1]. A non-positive or NaN spoolup time means the ramp is already
// complete.
func SpoolupProgress(state ArmingState, now time.Time, spoolupTime float64) float64 {
	if !(spoolupTime > 0) {
		return 1
	}
	elapsed := now.Sub(state.ArmedAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	progress := elapsed / spoolupTime
	if progress > 1 {
		return 1
	}
	return progress
}
