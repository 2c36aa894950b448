// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package pilot generates control setpoints for bench testing the allocator
// without a flight controller.
package pilot

import (
	"math"
	"time"

	"github.com/relabs-tech/heli_allocator/internal/telemetry"
)

// Command is one pilot output.
type Command struct {
	Armed    bool
	Setpoint telemetry.ControlSetpoint
}

// Source is anything that can provide commands over time.
type Source interface {
	Next() (Command, error)
}

type mockSource struct {
	start   time.Time
	armTime time.Duration
	now     func() time.Time
}

// NewMockSource creates a mock pilot that stays disarmed for armDelay, then
// arms and flies smooth cyclic, collective and pedal sweeps.
func NewMockSource(armDelay time.Duration) Source {
	return newMockSource(armDelay, time.Now)
}

func newMockSource(armDelay time.Duration, now func() time.Time) *mockSource {
	return &mockSource{start: now(), armTime: armDelay, now: now}
}

func (m *mockSource) Next() (Command, error) {
	now := m.now()
	elapsed := now.Sub(m.start)
	t := elapsed.Seconds()

	cmd := Command{
		Setpoint: telemetry.ControlSetpoint{
			Timestamp: now,
			Roll:      0.2 * math.Sin(t),
			Pitch:     0.15 * math.Cos(t*0.7),
			Yaw:       0.1 * math.Sin(t*0.3),
			// hover at 0.5 with a slow +-0.2 collective sweep
			ThrustZ: -(0.5 + 0.2*math.Sin(t*0.2)),
		},
	}
	if elapsed >= m.armTime {
		cmd.Armed = true
	}
	return cmd, nil
}
