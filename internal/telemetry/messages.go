// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry holds the JSON messages exchanged over MQTT and the
// conversions between them and the allocation types.
package telemetry

import (
	"time"

	"github.com/relabs-tech/heli_allocator/internal/allocation"
	"github.com/relabs-tech/heli_allocator/internal/heli"
)

// VehicleStatus is the arming state as published by the flight controller.
type VehicleStatus struct {
	Armed bool `json:"armed"`
	// ArmedAt is optional; receivers stamp their own clock when it is zero.
	ArmedAt time.Time `json:"armed_time,omitempty"`
}

// ControlSetpoint carries normalized torque and thrust demands.
// ThrustZ is negative for upward thrust.
type ControlSetpoint struct {
	Timestamp time.Time `json:"timestamp"`
	Roll      float64   `json:"roll"`
	Pitch     float64   `json:"pitch"`
	Yaw       float64   `json:"yaw"`
	ThrustX   float64   `json:"thrust_x,omitempty"`
	ThrustY   float64   `json:"thrust_y,omitempty"`
	ThrustZ   float64   `json:"thrust_z"`
}

// ParamSet overrides parameter values at runtime.
type ParamSet struct {
	Values map[string]float64 `json:"values"`
	// Reload re-reads the parameter file before applying Values.
	Reload bool `json:"reload,omitempty"`
}

// ActuatorOutputs is one allocation result.
type ActuatorOutputs struct {
	Timestamp       time.Time `json:"timestamp"`
	Throttle        float64   `json:"throttle"`
	Tail            float64   `json:"tail"`
	Servos          []float64 `json:"servos"`
	Controls        []float64 `json:"controls"`
	CollectivePitch float64   `json:"collective_pitch"`
	Armed           bool      `json:"armed"`
	SpoolupProgress float64   `json:"spoolup_progress"`
}

// AllocatorStatus is published when the actuator configuration changes.
type AllocatorStatus struct {
	Timestamp       time.Time              `json:"timestamp"`
	Model           string                 `json:"model"`
	Motors          int                    `json:"motors"`
	Servos          int                    `json:"servos"`
	FirstServoIndex int                    `json:"first_servo_index"`
	SwashPlate      []heli.SwashPlateServo `json:"swash_plate"`
	SpoolupTime     float64                `json:"spoolup_time"`
	Reason          string                 `json:"reason"`
}

// ToSetpoint converts a message to the allocation vector.
func (c ControlSetpoint) ToSetpoint() allocation.ControlSetpoint {
	var sp allocation.ControlSetpoint
	sp[allocation.Roll] = c.Roll
	sp[allocation.Pitch] = c.Pitch
	sp[allocation.Yaw] = c.Yaw
	sp[allocation.ThrustX] = c.ThrustX
	sp[allocation.ThrustY] = c.ThrustY
	sp[allocation.ThrustZ] = c.ThrustZ
	return sp
}

// ArmingTracker turns VehicleStatus messages into an ArmingState, stamping
// the local receipt time on each disarmed to armed transition unless the
// message carries its own arming time.
type ArmingTracker struct {
	state heli.ArmingState
}

// Update applies a status message received at now and returns the new state.
func (a *ArmingTracker) Update(s VehicleStatus, now time.Time) heli.ArmingState {
	switch {
	case s.Armed && !a.state.Armed:
		a.state.ArmedAt = now
		if !s.ArmedAt.IsZero() {
			a.state.ArmedAt = s.ArmedAt
		}
	case s.Armed && !s.ArmedAt.IsZero():
		a.state.ArmedAt = s.ArmedAt
	}
	a.state.Armed = s.Armed
	return a.state
}

// State returns the current arming state.
func (a *ArmingTracker) State() heli.ArmingState { return a.state }

// NewActuatorOutputs builds the published form of an allocation result.
func NewActuatorOutputs(now time.Time, out *allocation.ActuatorVector, firstServo int, sp allocation.ControlSetpoint, st heli.Status) ActuatorOutputs {
	servos := make([]float64, st.NumServos)
	for i := range servos {
		if firstServo+i < allocation.MaxActuators {
			servos[i] = out[firstServo+i]
		}
	}
	return ActuatorOutputs{
		Timestamp:       now,
		Throttle:        out[0],
		Tail:            out[1],
		Servos:          servos,
		Controls:        append([]float64(nil), sp[:]...),
		CollectivePitch: st.CollectivePitch,
		Armed:           st.Armed,
		SpoolupProgress: st.SpoolupProgress,
	}
}
