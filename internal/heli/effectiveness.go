// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package heli maps control demands onto the actuators of a single main rotor
// helicopter: main rotor throttle, tail rotor and N swash plate servos.
//
// The mapping is nonlinear (throttle and collective pitch curves, spoolup
// ramp, yaw compensation), so the model declares placeholder effectiveness
// columns and computes actuator commands itself in UpdateSetpoint.
package heli

import (
	"fmt"
	"log"
	"math"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/heli_allocator/internal/allocation"
)

const (
	throttleIndex = 0
	tailIndex     = 1
)

var _ allocation.Effectiveness = (*Effectiveness)(nil)

// Status describes the last UpdateSetpoint call.
type Status struct {
	Armed           bool    `json:"armed"`
	SpoolupProgress float64 `json:"spoolup_progress"`
	Throttle        float64 `json:"throttle"`
	CollectivePitch float64 `json:"collective_pitch"`
	Tail            float64 `json:"tail"`
	NumServos       int     `json:"num_servos"`
}

// Effectiveness is the helicopter effectiveness model.
//
// Refresh may run concurrently with readers of Geometry; the geometry is
// swapped in as a whole. UpdateSetpoint and DeclareActuators must be called
// from a single goroutine.
type Effectiveness struct {
	source GeometrySource
	now    func() time.Time

	geom atomic.Pointer[Geometry]

	firstServoIndex int
	arming          ArmingState
	status          Status
}

// Option configures an Effectiveness.
type Option func(*Effectiveness)

// WithClock replaces time.Now as the spoolup time base.
func WithClock(now func() time.Time) Option {
	return func(e *Effectiveness) { e.now = now }
}

// New returns a model with a zeroed geometry. Call Refresh to load the
// parameters.
func New(source GeometrySource, opts ...Option) *Effectiveness {
	e := &Effectiveness{
		source:          source,
		now:             time.Now,
		firstServoIndex: 2,
	}
	e.geom.Store(&Geometry{})
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements allocation.Effectiveness.
func (e *Effectiveness) Name() string { return "helicopter" }

// Refresh reloads the geometry from the source. On failure the previous
// geometry stays in effect.
func (e *Effectiveness) Refresh() error {
	g, err := e.source.LoadGeometry()
	if err != nil {
		log.Printf("heli: parameter refresh failed, keeping previous geometry: %v", err)
		return fmt.Errorf("heli: refresh: %w", err)
	}
	e.geom.Store(&g)
	return nil
}

// Geometry returns the geometry currently in effect.
func (e *Effectiveness) Geometry() Geometry { return *e.geom.Load() }

// FirstSwashPlateServoIndex returns the actuator slot of servo 0 captured by
// the last successful DeclareActuators call.
func (e *Effectiveness) FirstSwashPlateServoIndex() int { return e.firstServoIndex }

// DeclareActuators declares the main rotor motor, the tail motor and one servo
// per swash plate servo, in that order. Effectiveness columns are zero since
// the allocation happens in UpdateSetpoint.
func (e *Effectiveness) DeclareActuators(cfg *allocation.Configuration, reason allocation.UpdateReason) (bool, error) {
	if reason == allocation.NoExternalUpdate {
		return false, nil
	}

	// main rotor
	if _, err := cfg.AddActuator(allocation.Motors, allocation.Vec3{}, allocation.Vec3{}); err != nil {
		return false, fmt.Errorf("main rotor: %w", err)
	}
	// tail rotor (yaw)
	if _, err := cfg.AddActuator(allocation.Motors, allocation.Vec3{}, allocation.Vec3{}); err != nil {
		return false, fmt.Errorf("tail rotor: %w", err)
	}

	first := cfg.NumActuatorsMatrix[cfg.SelectedMatrix]
	g := e.geom.Load()
	for i := 0; i < g.Servos.Len(); i++ {
		if _, err := cfg.AddActuator(allocation.Servos, allocation.Vec3{}, allocation.Vec3{}); err != nil {
			return false, fmt.Errorf("swash plate servo %d: %w", i, err)
		}
	}
	e.firstServoIndex = first
	return true, nil
}

// UpdateSetpoint maps a control setpoint onto actuator commands in out.
//
// arming carries new arming data, or nil if none arrived since the last call;
// the previous state is kept in that case. matrixIndex is accepted for
// symmetry with linear models and is not used.
func (e *Effectiveness) UpdateSetpoint(sp allocation.ControlSetpoint, matrixIndex int, arming *ArmingState, out *allocation.ActuatorVector) {
	g := e.geom.Load()

	demand := -sp.At(allocation.ThrustZ)
	throttle := g.ThrottleCurve.Eval(demand)
	collectivePitch := g.PitchCurve.Eval(demand)

	if arming != nil {
		e.arming = *arming
	}
	progress := SpoolupProgress(e.arming, e.now(), g.SpoolupTime)
	if e.arming.Armed && progress < 1 {
		throttle *= progress
	}

	tail := sp.At(allocation.Yaw) +
		math.Abs(collectivePitch)*g.YawCollectivePitchScale +
		throttle*g.YawThrottleScale

	out[throttleIndex] = throttle
	out[tailIndex] = tail

	roll := sp.At(allocation.Roll)
	pitch := sp.At(allocation.Pitch)
	for i := 0; i < g.Servos.Len(); i++ {
		idx := e.firstServoIndex + i
		if idx >= len(out) {
			break
		}
		s := g.Servos.At(i)
		out[idx] = collectivePitch +
			pitch*math.Cos(s.Angle)*s.ArmLength -
			roll*math.Sin(s.Angle)*s.ArmLength
	}

	e.status = Status{
		Armed:           e.arming.Armed,
		SpoolupProgress: progress,
		Throttle:        throttle,
		CollectivePitch: collectivePitch,
		Tail:            tail,
		NumServos:       g.Servos.Len(),
	}
}

// Status returns the outcome of the last UpdateSetpoint call.
func (e *Effectiveness) Status() Status { return e.status }

// Arming returns the retained arming snapshot.
func (e *Effectiveness) Arming() ArmingState { return e.arming }
