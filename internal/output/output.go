// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package output converts normalized actuator commands into servo pulse
// widths and writes them to a PWM driver.
package output

import (
	"fmt"
	"math"

	"github.com/relabs-tech/heli_allocator/internal/allocation"
)

// Sink receives one pulse width in microseconds per output channel.
type Sink interface {
	WritePulses(us []float64) error
	Close() error
}

// PulseRange is the pulse width span of an output, in microseconds.
type PulseRange struct {
	MinUs float64
	MaxUs float64
}

func (r PulseRange) center() float64 { return (r.MinUs + r.MaxUs) / 2 }

// Motor maps a command in [0, 1] onto the range. NaN stops the motor.
func (r PulseRange) Motor(v float64) float64 {
	if math.IsNaN(v) {
		return r.MinUs
	}
	v = clamp(v, 0, 1)
	return r.MinUs + v*(r.MaxUs-r.MinUs)
}

// Servo maps a command in [-1, 1] onto the range. NaN centers the servo.
func (r PulseRange) Servo(v float64) float64 {
	if math.IsNaN(v) {
		return r.center()
	}
	v = clamp(v, -1, 1)
	return r.center() + v*(r.MaxUs-r.MinUs)/2
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Stage maps allocation results onto a sink. Channel i carries actuator
// slot i.
type Stage struct {
	sink  Sink
	rng   PulseRange
	types []allocation.ActuatorType
	buf   []float64
}

// NewStage returns a stage writing to sink.
func NewStage(sink Sink, rng PulseRange) (*Stage, error) {
	if !(rng.MaxUs > rng.MinUs) || rng.MinUs < 0 {
		return nil, fmt.Errorf("output: invalid pulse range %g..%g us", rng.MinUs, rng.MaxUs)
	}
	return &Stage{sink: sink, rng: rng}, nil
}

// Configure sets the actuator type of each channel, in slot order.
func (s *Stage) Configure(types []allocation.ActuatorType) {
	s.types = append(s.types[:0], types...)
	s.buf = make([]float64, len(types))
}

// Pulses computes the pulse widths for out without writing them. Motors are
// held at the minimum pulse while disarmed.
func (s *Stage) Pulses(out *allocation.ActuatorVector, armed bool) []float64 {
	for i, t := range s.types {
		switch t {
		case allocation.Motors:
			if armed {
				s.buf[i] = s.rng.Motor(out[i])
			} else {
				s.buf[i] = s.rng.MinUs
			}
		default:
			s.buf[i] = s.rng.Servo(out[i])
		}
	}
	return s.buf
}

// Apply computes and writes the pulse widths for out.
func (s *Stage) Apply(out *allocation.ActuatorVector, armed bool) ([]float64, error) {
	p := s.Pulses(out, armed)
	if len(p) == 0 {
		return p, nil
	}
	if err := s.sink.WritePulses(p); err != nil {
		return p, fmt.Errorf("output: write: %w", err)
	}
	return p, nil
}

// Close closes the sink.
func (s *Stage) Close() error { return s.sink.Close() }

// Discard is a sink that keeps the last write and drives nothing.
type Discard struct {
	Last []float64
}

func (d *Discard) WritePulses(us []float64) error {
	d.Last = append(d.Last[:0], us...)
	return nil
}

func (d *Discard) Close() error { return nil }
