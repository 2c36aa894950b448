// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package heli

import (
	"errors"
	"fmt"
	"math"

	"github.com/relabs-tech/heli_allocator/internal/curve"
)

const (
	// MinSwashPlateServos is the fewest actuation points a swash plate can have.
	MinSwashPlateServos = 3
	// MaxSwashPlateServos is the capacity of a ServoSet.
	MaxSwashPlateServos = 8
	// NumCurvePoints is the number of throttle and pitch curve parameters.
	NumCurvePoints = 5
)

// ErrServoCount is returned by a GeometrySource that cannot read the servo
// count.
var ErrServoCount = errors.New("heli: swash plate servo count unavailable")

// SwashPlateServo is one servo mounted around the rotor shaft.
type SwashPlateServo struct {
	Angle     float64 `json:"angle_rad"`  // mounting azimuth, radians
	ArmLength float64 `json:"arm_length"` // >= 0
}

// ServoSet is a bounded list of swash plate servos. Its length is always in
// [MinSwashPlateServos, MaxSwashPlateServos].
type ServoSet struct {
	servos [MaxSwashPlateServos]SwashPlateServo
	n      int
}

// ClampServoCount forces n into [MinSwashPlateServos, MaxSwashPlateServos].
func ClampServoCount(n int) int {
	if n < MinSwashPlateServos {
		return MinSwashPlateServos
	}
	if n > MaxSwashPlateServos {
		return MaxSwashPlateServos
	}
	return n
}

// NewServoSet copies servos into a set. Extra servos beyond the capacity are
// dropped; missing ones up to MinSwashPlateServos are zero (no cyclic
// authority).
func NewServoSet(servos ...SwashPlateServo) ServoSet {
	var s ServoSet
	s.n = ClampServoCount(len(servos))
	copy(s.servos[:s.n], servos)
	return s
}

// Len returns the number of servos.
func (s ServoSet) Len() int {
	if s.n == 0 {
		return MinSwashPlateServos
	}
	return s.n
}

// At returns servo i.
func (s ServoSet) At(i int) SwashPlateServo {
	if i < 0 || i >= s.Len() {
		panic(fmt.Sprintf("heli: servo index %d out of range [0,%d)", i, s.Len()))
	}
	return s.servos[i]
}

// Slice returns a copy of the servos.
func (s ServoSet) Slice() []SwashPlateServo {
	out := make([]SwashPlateServo, s.Len())
	copy(out, s.servos[:s.Len()])
	return out
}

// Geometry is the parameter-derived configuration of the airframe.
// A Geometry is immutable once published to an Effectiveness.
type Geometry struct {
	Servos ServoSet

	ThrottleCurve curve.Curve
	PitchCurve    curve.Curve

	YawCollectivePitchScale float64
	YawThrottleScale        float64

	// SpoolupTime is the throttle ramp duration after arming, in seconds.
	SpoolupTime float64
}

// Params is the raw parameter set a Geometry is built from. Angles are in
// degrees, as they are stored.
type Params struct {
	ServoCount      int
	ServoAnglesDeg  [MaxSwashPlateServos]float64
	ServoArmLengths [MaxSwashPlateServos]float64

	ThrottleCurve [NumCurvePoints]float64
	PitchCurve    [NumCurvePoints]float64

	YawCollectivePitchScale float64
	YawThrottleScale        float64
	SpoolupTime             float64
}

// BuildGeometry converts raw parameters into a Geometry. The servo count is
// clamped, never rejected.
func BuildGeometry(p Params) (Geometry, error) {
	n := ClampServoCount(p.ServoCount)
	servos := make([]SwashPlateServo, n)
	for i := range servos {
		servos[i] = SwashPlateServo{
			Angle:     radians(p.ServoAnglesDeg[i]),
			ArmLength: p.ServoArmLengths[i],
		}
	}

	throttle, err := curve.Uniform(p.ThrottleCurve[:]...)
	if err != nil {
		return Geometry{}, fmt.Errorf("throttle curve: %w", err)
	}
	pitch, err := curve.Uniform(p.PitchCurve[:]...)
	if err != nil {
		return Geometry{}, fmt.Errorf("pitch curve: %w", err)
	}

	return Geometry{
		Servos:                  NewServoSet(servos...),
		ThrottleCurve:           throttle,
		PitchCurve:              pitch,
		YawCollectivePitchScale: p.YawCollectivePitchScale,
		YawThrottleScale:        p.YawThrottleScale,
		SpoolupTime:             p.SpoolupTime,
	}, nil
}

// GeometrySource loads the current airframe geometry.
type GeometrySource interface {
	LoadGeometry() (Geometry, error)
}

// GeometrySourceFunc adapts a function to GeometrySource.
type GeometrySourceFunc func() (Geometry, error)

func (f GeometrySourceFunc) LoadGeometry() (Geometry, error) { return f() }

func radians(deg float64) float64 { return deg * math.Pi / 180 }
