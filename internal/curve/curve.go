// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package curve implements small piecewise-linear lookup curves such as the
// throttle and collective pitch curves of a helicopter.
//
// A Curve is a value type with a fixed capacity, so copying it never aliases
// the sample points of another curve.
package curve

import (
	"errors"
	"fmt"
	"math"
)

// MaxPoints is the capacity of a Curve.
const MaxPoints = 16

var (
	ErrTooFewPoints  = errors.New("curve: at least 2 points required")
	ErrTooManyPoints = fmt.Errorf("curve: more than %d points", MaxPoints)
	ErrNotIncreasing = errors.New("curve: sample x values must be strictly increasing")
)

// Point is a single curve sample.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Curve is an ordered set of samples with strictly increasing X.
// The zero value has no points and evaluates to 0 everywhere.
type Curve struct {
	pts [MaxPoints]Point
	n   int
}

// New builds a curve from explicit sample points.
func New(points ...Point) (Curve, error) {
	var c Curve
	if len(points) < 2 {
		return c, ErrTooFewPoints
	}
	if len(points) > MaxPoints {
		return c, ErrTooManyPoints
	}
	for i, p := range points {
		if math.IsNaN(p.X) || math.IsInf(p.X, 0) {
			return c, fmt.Errorf("curve: point %d has invalid x %v", i, p.X)
		}
		if i > 0 && !(p.X > points[i-1].X) {
			return c, fmt.Errorf("%w (point %d: %v after %v)", ErrNotIncreasing, i, p.X, points[i-1].X)
		}
		c.pts[i] = p
	}
	c.n = len(points)
	return c, nil
}

// Uniform builds a curve whose samples are evenly spaced over [0, 1].
// This is the layout used by the CA_HELI_*_C<i> parameters.
func Uniform(ys ...float64) (Curve, error) {
	return UniformRange(0, 1, ys...)
}

// UniformRange builds a curve whose samples are evenly spaced over [lo, hi].
func UniformRange(lo, hi float64, ys ...float64) (Curve, error) {
	if len(ys) < 2 {
		return Curve{}, ErrTooFewPoints
	}
	if len(ys) > MaxPoints {
		return Curve{}, ErrTooManyPoints
	}
	pts := make([]Point, len(ys))
	step := (hi - lo) / float64(len(ys)-1)
	for i, y := range ys {
		pts[i] = Point{X: lo + float64(i)*step, Y: y}
	}
	// exact endpoint, independent of rounding in step
	pts[len(pts)-1].X = hi
	return New(pts...)
}

// Len returns the number of samples.
func (c Curve) Len() int { return c.n }

// At returns sample i.
func (c Curve) At(i int) Point {
	if i < 0 || i >= c.n {
		panic(fmt.Sprintf("curve: index %d out of range [0,%d)", i, c.n))
	}
	return c.pts[i]
}

// Points returns a copy of the samples.
func (c Curve) Points() []Point {
	out := make([]Point, c.n)
	copy(out, c.pts[:c.n])
	return out
}

// Domain returns the first and last sample x.
func (c Curve) Domain() (lo, hi float64) {
	if c.n == 0 {
		return 0, 0
	}
	return c.pts[0].X, c.pts[c.n-1].X
}

// Eval evaluates the curve at x.
//
// Inside the domain the bracketing segment is interpolated linearly. Outside
// the domain the nearest endpoint value is returned. NaN propagates.
func (c Curve) Eval(x float64) float64 {
	switch {
	case c.n == 0:
		return 0
	case math.IsNaN(x):
		return x
	case x <= c.pts[0].X:
		return c.pts[0].Y
	case x >= c.pts[c.n-1].X:
		return c.pts[c.n-1].Y
	}

	// largest i with pts[i].X <= x; n is tiny so a linear scan is fine
	i := 0
	for i+1 < c.n-1 && c.pts[i+1].X <= x {
		i++
	}
	return lerp(c.pts[i], c.pts[i+1], x)
}

func lerp(a, b Point, x float64) float64 {
	t := (x - a.X) / (b.X - a.X)
	return a.Y + t*(b.Y-a.Y)
}
