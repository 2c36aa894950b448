// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package params

import (
	"fmt"
	"log"
	"sync"

	"github.com/relabs-tech/heli_allocator/internal/heli"
)

// Parameter names.
const (
	KeyServoCount              = "CA_SP0_COUNT"
	KeyServoAngleFmt           = "CA_SP0_ANG%d"
	KeyServoArmLengthFmt       = "CA_SP0_ARM_L%d"
	KeyThrottleCurveFmt        = "CA_HELI_THR_C%d"
	KeyPitchCurveFmt           = "CA_HELI_PITCH_C%d"
	KeyYawCollectivePitchScale = "CA_HELI_YAW_CP_S"
	KeyYawThrottleScale        = "CA_HELI_YAW_TH_S"
	KeySpoolupTime             = "COM_SPOOLUP_TIME"
)

var (
	defaultServoAngles = [heli.MaxSwashPlateServos]float64{0, 140, 220}
	defaultPitchCurve  = [heli.NumCurvePoints]float64{-0.05, 0.0725, 0.2, 0.325, 0.45}
)

const (
	defaultServoCount  = 3
	defaultArmLength   = 1.0
	defaultThrottle    = 1.0
	defaultSpoolupTime = 1.0
)

// Defaults returns the stock parameter set: three servos at 0, 140 and 220
// degrees, flat throttle curve and a slightly negative to positive pitch
// curve.
func Defaults() *MapStore {
	v := map[string]interface{}{
		KeyServoCount:              defaultServoCount,
		KeyYawCollectivePitchScale: 0.0,
		KeyYawThrottleScale:        0.0,
		KeySpoolupTime:             defaultSpoolupTime,
	}
	for i := 0; i < heli.MaxSwashPlateServos; i++ {
		v[fmt.Sprintf(KeyServoAngleFmt, i)] = defaultServoAngles[i]
		v[fmt.Sprintf(KeyServoArmLengthFmt, i)] = defaultArmLength
	}
	for i := 0; i < heli.NumCurvePoints; i++ {
		v[fmt.Sprintf(KeyThrottleCurveFmt, i)] = defaultThrottle
		v[fmt.Sprintf(KeyPitchCurveFmt, i)] = defaultPitchCurve[i]
	}
	return NewMapStore(v)
}

// DefaultParams returns the stock parameter set in raw form.
func DefaultParams() heli.Params {
	p := heli.Params{
		ServoCount:     defaultServoCount,
		ServoAnglesDeg: defaultServoAngles,
		PitchCurve:     defaultPitchCurve,
		SpoolupTime:    defaultSpoolupTime,
	}
	for i := range p.ServoArmLengths {
		p.ServoArmLengths[i] = defaultArmLength
	}
	for i := range p.ThrottleCurve {
		p.ThrottleCurve[i] = defaultThrottle
	}
	return p
}

// HelicopterSource reads helicopter geometry from a parameter store.
//
// A missing or invalid servo count fails the load. Any other key that cannot
// be read keeps the value of the last successful load (the stock value before
// the first one) and is logged.
type HelicopterSource struct {
	Store Store

	mu     sync.Mutex
	last   heli.Params
	primed bool
}

// NewHelicopterSource returns a source reading from store.
func NewHelicopterSource(store Store) *HelicopterSource {
	return &HelicopterSource{Store: store, last: DefaultParams(), primed: true}
}

// ReadParams reads the raw parameter set. It does not change the values
// kept for unreadable keys; LoadGeometry does.
func (h *HelicopterSource) ReadParams() (heli.Params, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readLocked()
}

func (h *HelicopterSource) readLocked() (heli.Params, error) {
	if !h.primed {
		h.last, h.primed = DefaultParams(), true
	}
	p := h.last

	count, err := h.Store.Int(KeyServoCount)
	if err != nil {
		return p, fmt.Errorf("%w: %v", heli.ErrServoCount, err)
	}
	p.ServoCount = heli.ClampServoCount(int(count))

	for i := 0; i < p.ServoCount; i++ {
		h.float(fmt.Sprintf(KeyServoAngleFmt, i), &p.ServoAnglesDeg[i])
		h.float(fmt.Sprintf(KeyServoArmLengthFmt, i), &p.ServoArmLengths[i])
	}
	for i := 0; i < heli.NumCurvePoints; i++ {
		h.float(fmt.Sprintf(KeyThrottleCurveFmt, i), &p.ThrottleCurve[i])
		h.float(fmt.Sprintf(KeyPitchCurveFmt, i), &p.PitchCurve[i])
	}
	h.float(KeyYawCollectivePitchScale, &p.YawCollectivePitchScale)
	h.float(KeyYawThrottleScale, &p.YawThrottleScale)
	h.float(KeySpoolupTime, &p.SpoolupTime)
	return p, nil
}

// LoadGeometry implements heli.GeometrySource. The values read become the
// fallback for the next load once the geometry builds.
func (h *HelicopterSource) LoadGeometry() (heli.Geometry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := h.readLocked()
	if err != nil {
		return heli.Geometry{}, err
	}
	g, err := heli.BuildGeometry(p)
	if err != nil {
		return heli.Geometry{}, err
	}
	h.last = p
	return g, nil
}

// float reads key into dst, leaving dst untouched when the key cannot be read.
func (h *HelicopterSource) float(key string, dst *float64) {
	v, err := h.Store.Float(key)
	if err != nil {
		log.Printf("params: %v, keeping previous value %g", err, *dst)
		return
	}
	*dst = v
}
