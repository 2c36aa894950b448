// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package heli

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/relabs-tech/heli_allocator/internal/allocation"
	"github.com/relabs-tech/heli_allocator/internal/curve"
)

const tol = 1e-12

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func identityCurve(t *testing.T) curve.Curve {
	t.Helper()
	c, err := curve.UniformRange(-1, 1, -1, -0.5, 0, 0.5, 1)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func servosAt(degrees ...float64) ServoSet {
	servos := make([]SwashPlateServo, len(degrees))
	for i, d := range degrees {
		servos[i] = SwashPlateServo{Angle: radians(d), ArmLength: 1}
	}
	return NewServoSet(servos...)
}

func staticSource(g Geometry) GeometrySource {
	return GeometrySourceFunc(func() (Geometry, error) { return g, nil })
}

// newModel returns a refreshed, declared model using g and a clock at t0.
func newModel(t *testing.T, g Geometry) (*Effectiveness, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: t0}
	e := New(staticSource(g), WithClock(clk.Now))
	if err := e.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := e.DeclareActuators(allocation.NewConfiguration(), allocation.ConfigurationUpdate); err != nil {
		t.Fatalf("DeclareActuators: %v", err)
	}
	return e, clk
}

func setpoint(thrustZ, roll, pitch, yaw float64) allocation.ControlSetpoint {
	var sp allocation.ControlSetpoint
	sp[allocation.ThrustZ] = thrustZ
	sp[allocation.Roll] = roll
	sp[allocation.Pitch] = pitch
	sp[allocation.Yaw] = yaw
	return sp
}

func TestEndToEndScenario(t *testing.T) {
	g := Geometry{
		Servos:        servosAt(90, 210, 330),
		ThrottleCurve: identityCurve(t),
		PitchCurve:    identityCurve(t),
		SpoolupTime:   1,
	}
	e, clk := newModel(t, g)
	clk.now = t0.Add(time.Second)

	var out allocation.ActuatorVector
	e.UpdateSetpoint(setpoint(-1, 0, 1, 0), 0, &ArmingState{Armed: true, ArmedAt: t0}, &out)

	if out[0] != 1 {
		t.Errorf("throttle = %v, want 1", out[0])
	}
	if out[1] != 0 {
		t.Errorf("tail = %v, want 0", out[1])
	}
	first := e.FirstSwashPlateServoIndex()
	if first != 2 {
		t.Fatalf("first servo index = %d, want 2", first)
	}
	for i, deg := range []float64{90, 210, 330} {
		want := 1 + math.Cos(radians(deg))
		if got := out[first+i]; math.Abs(got-want) > tol {
			t.Errorf("servo %d (%v°) = %v, want %v", i, deg, got, want)
		}
	}
}

func TestSwashPlateRollMomentBalance(t *testing.T) {
	g := Geometry{
		Servos:        servosAt(0, 120, 240),
		ThrottleCurve: identityCurve(t),
		PitchCurve:    identityCurve(t),
		SpoolupTime:   1,
	}
	e, _ := newModel(t, g)

	for _, roll := range []float64{-1, -0.3, 0.25, 1} {
		var out allocation.ActuatorVector
		e.UpdateSetpoint(setpoint(0, roll, 0, 0), 0, nil, &out)

		sum := 0.0
		for i := 0; i < 3; i++ {
			sum += out[2+i]
		}
		if math.Abs(sum) > 1e-9 {
			t.Errorf("roll %v: servo sum = %v, want 0", roll, sum)
		}
	}
}

func TestServoSignConvention(t *testing.T) {
	// servo at 90°: sin = 1, cos = 0, so positive roll lowers it
	g := Geometry{
		Servos:        servosAt(0, 90, 180),
		ThrottleCurve: identityCurve(t),
		PitchCurve:    identityCurve(t),
	}
	e, _ := newModel(t, g)

	var out allocation.ActuatorVector
	e.UpdateSetpoint(setpoint(0, 0.5, 0, 0), 0, nil, &out)
	if got := out[3]; math.Abs(got+0.5) > tol {
		t.Errorf("roll on 90° servo = %v, want -0.5", got)
	}

	e.UpdateSetpoint(setpoint(0, 0, 0.5, 0), 0, nil, &out)
	if got := out[2]; math.Abs(got-0.5) > tol {
		t.Errorf("pitch on 0° servo = %v, want 0.5", got)
	}
	if got := out[4]; math.Abs(got+0.5) > tol {
		t.Errorf("pitch on 180° servo = %v, want -0.5", got)
	}
}

func TestArmLengthScalesCyclic(t *testing.T) {
	g := Geometry{
		Servos: NewServoSet(
			SwashPlateServo{Angle: 0, ArmLength: 2},
			SwashPlateServo{Angle: 0, ArmLength: 0.5},
			SwashPlateServo{Angle: 0, ArmLength: 0},
		),
		ThrottleCurve: identityCurve(t),
		PitchCurve:    identityCurve(t),
	}
	e, _ := newModel(t, g)

	var out allocation.ActuatorVector
	e.UpdateSetpoint(setpoint(0, 0, 0.4, 0), 0, nil, &out)
	for i, want := range []float64{0.8, 0.2, 0} {
		if got := out[2+i]; math.Abs(got-want) > tol {
			t.Errorf("servo %d = %v, want %v", i, got, want)
		}
	}
}

func TestTailCompensation(t *testing.T) {
	g := Geometry{
		Servos:                  servosAt(0, 120, 240),
		ThrottleCurve:           identityCurve(t),
		PitchCurve:              identityCurve(t),
		YawCollectivePitchScale: 0.3,
		YawThrottleScale:        0.1,
	}
	e, _ := newModel(t, g)

	var out allocation.ActuatorVector
	e.UpdateSetpoint(setpoint(-0.5, 0, 0, 0.2), 0, nil, &out)
	// throttle = pitch = 0.5
	want := 0.2 + 0.5*0.3 + 0.5*0.1
	if math.Abs(out[1]-want) > tol {
		t.Errorf("tail = %v, want %v", out[1], want)
	}
}

func TestTailUsesCollectiveMagnitude(t *testing.T) {
	pos := identityCurve(t)
	neg, err := curve.UniformRange(-1, 1, 1, 0.5, 0, -0.5, -1)
	if err != nil {
		t.Fatal(err)
	}
	base := Geometry{
		Servos:                  servosAt(0, 120, 240),
		ThrottleCurve:           identityCurve(t),
		YawCollectivePitchScale: 0.7,
	}

	gPos, gNeg := base, base
	gPos.PitchCurve = pos
	gNeg.PitchCurve = neg
	ePos, _ := newModel(t, gPos)
	eNeg, _ := newModel(t, gNeg)

	for _, thrust := range []float64{-1, -0.6, -0.2, 0.4} {
		var a, b allocation.ActuatorVector
		sp := setpoint(thrust, 0, 0, 0.1)
		ePos.UpdateSetpoint(sp, 0, nil, &a)
		eNeg.UpdateSetpoint(sp, 0, nil, &b)
		if ePos.Status().CollectivePitch != -eNeg.Status().CollectivePitch {
			t.Fatalf("thrust %v: collective pitches are not opposite", thrust)
		}
		if math.Abs(a[1]-b[1]) > tol {
			t.Errorf("thrust %v: tail %v vs %v, negating collective changed tail command", thrust, a[1], b[1])
		}
	}
}

func TestSpoolup(t *testing.T) {
	g := Geometry{
		Servos:        servosAt(0, 120, 240),
		ThrottleCurve: identityCurve(t),
		PitchCurve:    identityCurve(t),
		SpoolupTime:   2,
	}

	tests := []struct {
		name    string
		armed   bool
		elapsed time.Duration
		want    float64
	}{
		{"disarmed is identity", false, 0, 0.8},
		{"disarmed long ago", false, time.Hour, 0.8},
		{"armed at zero elapsed", true, 0, 0},
		{"armed quarter way", true, 500 * time.Millisecond, 0.2},
		{"armed half way", true, time.Second, 0.4},
		{"armed at spoolup time", true, 2 * time.Second, 0.8},
		{"armed after spoolup", true, 10 * time.Second, 0.8},
		{"clock before arming", true, -time.Second, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, clk := newModel(t, g)
			clk.now = t0.Add(tt.elapsed)

			var out allocation.ActuatorVector
			e.UpdateSetpoint(setpoint(-0.8, 0, 0, 0), 0, &ArmingState{Armed: tt.armed, ArmedAt: t0}, &out)
			if math.Abs(out[0]-tt.want) > tol {
				t.Errorf("throttle = %v, want %v", out[0], tt.want)
			}
		})
	}
}

func TestSpoolupDoesNotScaleCollective(t *testing.T) {
	g := Geometry{
		Servos:        servosAt(0, 120, 240),
		ThrottleCurve: identityCurve(t),
		PitchCurve:    identityCurve(t),
		SpoolupTime:   1,
	}
	e, _ := newModel(t, g)

	var out allocation.ActuatorVector
	e.UpdateSetpoint(setpoint(-0.6, 0, 0, 0), 0, &ArmingState{Armed: true, ArmedAt: t0}, &out)
	if out[0] != 0 {
		t.Errorf("throttle = %v, want 0 at arming", out[0])
	}
	if math.Abs(out[2]-0.6) > tol {
		t.Errorf("servo 0 = %v, want collective 0.6", out[2])
	}
}

func TestDegenerateSpoolupTime(t *testing.T) {
	for _, st := range []float64{0, -3, math.NaN()} {
		g := Geometry{
			Servos:        servosAt(0, 120, 240),
			ThrottleCurve: identityCurve(t),
			PitchCurve:    identityCurve(t),
			SpoolupTime:   st,
		}
		e, _ := newModel(t, g)

		var out allocation.ActuatorVector
		e.UpdateSetpoint(setpoint(-0.5, 0, 0, 0), 0, &ArmingState{Armed: true, ArmedAt: t0}, &out)
		if out[0] != 0.5 || math.IsNaN(out[0]) {
			t.Errorf("spoolup time %v: throttle = %v, want 0.5", st, out[0])
		}
		if e.Status().SpoolupProgress != 1 {
			t.Errorf("spoolup time %v: progress = %v, want 1", st, e.Status().SpoolupProgress)
		}
	}
}

func TestArmingSnapshotRetained(t *testing.T) {
	g := Geometry{
		Servos:        servosAt(0, 120, 240),
		ThrottleCurve: identityCurve(t),
		PitchCurve:    identityCurve(t),
		SpoolupTime:   1,
	}
	e, clk := newModel(t, g)

	var out allocation.ActuatorVector
	e.UpdateSetpoint(setpoint(-1, 0, 0, 0), 0, &ArmingState{Armed: true, ArmedAt: t0}, &out)

	// no new arming data: the armed snapshot still gates the ramp
	clk.now = t0.Add(250 * time.Millisecond)
	e.UpdateSetpoint(setpoint(-1, 0, 0, 0), 0, nil, &out)
	if math.Abs(out[0]-0.25) > tol {
		t.Errorf("throttle = %v, want 0.25", out[0])
	}
	if !e.Arming().Armed || !e.Status().Armed {
		t.Error("arming snapshot was not retained")
	}

	e.UpdateSetpoint(setpoint(-1, 0, 0, 0), 0, &ArmingState{Armed: false}, &out)
	if out[0] != 1 {
		t.Errorf("disarmed throttle = %v, want unscaled 1", out[0])
	}
}

func TestRefreshFailureKeepsGeometry(t *testing.T) {
	good := Geometry{
		Servos:        servosAt(0, 90, 180, 270),
		ThrottleCurve: identityCurve(t),
		PitchCurve:    identityCurve(t),
		SpoolupTime:   3,
	}
	fail := false
	src := GeometrySourceFunc(func() (Geometry, error) {
		if fail {
			return Geometry{}, ErrServoCount
		}
		return good, nil
	})

	e := New(src)
	if got := e.Geometry().Servos.Len(); got != MinSwashPlateServos {
		t.Errorf("initial servo count = %d, want %d", got, MinSwashPlateServos)
	}
	if err := e.Refresh(); err != nil {
		t.Fatal(err)
	}

	fail = true
	err := e.Refresh()
	if !errors.Is(err, ErrServoCount) {
		t.Fatalf("Refresh error = %v, want ErrServoCount", err)
	}
	g := e.Geometry()
	if g.Servos.Len() != 4 || g.SpoolupTime != 3 {
		t.Errorf("geometry changed after failed refresh: %d servos, spoolup %v", g.Servos.Len(), g.SpoolupTime)
	}
}

func TestDeclareActuators(t *testing.T) {
	g := Geometry{Servos: servosAt(0, 72, 144, 216, 288)}
	e := New(staticSource(g))
	if err := e.Refresh(); err != nil {
		t.Fatal(err)
	}

	cfg := allocation.NewConfiguration()
	changed, err := e.DeclareActuators(cfg, allocation.NoExternalUpdate)
	if err != nil || changed {
		t.Fatalf("NoExternalUpdate: changed=%v err=%v", changed, err)
	}
	if cfg.TotalActuators() != 0 {
		t.Fatalf("NoExternalUpdate declared %d actuators", cfg.TotalActuators())
	}

	// another model already claimed three slots
	for i := 0; i < 3; i++ {
		if _, err := cfg.AddActuator(allocation.Motors, allocation.Vec3{}, allocation.Vec3{}); err != nil {
			t.Fatal(err)
		}
	}
	changed, err = e.DeclareActuators(cfg, allocation.ConfigurationUpdate)
	if err != nil || !changed {
		t.Fatalf("ConfigurationUpdate: changed=%v err=%v", changed, err)
	}
	if got := e.FirstSwashPlateServoIndex(); got != 5 {
		t.Errorf("first servo index = %d, want 5", got)
	}
	if got := cfg.NumActuators(allocation.Motors); got != 5 {
		t.Errorf("motors = %d, want 5", got)
	}
	if got := cfg.NumActuators(allocation.Servos); got != 5 {
		t.Errorf("servos = %d, want 5", got)
	}
	for _, a := range cfg.Actuators() {
		if a.Torque != (allocation.Vec3{}) || a.Thrust != (allocation.Vec3{}) {
			t.Errorf("non-zero effectiveness column %+v", a)
		}
	}

	// the index is captured again on each declaration
	if _, err := e.DeclareActuators(allocation.NewConfiguration(), allocation.MotorActivationUpdate); err != nil {
		t.Fatal(err)
	}
	if got := e.FirstSwashPlateServoIndex(); got != 2 {
		t.Errorf("first servo index after redeclare = %d, want 2", got)
	}
}

func TestDeclareActuatorsCapacity(t *testing.T) {
	e := New(staticSource(Geometry{Servos: NewServoSet(make([]SwashPlateServo, MaxSwashPlateServos)...)}))
	if err := e.Refresh(); err != nil {
		t.Fatal(err)
	}
	cfg := allocation.NewConfiguration()
	for i := 0; i < allocation.MaxActuators-4; i++ {
		if _, err := cfg.AddActuator(allocation.Motors, allocation.Vec3{}, allocation.Vec3{}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.DeclareActuators(cfg, allocation.ConfigurationUpdate); !errors.Is(err, allocation.ErrTooManyActuators) {
		t.Fatalf("DeclareActuators error = %v, want ErrTooManyActuators", err)
	}
	if got := e.FirstSwashPlateServoIndex(); got != 2 {
		t.Errorf("failed declaration changed the servo index to %d", got)
	}
}
