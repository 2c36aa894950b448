// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package params

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/relabs-tech/heli_allocator/internal/heli"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "params.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestMapStoreTypes(t *testing.T) {
	s := NewMapStore(map[string]interface{}{
		"I":    4,
		"F":    0.25,
		"FI":   3.0,
		"FRAC": 2.5,
		"STR":  "1.5",
		"BAD":  true,
	})

	if v, err := s.Int("I"); err != nil || v != 4 {
		t.Errorf("Int(I) = %d, %v", v, err)
	}
	if v, err := s.Int("FI"); err != nil || v != 3 {
		t.Errorf("Int(FI) = %d, %v", v, err)
	}
	if _, err := s.Int("FRAC"); err == nil {
		t.Error("Int(FRAC) should fail")
	}
	if v, err := s.Float("I"); err != nil || v != 4 {
		t.Errorf("Float(I) = %g, %v", v, err)
	}
	if v, err := s.Float("STR"); err != nil || v != 1.5 {
		t.Errorf("Float(STR) = %g, %v", v, err)
	}
	if _, err := s.Float("BAD"); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Float(BAD) = %v, want type error", err)
	}
	if _, err := s.Float("MISSING"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Float(MISSING) = %v, want ErrNotFound", err)
	}
}

func TestLayeredPrecedence(t *testing.T) {
	top := NewMapStore(map[string]interface{}{"A": 1.0})
	bottom := NewMapStore(map[string]interface{}{"A": 2.0, "B": 3.0})
	l := Layered{top, bottom}

	if v, _ := l.Float("A"); v != 1 {
		t.Errorf("A = %g, want 1 from top layer", v)
	}
	if v, _ := l.Float("B"); v != 3 {
		t.Errorf("B = %g, want 3 from bottom layer", v)
	}
	if _, err := l.Int("C"); !errors.Is(err, ErrNotFound) {
		t.Errorf("C: %v, want ErrNotFound", err)
	}

	top.Set("B", "nope")
	if _, err := l.Float("B"); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("bad top value should stop the lookup, got %v", err)
	}
}

func TestReadFile(t *testing.T) {
	path := writeFile(t, "CA_SP0_COUNT: 4\nCA_SP0_ANG1: 90\nCA_HELI_YAW_CP_S: 0.3\n")
	s, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if v, _ := s.Int(KeyServoCount); v != 4 {
		t.Errorf("count = %d, want 4", v)
	}
	if v, _ := s.Float("CA_SP0_ANG1"); v != 90 {
		t.Errorf("angle = %g, want 90", v)
	}
	if v, _ := s.Float(KeyYawCollectivePitchScale); v != 0.3 {
		t.Errorf("scale = %g, want 0.3", v)
	}

	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
	if _, err := ReadFile(writeFile(t, "- not\n- a map\n")); err == nil {
		t.Error("non-mapping YAML should fail")
	}
}

func TestReloadableKeepsValuesOnError(t *testing.T) {
	path := writeFile(t, "COM_SPOOLUP_TIME: 2\n")
	r := NewReloadable(path)

	if _, err := r.Float(KeySpoolupTime); !errors.Is(err, ErrNotFound) {
		t.Fatalf("before Reload: %v, want ErrNotFound", err)
	}
	if err := r.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if v, _ := r.Float(KeySpoolupTime); v != 2 {
		t.Fatalf("spoolup = %g, want 2", v)
	}

	if err := os.WriteFile(path, []byte("COM_SPOOLUP_TIME: [unclosed\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(); err == nil {
		t.Fatal("Reload of broken file should fail")
	}
	if v, _ := r.Float(KeySpoolupTime); v != 2 {
		t.Errorf("after failed reload spoolup = %g, want 2", v)
	}
}

func TestHelicopterSourceDefaults(t *testing.T) {
	g, err := NewHelicopterSource(Defaults()).LoadGeometry()
	if err != nil {
		t.Fatalf("LoadGeometry: %v", err)
	}
	if g.Servos.Len() != 3 {
		t.Fatalf("servos = %d, want 3", g.Servos.Len())
	}
	wantDeg := []float64{0, 140, 220}
	for i, deg := range wantDeg {
		s := g.Servos.At(i)
		if math.Abs(s.Angle-deg*math.Pi/180) > 1e-12 {
			t.Errorf("servo %d angle = %g rad, want %g deg", i, s.Angle, deg)
		}
		if s.ArmLength != 1 {
			t.Errorf("servo %d arm = %g, want 1", i, s.ArmLength)
		}
	}
	if v := g.ThrottleCurve.Eval(0.3); v != 1 {
		t.Errorf("throttle(0.3) = %g, want 1", v)
	}
	if v := g.PitchCurve.Eval(0); v != -0.05 {
		t.Errorf("pitch(0) = %g, want -0.05", v)
	}
	if v := g.PitchCurve.Eval(1); v != 0.45 {
		t.Errorf("pitch(1) = %g, want 0.45", v)
	}
	if g.SpoolupTime != 1 {
		t.Errorf("spoolup = %g, want 1", g.SpoolupTime)
	}
}

func TestHelicopterSourceClampsCount(t *testing.T) {
	for _, tc := range []struct {
		count int
		want  int
	}{
		{0, 3}, {2, 3}, {5, 5}, {8, 8}, {12, 8},
	} {
		s := Layered{NewMapStore(map[string]interface{}{KeyServoCount: tc.count}), Defaults()}
		g, err := NewHelicopterSource(s).LoadGeometry()
		if err != nil {
			t.Fatalf("count %d: %v", tc.count, err)
		}
		if g.Servos.Len() != tc.want {
			t.Errorf("count %d: servos = %d, want %d", tc.count, g.Servos.Len(), tc.want)
		}
	}
}

func TestHelicopterSourceMissingCount(t *testing.T) {
	_, err := NewHelicopterSource(NewMapStore(nil)).LoadGeometry()
	if !errors.Is(err, heli.ErrServoCount) {
		t.Fatalf("err = %v, want ErrServoCount", err)
	}
}

func TestHelicopterSourceFirstLoadUsesStockValues(t *testing.T) {
	s := NewMapStore(map[string]interface{}{
		KeyServoCount:              4,
		"CA_SP0_ANG3":              45,
		KeyYawCollectivePitchScale: "garbage",
		KeyYawThrottleScale:        0.2,
	})
	p, err := NewHelicopterSource(s).ReadParams()
	if err != nil {
		t.Fatalf("ReadParams: %v", err)
	}
	if p.ServoCount != 4 {
		t.Errorf("count = %d, want 4", p.ServoCount)
	}
	if p.ServoAnglesDeg[3] != 45 {
		t.Errorf("angle 3 = %g, want 45", p.ServoAnglesDeg[3])
	}
	if p.ServoAnglesDeg[1] != 140 {
		t.Errorf("angle 1 = %g, want stock 140", p.ServoAnglesDeg[1])
	}
	if p.YawCollectivePitchScale != 0 {
		t.Errorf("cp scale = %g, want stock 0", p.YawCollectivePitchScale)
	}
	if p.YawThrottleScale != 0.2 {
		t.Errorf("th scale = %g, want 0.2", p.YawThrottleScale)
	}
	if p.PitchCurve[2] != 0.2 {
		t.Errorf("pitch c2 = %g, want stock 0.2", p.PitchCurve[2])
	}
}

func TestHelicopterSourceKeepsPreviousValue(t *testing.T) {
	s := NewMapStore(map[string]interface{}{
		KeyServoCount:              3,
		"CA_SP0_ANG1":              120,
		KeyYawCollectivePitchScale: 0.4,
	})
	src := NewHelicopterSource(s)
	if _, err := src.LoadGeometry(); err != nil {
		t.Fatalf("first load: %v", err)
	}

	s.Set("CA_SP0_ANG1", "12O")
	s.Set(KeyYawCollectivePitchScale, "garbage")
	s.Set(KeyYawThrottleScale, 0.2)
	g, err := src.LoadGeometry()
	if err != nil {
		t.Fatalf("second load: %v", err)
	}

	want := 120 * math.Pi / 180
	if got := g.Servos.At(1).Angle; math.Abs(got-want) > 1e-12 {
		t.Errorf("angle 1 = %v rad, want previous %v", got, want)
	}
	if g.YawCollectivePitchScale != 0.4 {
		t.Errorf("cp scale = %g, want previous 0.4", g.YawCollectivePitchScale)
	}
	if g.YawThrottleScale != 0.2 {
		t.Errorf("th scale = %g, want 0.2", g.YawThrottleScale)
	}

	// a failed load does not become the fallback
	s.Set(KeyServoCount, 2.5)
	if _, err := src.LoadGeometry(); !errors.Is(err, heli.ErrServoCount) {
		t.Fatalf("err = %v, want ErrServoCount", err)
	}
	s.Set(KeyServoCount, 3)
	if g, err = src.LoadGeometry(); err != nil {
		t.Fatal(err)
	}
	if got := g.Servos.At(1).Angle; math.Abs(got-want) > 1e-12 {
		t.Errorf("angle 1 after failed load = %v rad, want %v", got, want)
	}
}

func TestHelicopterSourceZeroValue(t *testing.T) {
	src := &HelicopterSource{Store: NewMapStore(map[string]interface{}{KeyServoCount: 3})}
	p, err := src.ReadParams()
	if err != nil {
		t.Fatal(err)
	}
	if p != DefaultParams() {
		t.Errorf("params = %+v, want stock values", p)
	}
}

func TestToFloatLargeInteger(t *testing.T) {
	path := writeFile(t, "CA_SP0_COUNT: 18446744073709551615\n")
	s, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Int(KeyServoCount); err == nil || !strings.Contains(err.Error(), "32-bit") {
		t.Errorf("Int error = %v, want range error", err)
	}
	if v, err := s.Float(KeyServoCount); err != nil || v != 18446744073709551615 {
		t.Errorf("Float = %v, %v", v, err)
	}
}

func TestHelicopterSourceFeedsModel(t *testing.T) {
	src := NewHelicopterSource(Layered{
		NewMapStore(map[string]interface{}{KeyServoCount: 5}),
		Defaults(),
	})
	e := heli.New(src)
	if err := e.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if n := e.Geometry().Servos.Len(); n != 5 {
		t.Errorf("servos = %d, want 5", n)
	}
}

func TestMapStoreSnapshotReplace(t *testing.T) {
	s := NewMapStore(map[string]interface{}{"A": 1.0})
	snap := s.Snapshot()
	s.Set("B", 2.0)
	snap["A"] = 5.0

	if v, err := s.Float("A"); err != nil || v != 1 {
		t.Errorf("A = %v, %v; snapshot must be a copy", v, err)
	}

	s.Replace(map[string]interface{}{"A": 1.0})
	if _, err := s.Float("B"); !errors.Is(err, ErrNotFound) {
		t.Errorf("B after Replace: err = %v, want ErrNotFound", err)
	}
}
