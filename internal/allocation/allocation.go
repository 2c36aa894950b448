// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package allocation holds the types shared between the control allocator and
// the effectiveness models plugged into it.
package allocation

import "fmt"

// ControlAxis indexes a ControlSetpoint.
type ControlAxis int

const (
	Roll ControlAxis = iota
	Pitch
	Yaw
	ThrustX
	ThrustY
	ThrustZ

	NumAxes = 6
)

func (a ControlAxis) String() string {
	switch a {
	case Roll:
		return "roll"
	case Pitch:
		return "pitch"
	case Yaw:
		return "yaw"
	case ThrustX:
		return "thrust_x"
	case ThrustY:
		return "thrust_y"
	case ThrustZ:
		return "thrust_z"
	}
	return fmt.Sprintf("axis(%d)", int(a))
}

// ControlSetpoint is the normalized demand per control axis.
// THRUST_Z is negative for upward thrust.
type ControlSetpoint [NumAxes]float64

// At returns the demand on axis a.
func (s ControlSetpoint) At(a ControlAxis) float64 { return s[a] }

// MaxActuators is the number of actuator slots shared by all effectiveness
// models.
const MaxActuators = 16

// ActuatorVector holds one command per actuator slot.
type ActuatorVector [MaxActuators]float64

// ActuatorType groups actuators by how the output stage drives them.
type ActuatorType int

const (
	Motors ActuatorType = iota
	Servos

	numActuatorTypes
)

func (t ActuatorType) String() string {
	switch t {
	case Motors:
		return "motors"
	case Servos:
		return "servos"
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// UpdateReason tells an effectiveness model why it is asked to declare its
// actuators.
type UpdateReason int

const (
	NoExternalUpdate UpdateReason = iota
	ConfigurationUpdate
	MotorActivationUpdate
)

func (r UpdateReason) String() string {
	switch r {
	case NoExternalUpdate:
		return "no_external_update"
	case ConfigurationUpdate:
		return "configuration_update"
	case MotorActivationUpdate:
		return "motor_activation_update"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Vec3 is a torque or thrust effectiveness column.
type Vec3 [3]float64

// MaxMatrices is the number of effectiveness matrices a Configuration tracks.
const MaxMatrices = 2

var ErrTooManyActuators = fmt.Errorf("allocation: more than %d actuators", MaxActuators)

// Actuator is one declared actuator.
type Actuator struct {
	Type   ActuatorType
	Matrix int
	Torque Vec3
	Thrust Vec3
}

// Configuration collects the actuators declared by all effectiveness models,
// in declaration order. The slot index of an actuator is its position in
// Actuators().
type Configuration struct {
	// SelectedMatrix is the matrix AddActuator appends to.
	SelectedMatrix int
	// NumActuatorsMatrix counts actuators per matrix.
	NumActuatorsMatrix [MaxMatrices]int

	numActuators [numActuatorTypes]int
	actuators    []Actuator
}

// NewConfiguration returns an empty configuration.
func NewConfiguration() *Configuration {
	return &Configuration{actuators: make([]Actuator, 0, MaxActuators)}
}

// AddActuator appends an actuator to the selected matrix and returns its slot
// index.
func (c *Configuration) AddActuator(t ActuatorType, torque, thrust Vec3) (int, error) {
	if t < 0 || t >= numActuatorTypes {
		return -1, fmt.Errorf("allocation: unknown actuator type %d", int(t))
	}
	if c.SelectedMatrix < 0 || c.SelectedMatrix >= MaxMatrices {
		return -1, fmt.Errorf("allocation: invalid matrix index %d", c.SelectedMatrix)
	}
	if len(c.actuators) >= MaxActuators {
		return -1, ErrTooManyActuators
	}

	idx := len(c.actuators)
	c.actuators = append(c.actuators, Actuator{
		Type:   t,
		Matrix: c.SelectedMatrix,
		Torque: torque,
		Thrust: thrust,
	})
	c.NumActuatorsMatrix[c.SelectedMatrix]++
	c.numActuators[t]++
	return idx, nil
}

// NumActuators returns the number of declared actuators of type t.
func (c *Configuration) NumActuators(t ActuatorType) int {
	if t < 0 || t >= numActuatorTypes {
		return 0
	}
	return c.numActuators[t]
}

// TotalActuators returns the number of declared actuators.
func (c *Configuration) TotalActuators() int { return len(c.actuators) }

// Actuators returns a copy of the declared actuators in slot order.
func (c *Configuration) Actuators() []Actuator {
	out := make([]Actuator, len(c.actuators))
	copy(out, c.actuators)
	return out
}

// Types returns the actuator type of every declared slot.
func (c *Configuration) Types() []ActuatorType {
	out := make([]ActuatorType, len(c.actuators))
	for i, a := range c.actuators {
		out[i] = a.Type
	}
	return out
}

// Effectiveness is implemented by every effectiveness model.
type Effectiveness interface {
	Name() string
	// DeclareActuators appends the model's actuators to cfg. It reports
	// whether anything was declared.
	DeclareActuators(cfg *Configuration, reason UpdateReason) (bool, error)
}

// Declare builds a fresh configuration from the given models, in order.
func Declare(reason UpdateReason, models ...Effectiveness) (*Configuration, bool, error) {
	cfg := NewConfiguration()
	changed := false
	for _, m := range models {
		ok, err := m.DeclareActuators(cfg, reason)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", m.Name(), err)
		}
		changed = changed || ok
	}
	return cfg, changed, nil
}
