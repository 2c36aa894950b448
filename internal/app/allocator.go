// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/heli_allocator/internal/allocation"
	"github.com/relabs-tech/heli_allocator/internal/heli"
	"github.com/relabs-tech/heli_allocator/internal/metrics"
	"github.com/relabs-tech/heli_allocator/internal/output"
	"github.com/relabs-tech/heli_allocator/internal/params"
	"github.com/relabs-tech/heli_allocator/internal/telemetry"
)

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// AllocatorOptions wires an Allocator.
type AllocatorOptions struct {
	Params  *params.Reloadable
	Sink    output.Sink
	Pulse   output.PulseRange
	Metrics *metrics.AllocatorCollector

	Publisher       Publisher
	OutputsTopic    string
	StatusTopic     string
	PublishInterval time.Duration

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Allocator runs the helicopter model against the latest control setpoint
// and vehicle status and drives the output stage.
//
// Setpoints and Vehicle may be written from any goroutine. Everything else
// runs on the goroutine calling Run (or Step in tests).
type Allocator struct {
	model     *heli.Effectiveness
	file      *params.Reloadable
	overrides *params.MapStore
	stage     *output.Stage
	metrics   *metrics.AllocatorCollector

	pub             Publisher
	outputsTopic    string
	statusTopic     string
	publishInterval time.Duration
	now             func() time.Time

	Setpoints telemetry.Latest[telemetry.ControlSetpoint]
	Vehicle   telemetry.Latest[telemetry.VehicleStatus]
	paramSets chan telemetry.ParamSet

	arming        telemetry.ArmingTracker
	pendingArming *heli.ArmingState
	types         []allocation.ActuatorType
	last          allocation.ActuatorVector
	lastPublish   time.Time
	outputFailing bool
}

// NewAllocator loads the parameter file, builds the geometry and declares the
// actuators. Any failure here is fatal.
func NewAllocator(opts AllocatorOptions) (*Allocator, error) {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	stage, err := output.NewStage(opts.Sink, opts.Pulse)
	if err != nil {
		return nil, err
	}

	overrides := params.NewMapStore(nil)
	src := params.NewHelicopterSource(params.Layered{overrides, opts.Params, params.Defaults()})

	a := &Allocator{
		model:           heli.New(src, heli.WithClock(clock)),
		file:            opts.Params,
		overrides:       overrides,
		stage:           stage,
		metrics:         opts.Metrics,
		pub:             opts.Publisher,
		outputsTopic:    opts.OutputsTopic,
		statusTopic:     opts.StatusTopic,
		publishInterval: opts.PublishInterval,
		now:             clock,
		paramSets:       make(chan telemetry.ParamSet, 8),
	}

	if err := a.file.Reload(); err != nil {
		return nil, err
	}
	err = a.model.Refresh()
	a.metrics.RecordRefresh(err)
	if err != nil {
		return nil, err
	}
	if err := a.Reconfigure(allocation.ConfigurationUpdate); err != nil {
		return nil, err
	}
	return a, nil
}

// Model returns the effectiveness model.
func (a *Allocator) Model() *heli.Effectiveness { return a.model }

// Types returns the declared actuator types in slot order.
func (a *Allocator) Types() []allocation.ActuatorType { return a.types }

// Last returns the actuator vector of the last Step.
func (a *Allocator) Last() allocation.ActuatorVector { return a.last }

// QueueParamSet hands a parameter change to the loop. It never blocks; a
// full queue drops the request.
func (a *Allocator) QueueParamSet(ps telemetry.ParamSet) bool {
	select {
	case a.paramSets <- ps:
		return true
	default:
		log.Println("allocator: parameter queue full, dropping request")
		return false
	}
}

// Reconfigure re-declares the actuators for reason and reconfigures the
// output stage.
func (a *Allocator) Reconfigure(reason allocation.UpdateReason) error {
	cfg, changed, err := allocation.Declare(reason, a.model)
	if err != nil {
		return fmt.Errorf("allocator: declare actuators: %w", err)
	}
	if !changed {
		return nil
	}
	a.types = cfg.Types()
	a.stage.Configure(a.types)

	g := a.model.Geometry()
	a.metrics.SetConfiguration(g.Servos.Len())
	log.Printf("allocator: %s: %d motors, %d swash plate servos from slot %d",
		reason, cfg.NumActuators(allocation.Motors), cfg.NumActuators(allocation.Servos),
		a.model.FirstSwashPlateServoIndex())

	a.publish(a.statusTopic, telemetry.AllocatorStatus{
		Timestamp:       a.now(),
		Model:           a.model.Name(),
		Motors:          cfg.NumActuators(allocation.Motors),
		Servos:          cfg.NumActuators(allocation.Servos),
		FirstServoIndex: a.model.FirstSwashPlateServoIndex(),
		SwashPlate:      g.Servos.Slice(),
		SpoolupTime:     g.SpoolupTime,
		Reason:          reason.String(),
	})
	return nil
}

// ApplyParamSet applies a runtime parameter change, reloads the geometry and
// re-declares the actuators. On failure the previous geometry stays active and
// the overrides of ps are discarded.
func (a *Allocator) ApplyParamSet(ps telemetry.ParamSet) error {
	if ps.Reload {
		if err := a.file.Reload(); err != nil {
			a.metrics.RecordRefresh(err)
			return fmt.Errorf("allocator: reload parameters: %w", err)
		}
	}
	previous := a.overrides.Snapshot()
	if len(ps.Values) > 0 {
		values := make(map[string]interface{}, len(ps.Values))
		for k, v := range ps.Values {
			values[k] = v
		}
		a.overrides.Merge(values)
	}

	err := a.model.Refresh()
	a.metrics.RecordRefresh(err)
	if err != nil {
		a.overrides.Replace(previous)
		return err
	}
	return a.Reconfigure(allocation.ConfigurationUpdate)
}

// Step runs one allocation cycle. Nothing is written until the first
// setpoint arrives.
func (a *Allocator) Step() {
	now := a.now()
	if vs, ok := a.Vehicle.Poll(); ok {
		st := a.arming.Update(vs, now)
		a.pendingArming = &st
	}

	msg, ok := a.Setpoints.Peek()
	if !ok {
		return
	}

	start := time.Now()
	var out allocation.ActuatorVector
	a.model.UpdateSetpoint(msg.ToSetpoint(), 0, a.pendingArming, &out)
	a.pendingArming = nil
	st := a.model.Status()

	if _, err := a.stage.Apply(&out, st.Armed); err != nil {
		a.metrics.RecordOutputError()
		if !a.outputFailing {
			log.Printf("allocator: %v", err)
		}
		a.outputFailing = true
	} else if a.outputFailing {
		log.Println("allocator: output recovered")
		a.outputFailing = false
	}
	a.metrics.ObserveUpdate(st, &out, a.types, time.Since(start))
	a.last = out

	if a.lastPublish.IsZero() || now.Sub(a.lastPublish) >= a.publishInterval {
		a.lastPublish = now
		a.publish(a.outputsTopic, telemetry.NewActuatorOutputs(
			now, &out, a.model.FirstSwashPlateServoIndex(), msg.ToSetpoint(), st))
	}
}

// Run steps the allocator every interval until ctx is done. A value on reload
// re-reads the parameter file.
func (a *Allocator) Run(ctx context.Context, interval time.Duration, reload <-chan struct{}) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.Step()
		case ps := <-a.paramSets:
			if err := a.ApplyParamSet(ps); err != nil {
				log.Printf("allocator: parameter update rejected: %v", err)
			}
		case <-reload:
			log.Println("allocator: reloading parameter file")
			if err := a.ApplyParamSet(telemetry.ParamSet{Reload: true}); err != nil {
				log.Printf("allocator: parameter reload failed: %v", err)
			}
		}
	}
}

// Close stops the outputs.
func (a *Allocator) Close() error { return a.stage.Close() }

func (a *Allocator) publish(topic string, v interface{}) {
	if a.pub == nil || topic == "" {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("allocator: json marshal error (%s): %v", topic, err)
		return
	}
	if err := a.pub.Publish(topic, payload); err != nil {
		log.Printf("allocator: MQTT publish error (%s): %v", topic, err)
	}
}
