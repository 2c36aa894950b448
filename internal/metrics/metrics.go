// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package metrics exposes allocator state to Prometheus.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/heli_allocator/internal/allocation"
	"github.com/relabs-tech/heli_allocator/internal/heli"
)

// AllocatorCollector bundles the Prometheus metrics of the allocator loop.
type AllocatorCollector struct {
	gatherer prometheus.Gatherer

	Updates        prometheus.Counter
	UpdateDuration prometheus.Histogram
	Refreshes      *prometheus.CounterVec
	OutputErrors   prometheus.Counter

	Armed            prometheus.Gauge
	SpoolupProgress  prometheus.Gauge
	Throttle         prometheus.Gauge
	CollectivePitch  prometheus.Gauge
	Tail             prometheus.Gauge
	SwashPlateServos prometheus.Gauge

	ActuatorCommands *prometheus.GaugeVec
}

// NewAllocatorCollector registers the allocator metrics against reg,
// defaulting to the global Prometheus registry when nil.
func NewAllocatorCollector(reg prometheus.Registerer) (*AllocatorCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &AllocatorCollector{gatherer: gatherer}
	var err error

	if c.Updates, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "allocator_updates_total",
		Help: "Total number of control setpoints mapped to actuator commands.",
	}), "allocator_updates_total"); err != nil {
		return nil, err
	}
	if c.UpdateDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "allocator_update_duration_seconds",
		Help:    "Time spent mapping a setpoint and writing the outputs.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
	}), "allocator_update_duration_seconds"); err != nil {
		return nil, err
	}
	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocator_parameter_refreshes_total",
		Help: "Parameter refreshes, labeled by result.",
	}, []string{"result"})
	if c.Refreshes, err = registerCounterVec(reg, refreshes, "allocator_parameter_refreshes_total"); err != nil {
		return nil, err
	}
	if c.OutputErrors, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "allocator_output_errors_total",
		Help: "Failed writes to the PWM output driver.",
	}), "allocator_output_errors_total"); err != nil {
		return nil, err
	}

	gauges := []struct {
		dst  *prometheus.Gauge
		name string
		help string
	}{
		{&c.Armed, "allocator_armed", "1 when the vehicle is armed."},
		{&c.SpoolupProgress, "allocator_spoolup_progress", "Main rotor spoolup progress in [0, 1]."},
		{&c.Throttle, "allocator_throttle", "Main rotor throttle command."},
		{&c.CollectivePitch, "allocator_collective_pitch", "Collective pitch command."},
		{&c.Tail, "allocator_tail", "Tail rotor command."},
		{&c.SwashPlateServos, "allocator_swash_plate_servos", "Configured number of swash plate servos."},
	}
	for _, g := range gauges {
		if *g.dst, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: g.name,
			Help: g.help,
		}), g.name); err != nil {
			return nil, err
		}
	}

	commands := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "allocator_actuator_command",
		Help: "Normalized command per actuator slot.",
	}, []string{"index", "type"})
	if c.ActuatorCommands, err = registerGaugeVec(reg, commands, "allocator_actuator_command"); err != nil {
		return nil, err
	}

	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *AllocatorCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveUpdate records one allocation result.
func (c *AllocatorCollector) ObserveUpdate(st heli.Status, out *allocation.ActuatorVector, types []allocation.ActuatorType, took time.Duration) {
	if c == nil {
		return
	}
	c.Updates.Inc()
	c.UpdateDuration.Observe(took.Seconds())

	armed := 0.0
	if st.Armed {
		armed = 1
	}
	c.Armed.Set(armed)
	c.SpoolupProgress.Set(st.SpoolupProgress)
	c.Throttle.Set(st.Throttle)
	c.CollectivePitch.Set(st.CollectivePitch)
	c.Tail.Set(st.Tail)

	for i, t := range types {
		if i >= allocation.MaxActuators {
			break
		}
		c.ActuatorCommands.WithLabelValues(strconv.Itoa(i), t.String()).Set(out[i])
	}
}

// RecordRefresh counts a parameter refresh attempt.
func (c *AllocatorCollector) RecordRefresh(err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.Refreshes.WithLabelValues(result).Inc()
}

// RecordOutputError counts a failed output write.
func (c *AllocatorCollector) RecordOutputError() {
	if c == nil {
		return
	}
	c.OutputErrors.Inc()
}

// SetConfiguration publishes the declared actuator layout. Command series of
// slots that no longer exist are dropped.
func (c *AllocatorCollector) SetConfiguration(servos int) {
	if c == nil {
		return
	}
	c.SwashPlateServos.Set(float64(servos))
	c.ActuatorCommands.Reset()
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
