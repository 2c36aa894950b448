// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"log"
	"time"

	"github.com/relabs-tech/heli_allocator/internal/config"
	"github.com/relabs-tech/heli_allocator/internal/pilot"
	"github.com/relabs-tech/heli_allocator/internal/telemetry"
)

// RunMockPilot publishes generated setpoints and arming state to MQTT.
func RunMockPilot(armDelay time.Duration) error {
	cfg := config.Get()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDPilot)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	pub := mqttPublisher{client: client, retained: true}

	src := pilot.NewMockSource(armDelay)
	ticker := time.NewTicker(time.Duration(cfg.PilotInterval) * time.Millisecond)
	defer ticker.Stop()

	var (
		armed   bool
		started bool
	)
	for t := range ticker.C {
		cmd, err := src.Next()
		if err != nil {
			log.Printf("pilot: error from mock source: %v", err)
			continue
		}

		if !started || cmd.Armed != armed {
			armed, started = cmd.Armed, true
			payload, _ := json.Marshal(telemetry.VehicleStatus{Armed: armed})
			if err := pub.Publish(cfg.TopicVehicleStatus, payload); err != nil {
				log.Printf("pilot: MQTT publish error (status): %v", err)
			}
			log.Printf("%s pilot: armed=%v", t.Format(time.RFC3339), armed)
		}

		payload, err := json.Marshal(cmd.Setpoint)
		if err != nil {
			log.Printf("pilot: json marshal error: %v", err)
			continue
		}
		if err := pub.Publish(cfg.TopicControlSetpoint, payload); err != nil {
			log.Printf("pilot: MQTT publish error (setpoint): %v", err)
		}
	}
	return nil
}
