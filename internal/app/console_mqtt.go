// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/relabs-tech/heli_allocator/internal/config"
	"github.com/relabs-tech/heli_allocator/internal/telemetry"
)

func formatOutputs(o telemetry.ActuatorOutputs) string {
	arm := "DIS"
	if o.Armed {
		arm = "ARM"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[OUT ] %s spool=%5.1f%%  THR=%6.3f  TAIL=%6.3f  COL=%6.3f  SERVOS=",
		arm, o.SpoolupProgress*100, o.Throttle, o.Tail, o.CollectivePitch)
	for i, s := range o.Servos {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%6.3f", s)
	}
	return b.String()
}

func formatStatus(s telemetry.AllocatorStatus) string {
	return fmt.Sprintf("[CONF] %s (%s): %d motors, %d servos from slot %d, spoolup %.1fs",
		s.Model, s.Reason, s.Motors, s.Servos, s.FirstServoIndex, s.SpoolupTime)
}

// RunConsoleMQTT prints allocator telemetry until Ctrl+C.
func RunConsoleMQTT() error {
	cfg := config.Get()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	var (
		mu       sync.Mutex
		lastLine time.Time
	)
	interval := time.Duration(cfg.ConsoleLogInterval) * time.Millisecond

	if err := subscribeJSON(client, cfg.TopicActuatorOutputs, "console", func(o telemetry.ActuatorOutputs) {
		mu.Lock()
		defer mu.Unlock()
		if time.Since(lastLine) < interval {
			return
		}
		lastLine = time.Now()
		fmt.Println(formatOutputs(o))
	}); err != nil {
		return err
	}

	if err := subscribeJSON(client, cfg.TopicAllocatorStatus, "console", func(s telemetry.AllocatorStatus) {
		fmt.Println(formatStatus(s))
	}); err != nil {
		return err
	}

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
