// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/heli_allocator/internal/config"
	"github.com/relabs-tech/heli_allocator/internal/telemetry"
)

const (
	displayWidth  = 128
	displayHeight = 64
)

// DisplayData holds the latest data for display
type DisplayData struct {
	mu sync.RWMutex

	outputs     telemetry.ActuatorOutputs
	haveOutputs bool

	status     telemetry.AllocatorStatus
	haveStatus bool
}

func (d *DisplayData) setOutputs(o telemetry.ActuatorOutputs) {
	d.mu.Lock()
	d.outputs = o
	d.haveOutputs = true
	d.mu.Unlock()
}

func (d *DisplayData) setStatus(s telemetry.AllocatorStatus) {
	d.mu.Lock()
	d.status = s
	d.haveStatus = true
	d.mu.Unlock()
}

// RunDisplay shows the allocator state on an SSD1306 OLED.
func RunDisplay() error {
	cfg := config.Get()
	defer setupLogging(cfg).Close()

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Println("display: initialized")

	if err := dev.Draw(dev.Bounds(), renderSplash(), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	data := &DisplayData{}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDDisplay)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	if err := subscribeJSON(client, cfg.TopicActuatorOutputs, "display", data.setOutputs); err != nil {
		return fmt.Errorf("failed to subscribe for display: %w", err)
	}
	if err := subscribeJSON(client, cfg.TopicAllocatorStatus, "display", data.setStatus); err != nil {
		return fmt.Errorf("failed to subscribe for display: %w", err)
	}

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")

	for range ticker.C {
		data.mu.RLock()
		img := renderAllocator(data.outputs, data.haveOutputs, data.status, data.haveStatus)
		data.mu.RUnlock()

		if err := dev.Draw(dev.Bounds(), img, image.Point{}); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}

	return nil
}

func newCanvas() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayWidth, displayHeight))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func drawLine(d *font.Drawer, y int, s string) {
	d.Dot = fixed.P(0, y)
	d.DrawBytes([]byte(s))
}

func renderAllocator(out telemetry.ActuatorOutputs, haveOutputs bool, st telemetry.AllocatorStatus, haveStatus bool) *image1bit.VerticalLSB {
	img, drawer := newCanvas()

	if !haveOutputs {
		drawLine(drawer, 26, "Allocator")
		drawLine(drawer, 39, "Waiting...")
		return img
	}

	arm := "DISARM"
	if out.Armed {
		arm = "ARMED"
	}
	drawLine(drawer, 13, fmt.Sprintf("%s %3.0f%%", arm, out.SpoolupProgress*100))
	drawLine(drawer, 26, fmt.Sprintf("T:%5.2f Y:%5.2f", out.Throttle, out.Tail))
	drawLine(drawer, 39, fmt.Sprintf("Col:%6.3f", out.CollectivePitch))
	if haveStatus {
		drawLine(drawer, 52, fmt.Sprintf("Swash %d srv @%d", st.Servos, st.FirstServoIndex))
	} else {
		drawLine(drawer, 52, fmt.Sprintf("Swash %d srv", len(out.Servos)))
	}
	return img
}

func renderSplash() *image1bit.VerticalLSB {
	img, drawer := newCanvas()
	drawer.Dot = fixed.P(10, 26)
	drawer.DrawBytes([]byte("Heli Allocator"))
	drawer.Dot = fixed.P(25, 43)
	drawer.DrawBytes([]byte("Relabs Tech"))
	return img
}
