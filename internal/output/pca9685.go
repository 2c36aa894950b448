// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package output

import (
	"fmt"
	"math"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"
	"periph.io/x/host/v3"
)

const pcaResolution = 4096

// PCA9685Channels is the number of outputs on the board.
const PCA9685Channels = 16

// PCA9685 drives a PCA9685 16-channel PWM board.
type PCA9685 struct {
	dev    *pca9685.Dev
	bus    i2c.BusCloser
	freqHz float64
}

// OpenPCA9685 initializes periph, opens the I2C bus and configures the board
// for freqHz output.
func OpenPCA9685(busName string, addr uint16, freqHz int) (*PCA9685, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus: %w", err)
	}
	dev, err := pca9685.NewI2C(bus, addr)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to initialize pca9685 at 0x%02X: %w", addr, err)
	}
	if err := dev.SetPwmFreq(physic.Frequency(freqHz) * physic.Hertz); err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to set pwm frequency: %w", err)
	}
	return &PCA9685{dev: dev, bus: bus, freqHz: float64(freqHz)}, nil
}

// pulseTicks converts a pulse width into 12-bit off ticks at freqHz.
func pulseTicks(us, freqHz float64) gpio.Duty {
	t := math.Round(us * freqHz * pcaResolution / 1e6)
	return gpio.Duty(clamp(t, 0, pcaResolution-1))
}

func (p *PCA9685) WritePulses(us []float64) error {
	if len(us) > PCA9685Channels {
		return fmt.Errorf("pca9685: %d outputs exceed %d channels", len(us), PCA9685Channels)
	}
	for ch, v := range us {
		if err := p.dev.SetPwm(ch, 0, pulseTicks(v, p.freqHz)); err != nil {
			return fmt.Errorf("pca9685: channel %d: %w", ch, err)
		}
	}
	return nil
}

func (p *PCA9685) Close() error {
	if err := p.dev.SetAllPwm(0, 0); err != nil {
		p.bus.Close()
		return err
	}
	return p.bus.Close()
}
