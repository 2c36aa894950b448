// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package output

import (
	"fmt"
	"io"
	"math"

	serial "github.com/jacobsa/go-serial/serial"
)

const cmdSetMultipleTargets = 0x9f

// MaxMaestroChannels is the channel count of the largest Maestro board.
const MaxMaestroChannels = 24

// Maestro drives a Pololu Maestro servo controller over its compact serial
// protocol. Targets are sent in quarter microseconds.
type Maestro struct {
	port         io.WriteCloser
	firstChannel uint8
	buf          []byte
}

// NewMaestro returns a Maestro sink writing to port. Output i goes to
// channel firstChannel+i.
func NewMaestro(port io.WriteCloser, firstChannel uint8) *Maestro {
	return &Maestro{port: port, firstChannel: firstChannel}
}

// OpenMaestro opens the controller's command port.
func OpenMaestro(portName string, baudRate uint) (*Maestro, error) {
	opts := serial.OpenOptions{
		PortName:        portName,
		BaudRate:        baudRate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open maestro port %s: %w", portName, err)
	}
	return NewMaestro(port, 0), nil
}

func lo(x uint16) byte { return byte(x & 0x7f) }
func hi(x uint16) byte { return byte((x >> 7) & 0x7f) }

// WritePulses sends all outputs in one set-multiple-targets command.
func (m *Maestro) WritePulses(us []float64) error {
	if int(m.firstChannel)+len(us) > MaxMaestroChannels {
		return fmt.Errorf("maestro: %d outputs from channel %d exceed %d channels", len(us), m.firstChannel, MaxMaestroChannels)
	}
	m.buf = append(m.buf[:0], cmdSetMultipleTargets, byte(len(us)), m.firstChannel)
	for _, v := range us {
		t := uint16(math.Round(clamp(v, 0, 4095) * 4))
		m.buf = append(m.buf, lo(t), hi(t))
	}
	_, err := m.port.Write(m.buf)
	return err
}

func (m *Maestro) Close() error { return m.port.Close() }
