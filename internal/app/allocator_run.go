// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relabs-tech/heli_allocator/internal/config"
	"github.com/relabs-tech/heli_allocator/internal/metrics"
	"github.com/relabs-tech/heli_allocator/internal/output"
	"github.com/relabs-tech/heli_allocator/internal/params"
	"github.com/relabs-tech/heli_allocator/internal/telemetry"
)

type mqttPublisher struct {
	client   mqtt.Client
	retained bool
}

func (p mqttPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 0, p.retained, payload)
	token.Wait()
	return token.Error()
}

func connectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	return client, nil
}

// subscribeJSON subscribes to topic and hands every decoded message to fn.
func subscribeJSON[T any](client mqtt.Client, topic, component string, fn func(T)) error {
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var v T
		if err := json.Unmarshal(msg.Payload(), &v); err != nil {
			log.Printf("%s: %s unmarshal error: %v", component, topic, err)
			return
		}
		fn(v)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("%s: subscribed to %s", component, topic)
	return nil
}

func openSink(cfg *config.Config) (output.Sink, error) {
	switch cfg.OutputDriver {
	case config.DriverPCA9685:
		pca, err := output.OpenPCA9685(cfg.PCA9685I2CBus, cfg.PCA9685I2CAddr, cfg.PWMFrequency)
		if err != nil {
			return nil, err
		}
		log.Printf("allocator: pca9685 at 0x%02X, %d Hz", cfg.PCA9685I2CAddr, cfg.PWMFrequency)
		return pca, nil
	case config.DriverMaestro:
		m, err := output.OpenMaestro(cfg.MaestroSerialPort, uint(cfg.MaestroBaudRate))
		if err != nil {
			return nil, err
		}
		log.Printf("allocator: maestro on %s at %d baud", cfg.MaestroSerialPort, cfg.MaestroBaudRate)
		return m, nil
	}
	log.Println("allocator: no output driver, commands are only published")
	return &output.Discard{}, nil
}

// RunAllocator subscribes to setpoints and vehicle status, drives the outputs
// and publishes actuator telemetry until SIGINT or SIGTERM. SIGHUP reloads
// the parameter file.
func RunAllocator() error {
	cfg := config.Get()
	defer setupLogging(cfg).Close()

	collector, err := metrics.NewAllocatorCollector(prometheus.NewRegistry())
	if err != nil {
		return err
	}

	sink, err := openSink(cfg)
	if err != nil {
		return err
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDAllocator)
	if err != nil {
		sink.Close()
		return err
	}
	defer client.Disconnect(250)
	log.Printf("allocator: connected to MQTT broker at %s", cfg.MQTTBroker)

	alloc, err := NewAllocator(AllocatorOptions{
		Params:          params.NewReloadable(cfg.ParamFile),
		Sink:            sink,
		Pulse:           output.PulseRange{MinUs: cfg.PulseMinUs, MaxUs: cfg.PulseMaxUs},
		Metrics:         collector,
		Publisher:       mqttPublisher{client: client, retained: true},
		OutputsTopic:    cfg.TopicActuatorOutputs,
		StatusTopic:     cfg.TopicAllocatorStatus,
		PublishInterval: time.Duration(cfg.PublishInterval) * time.Millisecond,
	})
	if err != nil {
		sink.Close()
		return err
	}
	defer alloc.Close()

	if err := subscribeJSON(client, cfg.TopicControlSetpoint, "allocator", alloc.Setpoints.Put); err != nil {
		return err
	}
	if err := subscribeJSON(client, cfg.TopicVehicleStatus, "allocator", alloc.Vehicle.Put); err != nil {
		return err
	}
	if err := subscribeJSON(client, cfg.TopicParamSet, "allocator", func(ps telemetry.ParamSet) {
		alloc.QueueParamSet(ps)
	}); err != nil {
		return err
	}

	var srv *http.Server
	if cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		srv = &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: mux}
		go func() {
			log.Printf("allocator: metrics listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("allocator: metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	reload := make(chan struct{}, 1)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				select {
				case reload <- struct{}{}:
				default:
				}
				continue
			}
			log.Printf("allocator: received %v, shutting down", sig)
			cancel()
			return
		}
	}()

	interval := time.Duration(cfg.ControlInterval) * time.Millisecond
	log.Printf("allocator: running every %v", interval)
	err = alloc.Run(ctx, interval, reload)

	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
	}
	return err
}
