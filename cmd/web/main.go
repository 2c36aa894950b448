// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/heli_allocator/internal/app"
	"github.com/relabs-tech/heli_allocator/internal/config"
)

func main() {
	configPath := flag.String("config", "./heli_config.txt", "path to configuration file")
	flag.Parse()

	log.Println("starting heli-allocator web server (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	log.Println("Note: live data requires the allocator to be running (./allocator)")

	if err := app.RunWeb(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
