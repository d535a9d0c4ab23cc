// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/roadsense/internal/config"
	"github.com/relabs-tech/roadsense/internal/detect"
	"github.com/relabs-tech/roadsense/internal/ingest"
	"github.com/relabs-tech/roadsense/internal/relay"
	"github.com/relabs-tech/roadsense/internal/store/sqlitestore"
)

func main() {
	log.Println("starting roadsense relay (MQTT trip subscriber)")

	configPath := "roadsense_config.txt"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	if err := config.InitGlobal(configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	db, err := sqlitestore.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open store at %s: %v", cfg.DBPath, err)
	}
	defer db.Close()

	pipeline := ingest.New(
		db,
		cfg.IngestWorkers,
		time.Duration(cfg.IngestTimeoutSeconds)*time.Second,
		detect.DefaultParams(),
	)
	defer pipeline.Stop()

	r, err := relay.Connect(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTripTopic, pipeline)
	if err != nil {
		log.Fatalf("failed to connect relay: %v", err)
	}
	defer r.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("relay shutting down")
}
