// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/relabs-tech/roadsense/internal/api"
	"github.com/relabs-tech/roadsense/internal/cluster"
	"github.com/relabs-tech/roadsense/internal/config"
	"github.com/relabs-tech/roadsense/internal/detect"
	"github.com/relabs-tech/roadsense/internal/ingest"
	"github.com/relabs-tech/roadsense/internal/store/sqlitestore"
)

func main() {
	log.Println("starting roadsense server (HTTP API + dashboard websocket)")

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

	clusterParams := cluster.Params{EpsM: cfg.DetectEpsM, MinPts: cfg.DetectMinPts}
	server := api.NewServer(pipeline, db, db, db, clusterParams)

	mux := http.NewServeMux()
	server.Routes(mux)

	log.Printf("listening on %s", cfg.HTTPAddr)
	if err := http.ListenAndServe(cfg.HTTPAddr, mux); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
