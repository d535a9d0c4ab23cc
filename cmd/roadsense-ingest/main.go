// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/relabs-tech/roadsense/internal/config"
	"github.com/relabs-tech/roadsense/internal/detect"
	"github.com/relabs-tech/roadsense/internal/ingest"
	"github.com/relabs-tech/roadsense/internal/store/sqlitestore"
)

func ingestFile(configPath, tripPath string) error {
	if err := config.InitGlobal(configPath); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := config.Get()

	doc, err := os.ReadFile(tripPath)
	if err != nil {
		return fmt.Errorf("read trip document: %w", err)
	}

	db, err := sqlitestore.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	pipeline := ingest.New(db, cfg.IngestWorkers, time.Duration(cfg.IngestTimeoutSeconds)*time.Second, detect.DefaultParams())
	defer pipeline.Stop()

	result, err := pipeline.Ingest(context.Background(), doc)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	fmt.Printf("ingested trip %s: %d detections\n", result.TripID, result.DetectionCount)
	return nil
}

func main() {
	app := &cli.App{
		Name:  "roadsense-ingest",
		Usage: "ingest a single trip document from disk",
		Commands: []*cli.Command{
			{
				Name:  "ingest",
				Usage: "normalize, detect, and persist one trip document",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "config",
						Value: "roadsense_config.txt",
						Usage: "path to the roadsense KEY=VALUE config file",
					},
					&cli.StringFlag{
						Name:     "trip",
						Usage:    "path to a JSON trip document",
						Required: true,
					},
				},
				Action: func(cCtx *cli.Context) error {
					return ingestFile(cCtx.String("config"), cCtx.String("trip"))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
