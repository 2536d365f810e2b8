// Command demo wires the shared key-value core end to end: two SharedMap
// replicas and a SharedDirectory, connected through the in-memory reference
// ordering service and blob store, with logging, metrics, and tracing
// attached the way a real host process would.
package main

import (
	"context"
	"fmt"
	"log"

	"go.uber.org/zap"

	"github.com/webflow/shareddata/internal/logging"
	"github.com/webflow/shareddata/internal/monitoring"
	"github.com/webflow/shareddata/internal/ordering"
	"github.com/webflow/shareddata/internal/snapshot"
	"github.com/webflow/shareddata/internal/tracing"
	"github.com/webflow/shareddata/pkg/shareddirectory"
	"github.com/webflow/shareddata/pkg/sharedmap"
)

func main() {
	ctx := context.Background()

	logger, err := logging.NewLogger("info", "console")
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	tp, err := tracing.InitTracer("shareddata-demo", "")
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	metrics := monitoring.NewMetrics()
	hub := ordering.NewMemoryOrderingService()

	opts := sharedmap.Options{
		Thresholds: snapshot.Thresholds{},
		Metrics:    metrics,
		Logger:     logger.Logger,
	}

	replicaA := sharedmap.New("config", opts)
	replicaB := sharedmap.New("config", opts)

	replicaA.Attach(hub.NewClient(), nil)
	replicaB.Attach(hub.NewClient(), nil)

	if err := replicaA.Set("google_maps_api_key", "AIzaSy..."); err != nil {
		log.Fatal(err)
	}

	value, _ := replicaB.Get("google_maps_api_key")
	fmt.Printf("replicaB observed google_maps_api_key=%v\n", value)

	dir := shareddirectory.New("workspace", shareddirectory.Options{
		Metrics: metrics,
		Logger:  logger.Logger,
	})
	dir.Attach(hub.NewClient(), nil)

	memories, err := dir.Root().CreateSubDirectory("memories")
	if err != nil {
		log.Fatal(err)
	}
	if err := memories.Set("note-1", "first memory entry"); err != nil {
		log.Fatal(err)
	}

	fmt.Println("shared key-value core running")
	fmt.Printf("config replica A keys: %v\n", replicaA.Keys())
	fmt.Printf("workspace subdirectories: %v\n", dir.Root().SubDirectoryNames())
}
