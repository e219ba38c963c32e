package main

import (
	"context"
	"flag"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/models"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/repo"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/utils"
)

type container struct {
	id    string
	name  string
	cpu   float64
	mem   float64
	trend float64
	spike bool
}

func main() {
	var (
		dbPath  = flag.String("db", "data/metrics.db", "SQLite metrics database")
		minutes = flag.Int("minutes", 120, "Minutes of history to generate")
	)
	flag.Parse()

	logger := utils.NewLogger("info", false)
	ctx := context.Background()
	store, err := repo.OpenSQLiteStore(ctx, *dbPath, logger)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	fleet := []container{
		{id: "c-web", name: "web", cpu: 20, mem: 40},
		{id: "c-api", name: "api", cpu: 35, mem: 55, trend: 0.2},
		{id: "c-db", name: "db", cpu: 15, mem: 60, spike: true},
		{id: "c-worker", name: "worker", cpu: 50, mem: 30, spike: true},
	}

	rng := rand.New(rand.NewSource(42))
	now := time.Now().UTC().Truncate(time.Minute)
	samples := make([]models.MetricSample, 0, len(fleet)*(*minutes)*2)
	for _, c := range fleet {
		for i := 0; i < *minutes; i++ {
			ts := now.Add(-time.Duration(*minutes-i) * time.Minute)
			cpu := c.cpu + c.trend*float64(i) + rng.NormFloat64()*2
			mem := c.mem + c.trend*float64(i)/2 + rng.NormFloat64()
			if c.spike && i == *minutes-1 {
				cpu *= 3
				mem *= 1.6
			}
			samples = append(samples,
				sample(c, models.MetricCPU, clampPercent(cpu), ts),
				sample(c, models.MetricMemory, clampPercent(mem), ts),
			)
		}
	}

	if err := store.WriteSamples(ctx, samples); err != nil {
		log.Fatalf("write samples: %v", err)
	}
	log.Printf("wrote %d samples for %d containers to %s", len(samples), len(fleet), *dbPath)
}

func sample(c container, metric models.MetricType, value float64, ts time.Time) models.MetricSample {
	return models.MetricSample{
		EndpointID:    1,
		ContainerID:   c.id,
		ContainerName: c.name,
		MetricType:    metric,
		Value:         value,
		Timestamp:     ts,
	}
}

func clampPercent(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
