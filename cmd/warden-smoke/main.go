package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-warden/v1/cleanup"
	"github.com/mirkobrombin/go-warden/v1/config"
	"github.com/mirkobrombin/go-warden/v1/health"
	"github.com/mirkobrombin/go-warden/v1/manager"
	"github.com/mirkobrombin/go-warden/v1/metrics"
	"github.com/mirkobrombin/go-warden/v1/notify"
)

func main() {
	redisAddrs := flag.String("redis-addrs", "localhost:6379", "Comma-separated Redis addresses (several form a quorum)")
	resource := flag.String("resource", "smoke-lock", "Resource name the workers contend on")
	workers := flag.Int("workers", 8, "Concurrent workers")
	rounds := flag.Int("rounds", 20, "Lock/unlock rounds per worker")
	hold := flag.Duration("hold", 25*time.Millisecond, "How long each worker holds the lock")
	metricsPort := flag.Int("metrics-port", 2112, "Prometheus /metrics port, 0 disables")
	flag.Parse()

	config.Init()
	ctx := context.Background()

	var clients []redis.UniversalClient
	for _, addr := range strings.Split(*redisAddrs, ",") {
		clients = append(clients, redis.NewClient(&redis.Options{Addr: strings.TrimSpace(addr)}))
	}

	bus := notify.NewInMemoryBus()
	alerts, _ := bus.Subscribe(ctx, health.DefaultAlertSubject)
	go func() {
		for msg := range alerts {
			log.Printf("alert: %s", msg.Data)
		}
	}()

	mon := health.NewMonitor(bus, health.WithConfig(config.MonitorConfig()))
	defer mon.Close()

	mgr := manager.New(config.ManagerConfig(),
		manager.WithClients(clients...),
		manager.WithTracker(mon),
	)
	if err := mgr.Initialize(ctx); err != nil {
		log.Fatalf("initialize: %v", err)
	}

	svc := cleanup.New(mgr, config.CleanupConfig(),
		cleanup.WithTracker(mon), cleanup.WithAlerter(mon))
	svc.Start()
	defer svc.Stop()

	if *metricsPort > 0 {
		reg := metrics.NewRegistry()
		metrics.RegisterLockMetrics(reg)
		go func() {
			http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", *metricsPort), nil))
		}()
	}

	log.Printf("smoke: %d workers, %d rounds on %q via %s", *workers, *rounds, *resource, *redisAddrs)
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for r := 0; r < *rounds; r++ {
				err := mgr.WithLock(ctx, *resource, 5*time.Second, func(ctx context.Context) error {
					time.Sleep(*hold)
					return nil
				})
				if err != nil {
					log.Printf("worker %d round %d: %v", id, r, err)
				}
			}
		}(i)
	}
	wg.Wait()

	report := mgr.Report()
	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	log.Printf("done in %s, contention rate %.2f", time.Since(start), report.ContentionRate)
}
