package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/openhydrology/flume/internal/api"
	"github.com/openhydrology/flume/internal/calibrate"
	"github.com/openhydrology/flume/internal/config"
	"github.com/openhydrology/flume/internal/events"
	"github.com/openhydrology/flume/internal/metrics"
	"github.com/openhydrology/flume/internal/network"
	"github.com/openhydrology/flume/internal/storage/postgres"
	"github.com/openhydrology/flume/internal/telemetry"
	"github.com/openhydrology/flume/internal/timeseries"
)

// completedTopic carries finished-run summaries so field systems can
// pick up new parameters without polling the API.
const completedTopic = "flume/calibration/completed"

func main() {
	configPath := flag.String("config", "site.yaml", "path to the site configuration")
	flag.Parse()

	cfg, err := config.LoadSiteConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load %s: %v", *configPath, err)
	}

	// Run persistence is optional: without it the service still
	// calibrates, it just cannot restore or archive runs.
	pg, err := postgres.New(cfg.Basin.ID)
	if err != nil {
		log.Printf("postgres unavailable, runs will not be persisted: %v", err)
		api.SetPostgresState(false, true)
	} else {
		events.SetPostgresClient(pg)
		calibrate.SetPostgresClient(pg)
		api.SetPostgresState(true, true)
	}

	hostname, _ := os.Hostname()
	events.Emit("info", "system.startup", "flume api starting", map[string]interface{}{
		"service":  "flume-api",
		"hostname": hostname,
		"pid":      os.Getpid(),
		"basin":    cfg.Basin.ID,
	})

	nw, err := network.Load(cfg.Paths.Network)
	if err != nil {
		log.Fatalf("failed to load network model: %v", err)
	}
	_, outlets := nw.FindInletsAndOutlets()
	events.Emit("info", "network.loaded", "", map[string]interface{}{
		"nodes":   nw.Len(),
		"outlets": len(outlets),
	})
	log.Printf("network loaded: %d nodes, %d outlets", nw.Len(), len(outlets))

	forcing, err := timeseries.LoadForcingCSV(cfg.Paths.Forcing)
	if err != nil {
		log.Fatalf("failed to load forcing record: %v", err)
	}
	if err := forcing.Validate(); err != nil {
		log.Fatalf("invalid forcing record: %v", err)
	}

	if pg != nil {
		if n, err := calibrate.RestoreParameters(pg, nw); err != nil {
			log.Printf("parameter restore failed: %v", err)
		} else if n > 0 {
			log.Printf("restored stored parameters for %d nodes", n)
		}
	}

	// Gauge telemetry: loggers announce their stations on the
	// registration topic, the subscriber feeds each station's
	// observations into the shared sink.
	specs := make(map[string]telemetry.StationSpec, len(cfg.Stations))
	for code, st := range cfg.Stations {
		specs[code] = telemetry.SpecFromConfig(st.Kind, st.Node, st.Required)
	}
	monitor := telemetry.NewMonitor(specs, 2.0)
	monitor.Start(30 * time.Second)

	sink := telemetry.NewSeriesSink(forcing.Start, forcing.Step)
	client := telemetry.NewClient("flume-" + cfg.Basin.ID)
	subscriber := telemetry.NewStationSubscriber(client, monitor.StationRegistry(), sink)

	regHandler := func(_ paho.Client, msg paho.Message) {
		payload, err := telemetry.ParseRegistration(msg.Payload())
		if err != nil {
			events.Emit("error", "gauge.error", "unparseable registration", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		if res := monitor.HandleRegistration(payload); res.Valid {
			if err := subscriber.SubscribeAll(); err != nil {
				log.Printf("station subscribe failed: %v", err)
			}
		}
	}
	connected := client.StartWithRetry(telemetry.RegistrationTopic, regHandler)
	api.SetMQTTState(connected, true)
	go func() {
		// Paho reconnects on its own; keep readiness in step with it.
		for range time.Tick(15 * time.Second) {
			api.SetMQTTState(client.IsConnected(), true)
		}
	}()

	opts, err := optionsFromConfig(cfg.Calibration)
	if err != nil {
		log.Fatalf("invalid calibration config: %v", err)
	}

	svc := calibrate.NewService(nw, forcing, sink.Observed, opts)
	if cfg.Paths.Artifacts != "" {
		if err := os.MkdirAll(cfg.Paths.Artifacts, 0o755); err != nil {
			log.Printf("artifact directory: %v", err)
		} else {
			svc.ArtifactDir = cfg.Paths.Artifacts
		}
	}
	svc.OnComplete = func(results []*calibrate.Result, err error) {
		if err != nil || len(results) == 0 {
			return
		}
		api.RecordCalibration(time.Now().UTC())
		if client.IsConnected() {
			publishSummary(client, results)
		}
	}

	api.InitMetrics()
	api.SetBasinName(cfg.Basin.Name)
	api.InitAuth()
	api.InitTLS()
	api.InitAlerts()
	api.SetEngine(svc)
	api.SetNetworkReady(true)
	api.StartAlertMonitor(15 * time.Second)
	api.SendAlert(api.AlertServiceRestart, api.SeverityInfo, "flume api started", map[string]interface{}{
		"basin":    cfg.Basin.ID,
		"hostname": hostname,
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- api.ListenAndServe(cfg.APIPort()) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		events.Emit("info", "system.shutdown", "", map[string]interface{}{
			"signal": sig.String(),
		})
		log.Printf("shutting down on %s", sig)
	case err := <-serveErr:
		log.Fatalf("api server failed: %v", err)
	}

	monitor.Stop()
	client.Disconnect()
	if pg != nil {
		pg.Close()
	}
}

// publishSummary announces the finished runs and their accepted
// parameters on the broker.
func publishSummary(client *telemetry.Client, results []*calibrate.Result) {
	type nodeRun struct {
		Node       string             `json:"node"`
		RunID      string             `json:"run_id"`
		Fitness    float64            `json:"fitness"`
		Parameters map[string]float64 `json:"parameters"`
	}

	var runs []nodeRun
	for _, root := range results {
		for _, r := range root.Flatten() {
			fitness := r.Best.Fitness
			if math.IsInf(fitness, -1) || math.IsNaN(fitness) {
				fitness = -math.MaxFloat64
			}
			runs = append(runs, nodeRun{
				Node:       r.Node,
				RunID:      r.RunID,
				Fitness:    fitness,
				Parameters: r.Parameters(),
			})
		}
	}

	b, err := json.Marshal(map[string]interface{}{
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"runs": runs,
	})
	if err != nil {
		return
	}
	if err := client.Publish(completedTopic, b); err != nil {
		log.Printf("run summary publish failed: %v", err)
	}
}

// optionsFromConfig applies the site's calibration section over the
// built-in defaults.
func optionsFromConfig(c config.CalibrationConfig) (calibrate.Options, error) {
	opts := calibrate.DefaultOptions()
	if c.MaxTime != "" {
		d, err := time.ParseDuration(c.MaxTime)
		if err != nil {
			return opts, fmt.Errorf("max_time: %w", err)
		}
		opts.MaxTime = d
	}
	if c.TraceInterval != "" {
		d, err := time.ParseDuration(c.TraceInterval)
		if err != nil {
			return opts, fmt.Errorf("trace_interval: %w", err)
		}
		opts.TraceInterval = d
	}
	if c.TargetFitness != nil {
		opts.TargetFitness = *c.TargetFitness
	}
	if c.Weighting != nil {
		opts.Weighting = *c.Weighting
	}
	if c.Metric != "" {
		m, err := metrics.ByName(c.Metric)
		if err != nil {
			return opts, err
		}
		opts.Metric = m
	}
	opts.Isolated = c.Isolated
	return opts, nil
}
