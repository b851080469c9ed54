// Command calibrate runs a batch calibration from files on disk, without
// the broker or the API service. Events stream to stdout as JSON lines;
// the per-node summary goes to stderr.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/openhydrology/flume/internal/calibrate"
	"github.com/openhydrology/flume/internal/events"
	"github.com/openhydrology/flume/internal/metrics"
	"github.com/openhydrology/flume/internal/network"
	"github.com/openhydrology/flume/internal/optimizer"
	"github.com/openhydrology/flume/internal/timeseries"
)

func main() {
	var (
		networkPath = flag.String("network", "network.yaml", "network specification file")
		forcingPath = flag.String("forcing", "forcing.csv", "forcing record (timestamp,rain,evap[,extraction[,exchange]])")
		observedDir = flag.String("observed", "observed", "directory of per-node observed series (<node>.csv)")
		nodeName    = flag.String("node", "", "calibrate one node instead of the whole network")
		isolated    = flag.Bool("isolated", false, "take upstream nodes as they stand instead of calibrating them first")
		maxTime     = flag.Duration("max-time", optimizer.DefaultMaxTime, "optimizer wall clock per node")
		trace       = flag.Duration("trace", optimizer.DefaultTraceInterval, "spacing of calibration.trace events")
		target      = flag.Float64("target", math.NaN(), "stop a node's search early at this fitness")
		weighting   = flag.Float64("weighting", 0.5, "flow/level blend for dependent objectives (0 level only, 1 flow only)")
		metricName  = flag.String("metric", "", "skill metric (default nse)")
		outDir      = flag.String("out", "", "directory for run artifacts (omit to skip saving)")
		listMetrics = flag.Bool("list-metrics", false, "print the available metrics and exit")
	)
	flag.Parse()

	if *listMetrics {
		for _, name := range metrics.Names() {
			fmt.Println(name)
		}
		return
	}

	opts := calibrate.DefaultOptions()
	opts.MaxTime = *maxTime
	opts.TraceInterval = *trace
	opts.TargetFitness = *target
	opts.Weighting = *weighting
	opts.Isolated = *isolated
	if *metricName != "" {
		m, err := metrics.ByName(*metricName)
		if err != nil {
			log.Fatal(err)
		}
		opts.Metric = m
	}

	nw, err := network.Load(*networkPath)
	if err != nil {
		log.Fatalf("failed to load network model: %v", err)
	}
	forcing, err := timeseries.LoadForcingCSV(*forcingPath)
	if err != nil {
		log.Fatalf("failed to load forcing record: %v", err)
	}
	observed, err := loadObserved(*observedDir)
	if err != nil {
		log.Fatal(err)
	}

	// Mirror the event stream to stdout while the run lasts.
	sub := events.Subscribe()
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for e := range sub {
			if b, err := json.Marshal(e); err == nil {
				fmt.Println(string(b))
			}
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var results []*calibrate.Result
	if *nodeName == "" {
		results, err = calibrate.CalibrateNetwork(ctx, nw, forcing, observed, opts)
	} else {
		id, idErr := nw.NodeID(*nodeName)
		if idErr != nil {
			log.Fatal(idErr)
		}
		var r *calibrate.Result
		r, err = calibrate.Calibrate(ctx, nw, id, forcing, observed, opts)
		if r != nil {
			results = []*calibrate.Result{r}
		}
	}

	// Completed outlets keep their artifacts even when a later one fails.
	if *outDir != "" && len(results) > 0 {
		if mkErr := os.MkdirAll(*outDir, 0o755); mkErr != nil {
			log.Printf("artifact directory: %v", mkErr)
		} else {
			for _, r := range results {
				path := filepath.Join(*outDir, fmt.Sprintf("%s-%s.gob", r.Node, r.RunID))
				if _, saveErr := calibrate.Save(r, path); saveErr != nil {
					log.Printf("artifact save failed for %s: %v", r.Node, saveErr)
				}
			}
		}
	}

	events.Unsubscribe(sub)
	<-drained

	if err != nil {
		log.Fatalf("calibration failed: %v", err)
	}

	for _, r := range results {
		printResult(os.Stderr, r)
	}
}

// loadObserved reads every <node>.csv under dir into the observed map.
// A reservoir's file holds its level record, any other node's its flow.
func loadObserved(dir string) (map[string][]float64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	observed := make(map[string][]float64)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".csv")
		s, err := timeseries.LoadSeriesCSV(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("observed series %s: %w", entry.Name(), err)
		}
		observed[name] = s.Values
	}
	if len(observed) == 0 {
		return nil, fmt.Errorf("no observed series (*.csv) in %s", dir)
	}
	return observed, nil
}

func printResult(w io.Writer, r *calibrate.Result) {
	for _, res := range r.Flatten() {
		fmt.Fprintf(w, "%s: fitness %.4f (%s, %d evaluations, %s)\n",
			res.Node, res.Best.Fitness, res.Best.Stop, res.Best.Evaluations,
			res.Best.Elapsed.Round(time.Millisecond))

		params := res.Parameters()
		names := make([]string, 0, len(params))
		for name := range params {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %s = %.6g\n", name, params[name])
		}
	}
}
