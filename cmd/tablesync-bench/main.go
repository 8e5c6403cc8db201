package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math"
	"net"
	"net/http"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-dev/tablesync/pkg/action"
	"github.com/vango-dev/tablesync/pkg/client"
	"github.com/vango-dev/tablesync/pkg/optimistic"
	"github.com/vango-dev/tablesync/pkg/server"
	"github.com/vango-dev/tablesync/pkg/state"
	"github.com/vango-dev/tablesync/pkg/store"
)

type profile struct {
	Name      string
	Clients   int
	Duration  time.Duration
	RPS       float64
	Broadcast time.Duration
	MaxProcs  int
}

var profiles = map[string]profile{
	"fast": {
		Name:      "fast",
		Clients:   20,
		Duration:  10 * time.Second,
		RPS:       5,
		Broadcast: 100 * time.Millisecond,
	},
	"standard": {
		Name:      "standard",
		Clients:   100,
		Duration:  30 * time.Second,
		RPS:       10,
		Broadcast: 100 * time.Millisecond,
	},
	"stress": {
		Name:      "stress",
		Clients:   300,
		Duration:  60 * time.Second,
		RPS:       20,
		Broadcast: 50 * time.Millisecond,
		MaxProcs:  4,
	},
}

type benchConfig struct {
	Profile    string
	Clients    int
	Duration   time.Duration
	RPS        float64
	Broadcast  time.Duration
	Throttle   time.Duration
	MaxProcs   int
	JSONOutput string
}

type benchCounters struct {
	editsDispatched atomic.Uint64
	editsAcked      atomic.Uint64
	connects        atomic.Uint64
	disconnects     atomic.Uint64
	syncErrors      atomic.Uint64
	dispatchErrors  atomic.Uint64
	clientsNotReady atomic.Uint64
}

func main() {
	log.SetFlags(0)

	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	if cfg.MaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcs)
	}

	logger := slog.New(slog.DiscardHandler)

	srvCfg := server.DefaultServerConfig().WithAddress("127.0.0.1:0")
	srvCfg.BroadcastInterval = cfg.Broadcast
	srvCfg.CheckOrigin = func(r *http.Request) bool { return true }
	srv := server.New(srvCfg,
		server.WithStore(store.NewMemoryStore()),
		server.WithLogger(logger),
	)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	serveCtx, stopServe := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(serveCtx, ln)
	}()

	wsURL := "ws://" + ln.Addr().String() + "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var (
		counters benchCounters
		samples  []time.Duration
		mu       sync.Mutex
	)
	record := func(rtt time.Duration) {
		mu.Lock()
		samples = append(samples, rtt)
		mu.Unlock()
	}

	var before runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(cfg.Clients)
	for i := 0; i < cfg.Clients; i++ {
		go func() {
			defer wg.Done()
			runClient(ctx, wsURL, cfg, logger, &counters, record)
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	hub := srv.Metrics()
	stopServe()
	if err := <-serveErr; err != nil {
		log.Printf("server: %v", err)
	}

	var after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&after)

	mu.Lock()
	latencies := append([]time.Duration(nil), samples...)
	mu.Unlock()
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	report := buildReport(cfg, elapsed, latencies, &counters, hub, before, after)
	writeSummary(os.Stderr, report)
	if err := writeJSON(cfg.JSONOutput, report); err != nil {
		log.Fatalf("write json: %v", err)
	}
}

func parseConfig(args []string) (benchConfig, error) {
	fs := flag.NewFlagSet("tablesync-bench", flag.ContinueOnError)
	profileFlag := fs.String("profile", "standard", "profile: fast|standard|stress")
	clientsFlag := fs.Int("clients", -1, "number of concurrent clients")
	durationFlag := fs.String("duration", "", "benchmark duration, e.g. 30s")
	rpsFlag := fs.Float64("rps", -1, "target edits/sec per client")
	broadcastFlag := fs.String("broadcast", "", "server broadcast interval, e.g. 100ms")
	throttleFlag := fs.String("throttle", "0s", "dispatcher throttle per edit")
	maxProcsFlag := fs.Int("max-procs", -1, "GOMAXPROCS cap (0 to leave unchanged)")
	jsonFlag := fs.String("json", "-", "JSON output path ('-' for stdout)")
	if err := fs.Parse(args); err != nil {
		return benchConfig{}, err
	}

	name := strings.ToLower(strings.TrimSpace(*profileFlag))
	if name == "" {
		name = "standard"
	}
	base, ok := profiles[name]
	if !ok {
		return benchConfig{}, fmt.Errorf("unknown profile %q", name)
	}

	cfg := benchConfig{
		Profile:    base.Name,
		Clients:    base.Clients,
		Duration:   base.Duration,
		RPS:        base.RPS,
		Broadcast:  base.Broadcast,
		MaxProcs:   base.MaxProcs,
		JSONOutput: strings.TrimSpace(*jsonFlag),
	}

	if *clientsFlag != -1 {
		cfg.Clients = *clientsFlag
	}
	if *rpsFlag != -1 {
		cfg.RPS = *rpsFlag
	}
	if *maxProcsFlag != -1 {
		cfg.MaxProcs = *maxProcsFlag
	}
	for _, d := range []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"-duration", *durationFlag, &cfg.Duration},
		{"-broadcast", *broadcastFlag, &cfg.Broadcast},
		{"-throttle", *throttleFlag, &cfg.Throttle},
	} {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return benchConfig{}, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}
	if cfg.JSONOutput == "" {
		cfg.JSONOutput = "-"
	}

	if cfg.Clients <= 0 {
		return benchConfig{}, errors.New("-clients must be > 0")
	}
	if cfg.Duration <= 0 {
		return benchConfig{}, errors.New("-duration must be > 0")
	}
	if cfg.RPS <= 0 {
		return benchConfig{}, errors.New("-rps must be > 0")
	}
	if cfg.Broadcast <= 0 {
		return benchConfig{}, errors.New("-broadcast must be > 0")
	}
	if cfg.Throttle < 0 {
		return benchConfig{}, errors.New("-throttle must be >= 0")
	}
	if cfg.MaxProcs < 0 {
		return benchConfig{}, errors.New("-max-procs must be >= 0")
	}
	return cfg, nil
}

// runClient connects one engine, adds its own character and edits its HP
// at cfg.RPS until ctx is done. Each sample is the time from dispatch until
// the server acknowledged the edit.
func runClient(ctx context.Context, url string, cfg benchConfig, logger *slog.Logger, counters *benchCounters, record func(time.Duration)) {
	engine := client.NewEngine(client.WithLogger(logger))
	if err := engine.Start(); err != nil {
		counters.clientsNotReady.Add(1)
		return
	}
	defer engine.Stop()

	var (
		mu       sync.Mutex
		inFlight = make(map[optimistic.UpdateID]time.Time)
	)
	engine.Subscribe(func(state.State) {
		pending := make(map[optimistic.UpdateID]bool)
		for _, u := range engine.Pending() {
			pending[u.ID] = true
		}
		now := time.Now()
		mu.Lock()
		for id, sent := range inFlight {
			if !pending[id] {
				delete(inFlight, id)
				counters.editsAcked.Add(1)
				record(now.Sub(sent))
			}
		}
		mu.Unlock()
	})
	engine.OnError(func(error) {
		counters.syncErrors.Add(1)
	})

	transport := client.NewTransport(engine, client.TransportConfig{
		URL:    url,
		Logger: logger,
		OnConnect: func() {
			counters.connects.Add(1)
		},
		OnDisconnect: func(error) {
			counters.disconnects.Add(1)
		},
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = transport.Run(ctx)
	}()
	defer func() { <-done }()

	if !waitSynced(ctx, engine) {
		counters.clientsNotReady.Add(1)
		return
	}

	id := state.NewID("character")
	d := engine.NewDispatcher()
	defer d.Close()
	dispatch := func(key string, build func(state.State) []action.Action) {
		uid, err := d.Dispatch(key, cfg.Throttle, build)
		if err != nil {
			counters.dispatchErrors.Add(1)
			return
		}
		counters.editsDispatched.Add(1)
		mu.Lock()
		if _, ok := inFlight[uid]; !ok {
			inFlight[uid] = time.Now()
		}
		mu.Unlock()
	}

	dispatch("add", func(state.State) []action.Action {
		return []action.Action{action.AddCharacter(state.Character{ID: id, Name: "bench", HP: 100, MaxHP: 100, Scale: 1})}
	})

	ticker := time.NewTicker(time.Duration(float64(time.Second) / cfg.RPS))
	defer ticker.Stop()
	hp := 100
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hp = hp%100 + 1
			v := hp
			dispatch("hp", func(state.State) []action.Action {
				return []action.Action{action.UpdateCharacter(action.NewUpdate(id, map[string]any{"hp": v}))}
			})
		}
	}
}

func waitSynced(ctx context.Context, e *client.Engine) bool {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for !e.Synced() {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

type benchReport struct {
	Version    string         `json:"version"`
	Run        runInfo        `json:"run"`
	Workload   workloadInfo   `json:"workload"`
	LatencyMS  latencyInfo    `json:"latency_ms"`
	Throughput throughputInfo `json:"throughput"`
	GC         gcInfo         `json:"gc"`
	Server     serverInfo     `json:"server"`
	Errors     errorInfo      `json:"errors"`
}

type runInfo struct {
	Timestamp string `json:"timestamp"`
	Go        string `json:"go"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	CPUCount  int    `json:"cpu_count"`
}

type workloadInfo struct {
	Profile      string  `json:"profile"`
	Clients      int     `json:"clients"`
	DurationMS   int64   `json:"duration_ms"`
	RPSPerClient float64 `json:"rps_per_client"`
	BroadcastMS  int64   `json:"broadcast_ms"`
	ThrottleMS   int64   `json:"throttle_ms"`
	MaxProcs     int     `json:"max_procs"`
}

type latencyInfo struct {
	Min float64 `json:"min"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

type throughputInfo struct {
	EditsDispatched   uint64  `json:"edits_dispatched"`
	EditsAcked        uint64  `json:"edits_acked"`
	EditsPerSec       float64 `json:"edits_per_sec"`
	EditsPerSecClient float64 `json:"edits_per_sec_per_client"`
}

type gcInfo struct {
	AllocMB      float64 `json:"alloc_mb"`
	HeapLiveMB   float64 `json:"heap_live_mb"`
	NumGC        uint32  `json:"num_gc"`
	PauseTotalMS float64 `json:"pause_total_ms"`
}

type serverInfo struct {
	TotalSessions    int64   `json:"total_sessions"`
	ActionsApplied   int64   `json:"actions_applied"`
	ActionsFailed    int64   `json:"actions_failed"`
	DuplicateUpdates int64   `json:"duplicate_updates"`
	PatchesSent      int64   `json:"patches_sent"`
	Resyncs          int64   `json:"resyncs"`
	BytesSent        int64   `json:"bytes_sent"`
	AvgPatchBytes    float64 `json:"avg_patch_bytes"`
}

type errorInfo struct {
	ClientsNotReady uint64 `json:"clients_not_ready"`
	Disconnects     uint64 `json:"disconnects"`
	SyncErrors      uint64 `json:"sync_errors"`
	DispatchErrors  uint64 `json:"dispatch_errors"`
}

func buildReport(
	cfg benchConfig,
	elapsed time.Duration,
	latencies []time.Duration,
	counters *benchCounters,
	hub *server.HubMetrics,
	before runtime.MemStats,
	after runtime.MemStats,
) benchReport {
	acked := counters.editsAcked.Load()
	elapsedSeconds := math.Max(0.001, elapsed.Seconds())
	editsPerSec := float64(acked) / elapsedSeconds

	latency := latencyInfo{}
	if len(latencies) > 0 {
		latency = latencyInfo{
			Min: ms(latencies[0]),
			P50: ms(percentile(latencies, 0.50)),
			P95: ms(percentile(latencies, 0.95)),
			P99: ms(percentile(latencies, 0.99)),
			Max: ms(latencies[len(latencies)-1]),
		}
	}

	frames := hub.PatchesSent + hub.SetStatesSent
	avgPatchBytes := 0.0
	if frames > 0 {
		avgPatchBytes = float64(hub.BytesSent) / float64(frames)
	}

	return benchReport{
		Version: "1",
		Run: runInfo{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Go:        runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			CPUCount:  runtime.NumCPU(),
		},
		Workload: workloadInfo{
			Profile:      cfg.Profile,
			Clients:      cfg.Clients,
			DurationMS:   cfg.Duration.Milliseconds(),
			RPSPerClient: cfg.RPS,
			BroadcastMS:  cfg.Broadcast.Milliseconds(),
			ThrottleMS:   cfg.Throttle.Milliseconds(),
			MaxProcs:     cfg.MaxProcs,
		},
		LatencyMS: latency,
		Throughput: throughputInfo{
			EditsDispatched:   counters.editsDispatched.Load(),
			EditsAcked:        acked,
			EditsPerSec:       editsPerSec,
			EditsPerSecClient: editsPerSec / float64(cfg.Clients),
		},
		GC: gcInfo{
			AllocMB:      float64(after.TotalAlloc-before.TotalAlloc) / (1024 * 1024),
			HeapLiveMB:   float64(after.HeapAlloc) / (1024 * 1024),
			NumGC:        after.NumGC - before.NumGC,
			PauseTotalMS: ms(time.Duration(after.PauseTotalNs - before.PauseTotalNs)),
		},
		Server: serverInfo{
			TotalSessions:    hub.TotalSessions,
			ActionsApplied:   hub.ActionsApplied,
			ActionsFailed:    hub.ActionsFailed,
			DuplicateUpdates: hub.DuplicateUpdates,
			PatchesSent:      hub.PatchesSent,
			Resyncs:          hub.Resyncs,
			BytesSent:        hub.BytesSent,
			AvgPatchBytes:    avgPatchBytes,
		},
		Errors: errorInfo{
			ClientsNotReady: counters.clientsNotReady.Load(),
			Disconnects:     counters.disconnects.Load(),
			SyncErrors:      counters.syncErrors.Load(),
			DispatchErrors:  counters.dispatchErrors.Load(),
		},
	}
}

func writeSummary(w io.Writer, report benchReport) {
	fmt.Fprintln(w, "=== tablesync Load Benchmark ===")
	fmt.Fprintf(w, "Profile: %s\n", report.Workload.Profile)
	fmt.Fprintf(w, "Clients: %d\n", report.Workload.Clients)
	fmt.Fprintf(w, "Duration: %s\n", time.Duration(report.Workload.DurationMS)*time.Millisecond)
	fmt.Fprintf(w, "Target per-client rate: %.2f edits/s\n", report.Workload.RPSPerClient)
	fmt.Fprintf(w, "Broadcast interval: %dms\n", report.Workload.BroadcastMS)
	if report.Workload.MaxProcs > 0 {
		fmt.Fprintf(w, "GOMAXPROCS cap: %d\n", report.Workload.MaxProcs)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Edits: %d dispatched, %d acknowledged\n", report.Throughput.EditsDispatched, report.Throughput.EditsAcked)
	fmt.Fprintf(w, "Throughput: %.1f edits/s (%.2f per client)\n", report.Throughput.EditsPerSec, report.Throughput.EditsPerSecClient)
	fmt.Fprintf(w, "Server: %d actions applied, %d failed, %d duplicates, %d resyncs\n",
		report.Server.ActionsApplied, report.Server.ActionsFailed, report.Server.DuplicateUpdates, report.Server.Resyncs)
	fmt.Fprintln(w)

	if report.LatencyMS.Max == 0 {
		fmt.Fprintln(w, "No latency samples recorded.")
	} else {
		fmt.Fprintln(w, "Acknowledgement latency (dispatch -> server apply -> patch received):")
		fmt.Fprintf(w, "  min: %.2f ms\n", report.LatencyMS.Min)
		fmt.Fprintf(w, "  p50: %.2f ms\n", report.LatencyMS.P50)
		fmt.Fprintf(w, "  p95: %.2f ms\n", report.LatencyMS.P95)
		fmt.Fprintf(w, "  p99: %.2f ms\n", report.LatencyMS.P99)
		fmt.Fprintf(w, "  max: %.2f ms\n", report.LatencyMS.Max)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Go runtime / GC (process-wide):")
	fmt.Fprintf(w, "  alloc:     %.2f MB\n", report.GC.AllocMB)
	fmt.Fprintf(w, "  heap_live: %.2f MB\n", report.GC.HeapLiveMB)
	fmt.Fprintf(w, "  num_gc:    %d\n", report.GC.NumGC)
	fmt.Fprintf(w, "  gc_pause:  %.2f ms (total)\n", report.GC.PauseTotalMS)
}

func writeJSON(path string, report benchReport) error {
	var out io.Writer
	if path == "-" {
		out = os.Stdout
	} else {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
