// Command linefollow runs the line-following task daemon: it talks to the
// vehicle bridge over a serial link and serves the task to supervisors over
// NATS and HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/harshv834/auv/internal/api"
	"github.com/harshv834/auv/internal/config"
	"github.com/harshv834/auv/internal/db"
	"github.com/harshv834/auv/internal/monitoring"
	"github.com/harshv834/auv/internal/motion"
	"github.com/harshv834/auv/internal/perception"
	"github.com/harshv834/auv/internal/serialmux"
	"github.com/harshv834/auv/internal/sim"
	"github.com/harshv834/auv/internal/supervisor"
	"github.com/harshv834/auv/internal/task"
	"github.com/harshv834/auv/internal/timeutil"
	"github.com/harshv834/auv/internal/vehicle"
	"github.com/harshv834/auv/internal/version"
)

var (
	configPath    = flag.String("config", "", "Path to a JSON config file (defaults apply when empty)")
	devMode       = flag.Bool("dev", false, "Drive a simulated vehicle instead of the serial bridge")
	disableBridge = flag.Bool("disable-bridge", false, "Run without a bridge (no serial port)")
	listen        = flag.String("listen", "", "HTTP listen address (overrides config)")
	port          = flag.String("port", "", "Serial port (overrides config, ignored in dev mode)")
	dbPath        = flag.String("db", "", "Run log database path (overrides config)")
	natsURL       = flag.String("nats", "", "NATS URL for the supervisor interface (overrides config)")
	exitOnAbort   = flag.Bool("exit-on-abort", true, "Exit non-zero after an aborted run")
	showVersion   = flag.Bool("version", false, "Print the version and exit")
)

// failFast stops the daemon after an aborted run.
type failFast struct {
	task.NopObserver
	stop    context.CancelFunc
	aborted atomic.Bool
}

func (f *failFast) RunFinished(runID string, out task.Outcome) {
	if out.Phase != task.Aborted {
		return
	}
	log.Printf("run %s aborted: %v; shutting down", runID, out.Err)
	f.aborted.Store(true)
	f.stop()
}

func loadConfig() *config.Config {
	cfg := &config.Config{}
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	if *listen != "" {
		cfg.Listen = listen
	}
	if *port != "" {
		cfg.SerialPort = port
	}
	if *dbPath != "" {
		cfg.RunLogPath = dbPath
	}
	if *natsURL != "" {
		cfg.NATSURL = natsURL
	}
	return cfg
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags]\n       %s [flags] migrate <command>\n\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg := loadConfig()

	if flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], cfg.GetRunLogPath(), os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}
	if flag.NArg() > 0 {
		flag.Usage()
		os.Exit(2)
	}

	if cfg.GetListen() == "" {
		log.Fatal("Listen address is required")
	}
	log.Printf("linefollow %s", version.String())

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var bridge serialmux.SerialMuxInterface
	linkUp := true
	switch {
	case *devMode:
		v := sim.NewVehicle(cfg.SimConfig())
		bridge = serialmux.NewSerialMux(v)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := v.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("simulator stopped: %v", err)
			}
		}()
		log.Printf("dev mode: driving simulated vehicle")
	case *disableBridge:
		bridge = serialmux.NewDisabledSerialMux()
		linkUp = false
		log.Printf("bridge disabled: goals will not reach the vehicle")
	default:
		var err error
		bridge, err = serialmux.NewRealSerialMux(cfg.GetSerialPort(), cfg.GetSerialOptions())
		if err != nil {
			log.Fatalf("failed to open bridge port %s: %v", cfg.GetSerialPort(), err)
		}
	}
	defer bridge.Close()

	runLog, err := db.NewDB(cfg.GetRunLogPath())
	if err != nil {
		log.Fatalf("Failed to open run log: %v", err)
	}
	defer runLog.Close()

	metrics := monitoring.NewMetrics()
	listener := perception.NewListener()
	link := vehicle.NewLink(bridge, listener, vehicle.WithMetrics(metrics))
	axes := motion.NewSet(link)
	link.BindMotion(axes)

	health := api.NewHealth()
	recorder := db.NewRecorder(runLog, timeutil.RealClock{})
	recorder.SampleEvery = cfg.GetSampleEvery()

	ctrl := task.NewController(listener, axes, perception.NewSwitches(link),
		task.WithParams(cfg.TaskParams()),
		task.WithObserver(task.NewMetricsObserver(metrics)),
		task.WithObserver(recorder),
		task.WithObserver(health),
	)
	ff := &failFast{stop: stop}
	if *exitOnAbort {
		ctrl.AddObserver(ff)
	}
	tasks := task.NewServer(ctrl)

	// serial IO
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bridge.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor bridge port: %v", err)
			health.SetLinkUp(false)
		}
		log.Print("monitor routine terminated")
	}()

	// inbound routing
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := link.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("link stopped: %v", err)
		}
		health.SetLinkUp(false)
		log.Print("link routine terminated")
	}()

	if linkUp {
		if err := link.Initialise(version.Version); err != nil {
			log.Fatalf("failed to initialise bridge: %v", err)
		}
		health.SetLinkUp(true)
	}

	if url := cfg.GetNATSURL(); url != "" {
		nc, err := nats.Connect(url, nats.Name("linefollow"))
		if err != nil {
			log.Fatalf("failed to connect to NATS at %s: %v", url, err)
		}
		defer nc.Close()
		b := supervisor.NewBridge(nc, tasks, cfg.GetNATSPrefix())
		if err := b.Start(ctx); err != nil {
			log.Fatalf("failed to start supervisor bridge: %v", err)
		}
		log.Printf("supervisor interface on %s.*", cfg.GetNATSPrefix())
	}

	if addr := cfg.GetGRPCListen(); addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := health.ServeGRPC(ctx, addr); err != nil {
				log.Printf("gRPC health server error: %v", err)
			}
			log.Printf("gRPC health routine stopped")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(tasks, ctrl, runLog, link).ServeMux()
		bridge.AttachAdminRoutes(mux)
		if err := runLog.AttachAdminRoutes(mux); err != nil {
			log.Printf("run log admin routes unavailable: %v", err)
		}

		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	<-ctx.Done()

	// Preempt any active run so its cancels reach the bridge before the
	// port closes.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := tasks.Shutdown(shutdownCtx); err != nil {
		log.Printf("task server shutdown: %v", err)
	}
	cancel()
	bridge.Close()

	wg.Wait()
	log.Printf("Graceful shutdown complete")

	if ff.aborted.Load() {
		runLog.Close()
		os.Exit(1)
	}
}
