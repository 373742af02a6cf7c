package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/joho/godotenv/autoload"
	"github.com/jrockway/rtc-segment-clock/control/clock"
	"github.com/jrockway/rtc-segment-clock/control/config"
	"github.com/jrockway/rtc-segment-clock/control/indicator"
	"github.com/jrockway/rtc-segment-clock/control/peripherals"
	"github.com/jrockway/rtc-segment-clock/control/startup"
	"github.com/jrockway/rtc-segment-clock/control/status"
	"github.com/jrockway/rtc-segment-clock/control/timesync"
	"github.com/jrockway/rtc-segment-clock/control/wifi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"golang.org/x/net/trace"
	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	if cmd.IsSet("bind") {
		cfg.Debug.Bind = cmd.String("bind")
	}
	seed, err := cfg.Time.Seed()
	if err != nil {
		return fmt.Errorf("default seed: %w", err)
	}
	log.Printf("starting")

	p, err := peripherals.Open(cfg.Hardware)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ntp := &timesync.Client{
		Server:   cfg.Time.Server,
		Interval: cfg.Time.NTPInterval,
		Timeout:  cfg.Time.NTPTimeout,
	}
	seq := &startup.Sequence{
		TimeSync: ntp,
		Acquirer: &timesync.Acquirer{
			Clock:    ntp,
			Interval: cfg.Time.PollInterval,
			Attempts: cfg.Time.Attempts,
			MinYear:  cfg.Time.MinYear,
			Location: cfg.Time.Location(),
		},
		RTC:         p.RTC,
		Display:     p.Display,
		DefaultSeed: seed,
	}
	var network *wifi.Manager
	if cfg.Network.Enabled {
		network = wifi.NewManager(&wifi.Interface{
			Name:             cfg.Network.Interface,
			AssociateTimeout: cfg.Network.AssociateTimeout,
		}, cfg.Network.MaxRetries, cfg.Network.ReconnectDelay)
		seq.Network = network
	}

	cl := clock.New(p.RTC, p.Display, cfg.Clock.RefreshPeriod)
	var result *startup.Result
	page := &status.Page{Collect: func() status.Status {
		s := status.Status{
			Now:     time.Now(),
			Startup: result,
			Reading: cl.Last(),
			Display: p.Display.Frame().Image(),
		}
		if network != nil {
			s.Network, s.Retries = network.State(), network.Retries()
		}
		s.NTP, s.NTPSynced = ntp.Last()
		return s
	}}

	// Startup is strictly sequential; a signal during it just abandons it.
	startDone := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("%v during startup", sig)
			cancel()
		case <-startDone:
		}
	}()
	result, err = seq.Run(ctx)
	close(startDone)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/status", http.StatusFound)
	})
	r.Handle("/status", page)
	r.Handle("/display.png", p.Display)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/debug/requests", trace.Traces)
	r.HandleFunc("/debug/events", trace.Events)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return cl.Run(gctx)
	})
	if p.LED != nil {
		g.Go(func() error {
			return indicator.Blink(gctx, p.LED, cfg.Clock.BlinkPeriod)
		})
	}
	if cfg.Debug.Bind != "" {
		httpServer := &http.Server{Addr: cfg.Debug.Bind, Handler: r}
		g.Go(func() error {
			log.Printf("http server listening on %s", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			tctx, c := context.WithTimeout(context.Background(), time.Second)
			defer c()
			return httpServer.Shutdown(tctx)
		})
	}
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			log.Printf("%v", sig)
			return fmt.Errorf("caught signal %v", sig)
		case <-gctx.Done():
			return nil
		}
	})

	err = g.Wait()
	// Blank the display so that someone looking at the clock can tell the program isn't running.
	if berr := p.Display.Blank(); berr != nil {
		log.Printf("blank display: %v", berr)
	}
	return err
}

func main() {
	cmd := &cli.Command{
		Name:   "run-clock",
		Usage:  "Keep a seven-segment display showing the time from a battery-backed RTC",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (see clock.example.yaml); defaults are used if empty",
				Sources: cli.EnvVars("CLOCK_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "bind",
				Usage: "Address to bind for the debug/metrics server; overrides the config file",
			},
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("run-clock: %v", err)
	}
}
