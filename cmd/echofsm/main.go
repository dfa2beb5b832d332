package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EchoPBX/echofsm/internal/config"
	"github.com/EchoPBX/echofsm/internal/dispenser"
	"github.com/EchoPBX/echofsm/internal/events"
	"github.com/EchoPBX/echofsm/internal/httpserver"
	"github.com/EchoPBX/echofsm/internal/logging"
	"github.com/EchoPBX/echofsm/internal/metrics"
	"github.com/EchoPBX/echofsm/internal/reloader"
	"github.com/EchoPBX/echofsm/internal/sinks"
	"github.com/EchoPBX/echofsm/internal/upstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	demo := flag.Bool("demo", false, "run the follower and candy dispenser walkthroughs and exit")
	flag.Parse()

	if *demo {
		if err := runDemo(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfgPath := os.Getenv("ECHOFSM_CONFIG")
	if cfgPath == "" {
		cfgPath = "/etc/echofsm/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}

	logger, level := logging.New(logging.Cfg{
		Level: cfg.Logging.Level,
		JSON:  cfg.Logging.JSON,
	})
	defer logger.Sync()

	fmt.Println(`
           _          __
  ___  ___| |__   ___/ _|___ _ __ ___
 / _ \/ __| '_ \ / _ \ |_/ __| '_ \ _ \
|  __/ (__| | | | (_) |  _\__ \ | | | | |
 \___|\___|_| |_|\___/|_| |___/_| |_| |_|

echofsm: event bus and state machine gateway
--------------------------------------------
Config:  ` + cfgPath + `
`)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	bus := events.NewBus(events.WithLogger(logger.Named("bus")), events.WithMetrics(m))
	for _, sc := range cfg.Subscribers {
		sink, err := sinks.ByName(sc.Sink, sc.ID, logger.Named("display"), os.Stdout)
		if err != nil {
			logger.Fatal("subscriber sink", zap.String("subscriber", sc.ID), zap.Error(err))
		}
		sub := events.NewSubscriber(sc.ID, sink,
			events.WithConnected(sc.Connected),
			events.WithBufferLimit(sc.BufferLimit))
		if err := bus.Register(sub); err != nil {
			logger.Fatal("register subscriber", zap.Error(err))
		}
	}

	disp, err := dispenser.New(cfg.Dispenser.Stock,
		dispenser.WithLogger(logger),
		dispenser.WithBus(bus),
		dispenser.WithMetrics(m))
	if err != nil {
		logger.Fatal("dispenser", zap.Error(err))
	}

	srv, err := httpserver.New(cfg, logger.Named("http"), bus, disp, httpserver.WithGatherer(reg))
	if err != nil {
		logger.Fatal("http server", zap.Error(err))
	}
	up := upstream.NewClient(cfg, logger.Named("upstream"), bus)

	ctx, cancel := context.WithCancel(context.Background())
	go up.Run(ctx)

	reloader.OnSIGHUP(ctx, func() {
		newCfg, err := config.Load(cfgPath)
		if err != nil {
			logger.Warn("config reload failed", zap.Error(err))
			return
		}
		if !logging.SetLevel(level, newCfg.Logging.Level) {
			logger.Warn("invalid log level", zap.String("level", newCfg.Logging.Level))
		}
		if err := srv.Reload(newCfg); err != nil {
			logger.Warn("http reload failed", zap.Error(err))
			return
		}
		up.Reload(newCfg)
		logger.Info("reloaded config")
	})

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Bind, cfg.HTTP.Port)
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv.Router(),
	}

	go func() {
		logger.Info("listening", zap.String("addr", addr), zap.Bool("tls", cfg.HTTP.TLS.Enabled))
		var err error
		if cfg.HTTP.TLS.Enabled {
			err = httpSrv.ListenAndServeTLS(cfg.HTTP.TLS.Cert, cfg.HTTP.TLS.Key)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down...")
	cancel()
	up.Close()

	ctxTimeout, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = httpSrv.Shutdown(ctxTimeout)
	logger.Info("bye", zap.Int("subscribers", bus.Len()), zap.String("dispenser", string(disp.State())))
}
