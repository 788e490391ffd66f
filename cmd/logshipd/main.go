// Command logshipd is a minimal demo binary wiring config into handler: it is
// not a general-purpose log shipper, just enough process to point the handler
// package at a config file and keep it running. No flag framework beyond the
// standard library is pulled in.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/relex/gotils/logger"
	"github.com/relex/logasync-handler/config"
	"github.com/relex/logasync-handler/formatter"
	"github.com/relex/logasync-handler/handler"
)

var (
	configPath  = flag.String("config", "config.yml", "configuration file path")
	metricsAddr = flag.String("metrics-addr", ":9335", "listener address for Prometheus metrics")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		logger.Panicf("logshipd: %v", err)
	}
	tun := config.DefaultTunables()

	fmtr := formatter.NewLogstash(formatter.Options{
		Tags:        []string{"logshipd"},
		EnsureASCII: true,
		Port:        cfg.Port,
	})

	h, err := handler.New(cfg, tun, fmtr, nil)
	if err != nil {
		logger.Panicf("logshipd: failed to start handler: %v", err)
	}

	msrv := launchMetricsListener(*metricsAddr)
	logger.Infof("logshipd: started, forwarding to %s:%d over %s", cfg.Host, cfg.Port, cfg.Transport)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("logshipd: shutting down")
	h.Close()
	if err := msrv.Shutdown(context.Background()); err != nil {
		logger.Errorf("logshipd: error shutting down metrics listener: %v", err)
	}
}

func launchMetricsListener(address string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("logshipd: metrics listening on %s", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("logshipd: metrics listener error: %v", err)
		}
	}()
	return server
}
