package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bytegrader/bgctl/pkg/client"
	"github.com/bytegrader/bgctl/pkg/exporter"
	"github.com/bytegrader/bgctl/pkg/logging"
	"github.com/bytegrader/bgctl/pkg/shutdown"
	"github.com/bytegrader/bgctl/pkg/version"
)

const defaultListenAddr = ":9510"

func main() {
	var (
		serverURL      = flag.String("server", os.Getenv("BYTEGRADER_SERVER_URL"), "ByteGrader server URL")
		apiKey         = flag.String("api-key", os.Getenv("BYTEGRADER_API_KEY"), "ByteGrader API key")
		username       = flag.String("username", os.Getenv("BYTEGRADER_USERNAME"), "username sent with queue requests")
		listenAddr     = flag.String("listen", defaultListenAddr, "metrics listen address")
		scrapeInterval = flag.Duration("scrape-interval", 30*time.Second, "how often to scrape /queue")
		logLevel       = flag.String("log-level", "info", "log level: debug, info, warn, error")
		jsonLogs       = flag.Bool("json-logs", false, "emit logs as JSON")
		showVersion    = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("bgexporter %s (commit %s, built %s)\n", version.ClientVersion, version.GitCommit, version.BuildTime)
		return
	}

	logger := logging.New(logging.ParseLevel(*logLevel), *jsonLogs).WithField("component", "bgexporter")

	if *serverURL == "" || *apiKey == "" {
		logger.Error("server URL and API key are required (flags or BYTEGRADER_SERVER_URL / BYTEGRADER_API_KEY)")
		os.Exit(1)
	}

	bg := client.New(*serverURL, *apiKey, client.WithLogger(logger))

	registry := prometheus.NewRegistry()
	exp := exporter.New(bg, *username, *scrapeInterval, registry, logger)

	ctx, cancel := context.WithCancel(context.Background())

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	}).Methods(http.MethodGet)

	server := &http.Server{
		Addr:    *listenAddr,
		Handler: router,
	}

	manager := shutdown.New(10*time.Second, func(err error) {
		logger.Error("shutdown error", map[string]interface{}{"error": err.Error()})
	})
	manager.Register(func(ctx context.Context) error {
		cancel()
		return server.Shutdown(ctx)
	})

	go func() {
		logger.Info("serving metrics", map[string]interface{}{
			"listen":   *listenAddr,
			"server":   bg.BaseURL(),
			"interval": scrapeInterval.String(),
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
	}()

	go exp.Run(ctx)

	manager.Wait()
	logger.Info("exporter stopped")
}
