// Command reliantd runs a standalone reliability engine instance bound
// to one UDP socket, exposing Prometheus metrics over HTTP. It exists
// to exercise the engine package end to end; the multi-instance pool
// that would run several of these in one process is an external
// collaborator this binary does not implement.
package main

import (
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"reliant/config"
	"reliant/engine"
	"reliant/metrics"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load("RELIANT")
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	reg := metrics.New(cfg.MetricsNamespace)
	reg.MustRegister(prometheus.DefaultRegisterer)

	eng := engine.New(cfg, []engine.ChannelDef{}, false, reg, log)

	udpAddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		log.WithError(err).Fatal("failed to resolve listen address")
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		log.WithError(err).Fatal("failed to bind UDP socket")
	}
	defer conn.Close()
	eng.Bind(conn)

	log.WithFields(logrus.Fields{
		"addr":     cfg.ListenAddr,
		"instance": eng.ID,
	}).Info("reliantd listening")

	go serveMetrics(log)
	go receiveLoop(eng, log)

	tickLoop(eng, cfg.TickInterval)
}

func serveMetrics(log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := os.Getenv("RELIANT_METRICS_ADDR")
	if addr == "" {
		addr = ":9091"
	}
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("metrics server stopped")
	}
}

func receiveLoop(eng *engine.Engine, log *logrus.Logger) {
	for {
		result, ok := eng.Receive()
		if !ok {
			continue
		}
		if result.Code != 0 {
			log.WithFields(logrus.Fields{"addr": result.Addr, "code": result.Code}).Debug("inbound rejected")
			continue
		}
		if len(result.Payload) == 0 {
			continue
		}
		log.WithFields(logrus.Fields{
			"addr":  result.Addr,
			"bytes": len(result.Payload),
		}).Debug("delivered message")
	}
}

func tickLoop(eng *engine.Engine, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		eng.Update()
	}
}
