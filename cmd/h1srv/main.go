// Command h1srv wires the connection engine to a raw TCP listener: one
// ConnectionEngine per accepted connection, a minimal demo Channel, and the
// ambient config/metrics stack (SPEC_FULL.md §3, EXPANSION 3). It exists to
// give every package in this module a runnable entry point, not as a
// production server.
package main

import (
	"flag"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/badu/h1engine/config"
	"github.com/badu/h1engine/engine"
	"github.com/badu/h1engine/h2clink"
	"github.com/badu/h1engine/metrics"
	"github.com/badu/h1engine/pool"
	"github.com/badu/h1engine/transport"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	metricsAddr := flag.String("metrics-addr", ":9090", "prometheus /metrics listen address")
	configPath := flag.String("config", "", "path to a JSON config file (hot-reloaded); empty uses built-in defaults")
	enableH2C := flag.Bool("h2c", true, "accept cleartext HTTP/2 upgrades")
	flag.Parse()

	log, _ := zap.NewProduction()
	defer log.Sync()

	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg, "h1srv")
	bufMetrics := metrics.NewPoolMetrics(reg, "h1srv", "buffers")
	bufPool := pool.NewSizedPoolWithMetrics(bufMetrics)
	headerPool := pool.NewScratchPool(bufMetrics, -2)
	chunkPool := pool.NewScratchPool(bufMetrics, -3)

	var cfgSource func() *config.Config
	if *configPath != "" {
		w, err := config.NewWatcher(*configPath, log)
		if err != nil {
			log.Fatal("config watcher", zap.Error(err))
		}
		cfgSource = w.Current
	} else {
		cfgSource = config.Default
	}

	ch := &echoChannel{log: log}

	opt := engine.Options{
		Channel:    ch,
		Config:     cfgSource,
		BufPool:    bufPool,
		HeaderPool: headerPool,
		ChunkPool:  chunkPool,
		Log:        log,
		Recorder:   rec,
	}
	if *enableH2C {
		opt.H2C = h2clink.New(ch, log)
	}

	go serveMetrics(*metricsAddr, reg, log)
	serve(*addr, opt, log)
}

func serve(addr string, opt engine.Options, log *zap.Logger) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal("listen", zap.Error(err))
	}
	log.Info("h1srv listening", zap.String("addr", addr))

	lt, ok := ln.(*net.TCPListener)
	if !ok {
		log.Fatal("listener is not TCP")
	}
	listener := keepAliveListener{lt}

	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Warn("accept", zap.Error(err))
			continue
		}
		ep := transport.NewConnEndpoint(conn, false)
		ce := engine.NewConnectionEngine(ep, opt)
		idle := opt.Config().IdleTimeout
		if idle > 0 {
			time.AfterFunc(idle, ce.OnReadTimeout)
		}
		go ce.OnReadable()
	}
}

// keepAliveListener sets TCP keep-alives on every accepted connection, the
// same defense the teacher's tcpKeepAliveListener applies against dead
// peers an idle-timeout alone wouldn't catch quickly.
type keepAliveListener struct {
	*net.TCPListener
}

func (l keepAliveListener) Accept() (net.Conn, error) {
	conn, err := l.AcceptTCP()
	if err != nil {
		return nil, err
	}
	conn.SetKeepAlive(true)
	conn.SetKeepAlivePeriod(3 * time.Minute)
	return conn, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Info("metrics listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("metrics server stopped", zap.Error(err))
	}
}
