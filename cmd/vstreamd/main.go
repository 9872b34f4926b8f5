// Command vstreamd runs both reassembly engines against live UDP sockets,
// registers each running reader as a session, and exposes their status and
// reception statistics over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/aeroframe/vstream/fragstream"
	"github.com/aeroframe/vstream/internal/udpmanager"
	"github.com/aeroframe/vstream/metrics"
	"github.com/aeroframe/vstream/rtpstream"
	"github.com/aeroframe/vstream/session"
	"github.com/aeroframe/vstream/statusfeed"
)

const metricsPollInterval = 5 * time.Second

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := loadConfig()
	if cfg.sessionKey == "" {
		cfg.sessionKey = uuid.NewString()
		slog.Info("no session key configured, generated one", "key", cfg.sessionKey)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("vstreamd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config) error {
	registry := session.NewRegistry(nil)
	hub := statusfeed.NewHub(nil)
	reg := prometheus.NewRegistry()
	bridge := metrics.NewBridge(reg, nil)

	fragMgr, err := udpmanager.New(cfg.dataAddr, cfg.ackAddr)
	if err != nil {
		return fmt.Errorf("engine A: %w", err)
	}
	defer fragMgr.Close()

	fragCallback, fragKey := newFragCallback(hub, cfg.sessionKey)
	fragReader, err := fragstream.New(fragMgr, 0, 0, fragCallback, make([]byte, 64*1024), slog.Default())
	if err != nil {
		return fmt.Errorf("engine A: %w", err)
	}
	if _, ok := registry.Create(fragKey, session.EngineFragstream, fragReader.Stop); !ok {
		return fmt.Errorf("engine A: session key %q already in use", fragKey)
	}

	rtpAddr, rtpPort, err := splitHostPort(cfg.rtpAddr)
	if err != nil {
		return fmt.Errorf("engine B: %w", err)
	}
	rtpKey := cfg.sessionKey + "-rtp"
	rtpCallback := newRTPCallback(hub, rtpKey)
	rtpReader, err := rtpstream.New(rtpstream.Config{
		RecvAddr:         rtpAddr,
		RecvPort:         rtpPort,
		RecvTimeoutSec:   5,
		InsertStartCodes: true,
		NaluCallback:     rtpCallback,
	}, make([]byte, 256*1024), rtpKey, slog.Default())
	if err != nil {
		return fmt.Errorf("engine B: %w", err)
	}
	if _, ok := registry.Create(rtpKey, session.EngineRTPStream, rtpReader.Stop); !ok {
		return fmt.Errorf("engine B: session key %q already in use", rtpKey)
	}
	bridge.Track(rtpKey, rtpReader)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", hub.ServeHTTP)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		for _, s := range registry.List() {
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.Key, s.Engine, s.StartedAt.Format(time.RFC3339))
		}
	})

	apiSrv := &http.Server{
		Addr:    cfg.apiAddr,
		Handler: mux,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return fragReader.RunDataWorker(ctx)
	})
	g.Go(func() error {
		return fragReader.RunAckWorker(ctx)
	})
	g.Go(func() error {
		return rtpReader.RunRecvWorker(ctx)
	})
	g.Go(func() error {
		return rtpReader.RunSendWorker(ctx)
	})
	g.Go(func() error {
		return bridge.Run(ctx, metricsPollInterval)
	})

	g.Go(func() error {
		slog.Info("API server listening", "addr", cfg.apiAddr)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return apiSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		<-ctx.Done()
		fragReader.Stop()
		rtpReader.Stop()
		return nil
	})

	slog.Info("vstreamd starting",
		"data_addr", cfg.dataAddr,
		"ack_addr", cfg.ackAddr,
		"rtp_addr", cfg.rtpAddr,
		"api_addr", cfg.apiAddr,
		"session_key", cfg.sessionKey,
	)

	err = g.Wait()
	bridge.Untrack(rtpKey)
	registry.Remove(fragKey)
	registry.Remove(rtpKey)
	return err
}

// newFragCallback returns a buffer-handoff callback for Engine A that grows
// buffers on request, publishes a status event per completed frame, and
// hands the same buffer back for the next frame.
func newFragCallback(hub *statusfeed.Hub, key string) (fragstream.Callback, string) {
	return func(ev fragstream.Event) fragstream.Result {
		switch ev.Cause {
		case fragstream.CauseFrameComplete:
			hub.Publish(statusfeed.Event{
				SessionKey: key,
				Kind:       "frame_complete",
				Size:       ev.Size,
				Missed:     int(ev.MissedFrames),
				Time:       time.Now(),
			})
			return fragstream.Result{Buffer: ev.Buffer}
		case fragstream.CauseFrameTooSmall:
			return fragstream.Result{Buffer: make([]byte, ev.RequestedCapacity)}
		default:
			return fragstream.Result{}
		}
	}, key
}

// newRTPCallback returns a buffer-handoff callback for Engine B that grows
// buffers on request and publishes a status event per completed NAL unit.
func newRTPCallback(hub *statusfeed.Hub, key string) rtpstream.Callback {
	return func(ev rtpstream.Event) rtpstream.Result {
		switch ev.Cause {
		case rtpstream.CauseNALUComplete:
			hub.Publish(statusfeed.Event{
				SessionKey: key,
				Kind:       "nalu_complete",
				Size:       ev.Size,
				Missed:     int(ev.GapsInSeqNum),
				Time:       time.Now(),
			})
			return rtpstream.Result{Buffer: ev.Buffer}
		case rtpstream.CauseNALUBufferTooSmall:
			return rtpstream.Result{Buffer: make([]byte, ev.RequestedCapacity)}
		default:
			return rtpstream.Result{}
		}
	}
}

// splitHostPort parses an "addr:port" or ":port" listen address into the
// separate RecvAddr/RecvPort fields rtpstream.Config expects.
func splitHostPort(addr string) (host string, port int, err error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid rtp address %q: %w", addr, err)
	}
	port, err = strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid rtp port in %q: %w", addr, err)
	}
	return host, port, nil
}
