package net

import (
	"encoding/json"
	nethttp "net/http"
	"net/http/pprof"
	"time"

	"github.com/gsharad007/spacerama/internal/net/ws"
	"github.com/gsharad007/spacerama/internal/telemetry"
	"github.com/gsharad007/spacerama/logging"
)

type HTTPHandlerConfig struct {
	TickRate int
	Logger   telemetry.Logger
	// Metrics is the in-process counter table reported by /diagnostics.
	Metrics *logging.Metrics
	// Sessions reports the state of sessions hosted by this process.
	Sessions         func() any
	EnablePprofTrace bool
}

// NewHTTPHandler mounts the health, diagnostics and relay endpoints.
func NewHTTPHandler(relay *ws.Handler, cfg HTTPHandlerConfig) nethttp.Handler {
	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}

		payload := struct {
			Status     string            `json:"status"`
			ServerTime int64             `json:"serverTime"`
			TickRate   int               `json:"tickRate"`
			Peers      []string          `json:"peers"`
			Sessions   any               `json:"sessions,omitempty"`
			Telemetry  map[string]uint64 `json:"telemetry"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			TickRate:   cfg.TickRate,
			Peers:      []string{},
			Telemetry:  cfg.Metrics.Snapshot(),
		}
		if relay != nil {
			payload.Peers = relay.Peers()
		}
		if cfg.Sessions != nil {
			payload.Sessions = cfg.Sessions()
		}

		data, err := json.Marshal(payload)
		if err != nil {
			if cfg.Logger != nil {
				cfg.Logger.Printf("failed to encode diagnostics: %v", err)
			}
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	if relay != nil {
		mux.HandleFunc("/ws", relay.Handle)
	}

	if cfg.EnablePprofTrace {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return mux
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
