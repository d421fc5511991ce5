// Package statusapi is the ambient observability surface (spec's ambient
// stack): a plain JSON status endpoint plus pprof, served over h2c the same
// way the teacher's connect-rpc API server was, minus any RPC framework —
// this repository has no generated schema to serve, only volume/watermark
// state and profiling.
package statusapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/pprof"

	"github.com/btrdedup/btrdedup/pkg/config"
	"github.com/btrdedup/btrdedup/pkg/store/queries"
	"github.com/btrdedup/btrdedup/pkg/volume"
	"go.uber.org/fx"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

var Module = fx.Module("statusapi",
	fx.Provide(NewServer),
	fx.Invoke(registerHooks),
)

type Server struct {
	http   *http.Server
	logger *slog.Logger
}

type ServerParams struct {
	fx.In

	Config   *config.Config
	Logger   *slog.Logger
	Registry *volume.Registry
}

// VolumeStatus is the wire shape for one volume in GET /status.
type VolumeStatus struct {
	MountPath             string `json:"mount_path"`
	FSUUID                string `json:"fs_uuid"`
	SubvolRootID          uint64 `json:"subvol_root_id"`
	LastTrackedGeneration uint64 `json:"last_tracked_generation"`
	ReadOnly              bool   `json:"read_only"`
	TrackingEnabled       bool   `json:"tracking_enabled"`
	Online                bool   `json:"online"`
}

func NewServer(p ServerParams) *Server {
	logger := p.Logger.With("component", "statusapi")
	mux := http.NewServeMux()

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		vols, err := p.Registry.List()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out := make([]VolumeStatus, 0, len(vols))
		for _, v := range vols {
			out = append(out, toVolumeStatus(v))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	logger.Info("pprof endpoints enabled at /debug/pprof/")

	h2cHandler := h2c.NewHandler(mux, &http2.Server{})

	return &Server{
		http: &http.Server{
			Addr:    p.Config.StatusAddress,
			Handler: h2cHandler,
		},
		logger: logger,
	}
}

func toVolumeStatus(v *queries.Volume) VolumeStatus {
	return VolumeStatus{
		MountPath:             v.MountPath,
		FSUUID:                v.FSUUID,
		SubvolRootID:          v.SubvolRootID,
		LastTrackedGeneration: v.LastTrackedGeneration,
		ReadOnly:              v.ReadOnly,
		TrackingEnabled:       v.TrackingEnabled,
		Online:                v.Online,
	}
}

func registerHooks(lc fx.Lifecycle, s *Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				s.logger.Info("starting status server", "address", s.http.Addr)
				if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					s.logger.Error("status server error", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.logger.Info("stopping status server")
			return s.http.Shutdown(ctx)
		},
	})
}
