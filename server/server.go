package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promcollectors "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"arenasync/config"
	"arenasync/store"
)

// Server 权威服务端：房间、WebSocket 接入、管理与监控接口
type Server struct {
	cfg      config.Config
	log      *zap.Logger
	rooms    *RoomManager
	registry *prometheus.Registry
	verdicts *store.VerdictStore
}

// New verdicts 可为 nil（不落盘命中判定）
func New(cfg config.Config, log *zap.Logger, verdicts *store.VerdictStore) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		promcollectors.NewGoCollector(),
		promcollectors.NewProcessCollector(promcollectors.ProcessCollectorOpts{}),
	)
	collectors := NewCollectors(reg)

	s := &Server{cfg: cfg, log: log, registry: reg, verdicts: verdicts}
	var sink VerdictSink
	if verdicts != nil {
		sink = verdicts
	}
	s.rooms = NewRoomManager(func(id string) *Room {
		return NewRoom(id, cfg, log, collectors, sink)
	})
	return s
}

func (s *Server) Rooms() *RoomManager { return s.rooms }

func (s *Server) Registry() *prometheus.Registry { return s.registry }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	// 管理与监控接口
	mux.HandleFunc("/admin/config", s.HandleAdminConfig)
	mux.HandleFunc("/admin/metrics", s.HandleMetrics)
	mux.HandleFunc("/admin/verdicts", s.HandleVerdicts)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Run 监听直到 ctx 结束，然后优雅退出
func (s *Server) Run(ctx context.Context) error {
	// 先预创建默认房间，便于快速试跑
	_ = s.rooms.GetOrCreateRoom(s.cfg.Server.Room)

	srv := &http.Server{Addr: s.cfg.Server.Addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("arenasync listening", zap.String("addr", s.cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.rooms.Close()
		return err
	case <-ctx.Done():
	}
	s.log.Info("shutting down")
	s.rooms.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
