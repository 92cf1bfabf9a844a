package node

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/dep2p/go-btpnips/config"
	"github.com/dep2p/go-btpnips/internal/metrics"
	"github.com/dep2p/go-btpnips/internal/payment/claim"
	"github.com/dep2p/go-btpnips/internal/peer/lifecycle"
	"github.com/dep2p/go-btpnips/internal/propagation"
)

// ObservabilityServer 只读观测接口
//
//	GET /metrics               Prometheus 指标
//	GET /stats/propagation     转发统计
//	GET /stats/bandwidth       带宽统计
//	GET /channels/{id}         支付通道状态
//	GET /connections           对等连接列表
type ObservabilityServer struct {
	cfg       config.MetricsConfig
	metrics   *metrics.Metrics
	engine    *propagation.Engine
	channels  claim.ChannelStore
	lifecycle *lifecycle.Manager

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
}

// NewObservabilityServer 创建观测服务；channels / lm 可为空
func NewObservabilityServer(cfg config.MetricsConfig, m *metrics.Metrics, engine *propagation.Engine, channels claim.ChannelStore, lm *lifecycle.Manager) *ObservabilityServer {
	return &ObservabilityServer{
		cfg:       cfg,
		metrics:   m,
		engine:    engine,
		channels:  channels,
		lifecycle: lm,
	}
}

// Router 返回路由，便于测试直接调用
func (s *ObservabilityServer) Router() *mux.Router {
	r := mux.NewRouter()
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
		r.HandleFunc("/stats/bandwidth", s.handleBandwidth).Methods(http.MethodGet)
	}
	r.HandleFunc("/stats/propagation", s.handlePropagation).Methods(http.MethodGet)
	r.HandleFunc("/channels/{id}", s.handleChannel).Methods(http.MethodGet)
	r.HandleFunc("/connections", s.handleConnections).Methods(http.MethodGet)
	return r
}

// Start 配置启用时开始监听
func (s *ObservabilityServer) Start(_ context.Context) error {
	if !s.cfg.Enable {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("观测服务退出", "error", err)
		}
	}()
	logger.Info("观测服务已启动", "addr", ln.Addr().String())
	return nil
}

// Addr 实际监听地址
func (s *ObservabilityServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop 关闭服务
func (s *ObservabilityServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	s.wg.Wait()
	return err
}

func (s *ObservabilityServer) handlePropagation(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *ObservabilityServer) handleBandwidth(w http.ResponseWriter, _ *http.Request) {
	bw := s.metrics.Bandwidth()
	peers := make(map[string]metrics.Stats)
	for id, st := range bw.ByPeer() {
		peers[string(id)] = st
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"totals": bw.Totals(),
		"peers":  peers,
	})
}

func (s *ObservabilityServer) handleChannel(w http.ResponseWriter, r *http.Request) {
	if s.channels == nil {
		http.Error(w, "channel store unavailable", http.StatusServiceUnavailable)
		return
	}
	id := mux.Vars(r)["id"]
	state, err := s.channels.Get(r.Context(), id)
	switch {
	case errors.Is(err, claim.ErrChannelNotFound):
		http.Error(w, "channel not found", http.StatusNotFound)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, state)
	}
}

func (s *ObservabilityServer) handleConnections(w http.ResponseWriter, _ *http.Request) {
	if s.lifecycle == nil {
		writeJSON(w, http.StatusOK, []*lifecycle.Connection{})
		return
	}
	writeJSON(w, http.StatusOK, s.lifecycle.List())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("写入响应失败", "error", err)
	}
}
