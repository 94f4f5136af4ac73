package monitor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/logs"

	"papertrader/internal/obs"
)

const (
	defaultAddr       = ":8080"
	writeWait         = 5 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = pongWait * 9 / 10
	readHeaderTimeout = 5 * time.Second
)

// Config controls the HTTP server.
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Server serves snapshots, metrics and the websocket push.
type Server struct {
	cfg      Config
	store    *Store
	metrics  *obs.Metrics
	router   *gin.Engine
	http     *http.Server
	upgrader websocket.Upgrader
}

// NewServer builds the router. metrics may be nil, in which case /metrics is not mounted.
func NewServer(cfg Config, store *Store, metrics *obs.Metrics) *Server {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	s := &Server{
		cfg:     cfg,
		store:   store,
		metrics: metrics,
		router:  gin.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.router.Use(gin.Recovery())
	s.routes()
	s.http = &http.Server{Addr: cfg.Addr, Handler: s.router, ReadHeaderTimeout: readHeaderTimeout}
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", s.health)
	v1 := s.router.Group("/api/v1")
	v1.GET("/snapshot", s.snapshot)
	v1.GET("/positions", s.positions)
	v1.GET("/trades", s.trades)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	}
	s.router.GET("/ws", s.stream)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens in a new goroutine.
func (s *Server) Start() {
	go func() {
		logs.Infof("monitor listening on %s", s.cfg.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Errorf("monitor server: %+v", err)
		}
	}()
}

// Shutdown stops the listener and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	snap, ok := s.store.Latest()
	body := gin.H{"status": "ok", "ready": ok}
	if ok {
		body["time"] = snap.Time
		body["session"] = snap.Session.State
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) snapshot(c *gin.Context) {
	snap, ok := s.store.Latest()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot yet"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) positions(c *gin.Context) {
	snap, ok := s.store.Latest()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": snap.Positions, "stops": snap.Stops})
}

func (s *Server) trades(c *gin.Context) {
	snap, ok := s.store.Latest()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": snap.RecentTrades})
}

func (s *Server) stream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logs.Warnf("websocket upgrade: %+v", err)
		return
	}
	updates, cancel := s.store.Subscribe()
	defer cancel()
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if snap, ok := s.store.Latest(); ok {
		if err := s.push(conn, snap); err != nil {
			return
		}
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case snap := <-updates:
			if err := s.push(conn, snap); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) push(conn *websocket.Conn, snap any) error {
	data, err := sonic.ConfigStd.Marshal(snap)
	if err != nil {
		logs.Errorf("encode snapshot: %+v", err)
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
