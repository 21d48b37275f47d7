package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"webserver/internal/pool"
	"webserver/internal/shutdown"
)

// HealthResponse はヘルスチェックの応答
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HostStatus はホストごとの状態
type HostStatus struct {
	Hostname string     `json:"hostname"`
	Address  string     `json:"address"`
	Root     string     `json:"root"`
	Requests uint64     `json:"requests"`
	Pool     pool.Stats `json:"pool"`
}

// StatusResponse はシステム状態の応答
type StatusResponse struct {
	Status    string       `json:"status"`
	Uptime    string       `json:"uptime"`
	Hosts     []HostStatus `json:"hosts"`
	Timestamp time.Time    `json:"timestamp"`
}

// AdminHandler は管理用エンドポイントの実装
type AdminHandler struct {
	server *Server
}

// adminRouter は管理用のルートを設定する
func (s *Server) adminRouter() http.Handler {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log))

	h := &AdminHandler{server: s}
	r.GET("/health", h.HealthCheck)
	r.GET("/api/status", h.GetStatus)
	r.GET("/", h.Index)
	return r
}

// HealthCheck はヘルスチェックエンドポイントの実装
// 停止処理中は 503 を返す
func (h *AdminHandler) HealthCheck(c *gin.Context) {
	state := h.server.State()
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	}

	if state != shutdown.StateRunning {
		response.Status = state.String()
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

// GetStatus はシステム状態取得エンドポイントの実装
func (h *AdminHandler) GetStatus(c *gin.Context) {
	hosts := make([]HostStatus, 0, len(h.server.Hosts()))
	for _, hs := range h.server.Hosts() {
		status := HostStatus{
			Hostname: hs.Host().Hostname,
			Address:  hs.Host().Address,
			Root:     hs.Host().Root,
			Requests: hs.Requests(),
			Pool:     hs.Pool().Stats(),
		}
		if addr := hs.Addr(); addr != nil {
			status.Address = addr.String()
		}
		hosts = append(hosts, status)
	}

	var uptime time.Duration
	if !h.server.started.IsZero() {
		uptime = time.Since(h.server.started).Truncate(time.Second)
	}

	c.JSON(http.StatusOK, StatusResponse{
		Status:    h.server.State().String(),
		Uptime:    uptime.String(),
		Hosts:     hosts,
		Timestamp: time.Now(),
	})
}

// Index は管理画面を返す
func (h *AdminHandler) Index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", getIndexHTML())
}

// requestLogger は管理用エンドポイントへのアクセスを記録する
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("管理用リクエスト",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
