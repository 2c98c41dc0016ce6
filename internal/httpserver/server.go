package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	cfgpkg "github.com/taoyao-code/xslot/internal/config"
	"github.com/taoyao-code/xslot/internal/nodetable"
)

// NodeSource 节点列表数据源，由协议管理器实现
type NodeSource interface {
	Nodes() []nodetable.NodeInfo
	IsRunning() bool
}

// Server HTTP 服务封装
type Server struct {
	srv *http.Server
}

// nodeView 节点的 JSON 视图
type nodeView struct {
	Addr        string `json:"addr"`
	Online      bool   `json:"online"`
	RSSI        int8   `json:"rssi"`
	LastSeen    string `json:"lastSeen"`
	ObjectCount uint8  `json:"objectCount"`
}

// New 创建并配置 Gin + HTTP Server，注册健康检查、节点查询与指标路由
func New(cfg cfgpkg.HTTPConfig, metricsPath string, metricsHandler http.Handler, nodes NodeSource) *Server {
	r := gin.New()
	r.Use(gin.Recovery(), requestID())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", func(c *gin.Context) {
		if nodes == nil || nodes.IsRunning() {
			c.String(http.StatusOK, "ready")
			return
		}
		c.String(http.StatusServiceUnavailable, "not-ready")
	})
	if nodes != nil {
		r.GET("/api/v1/nodes", func(c *gin.Context) {
			infos := nodes.Nodes()
			out := make([]nodeView, 0, len(infos))
			for _, n := range infos {
				out = append(out, nodeView{
					Addr:        fmt.Sprintf("0x%04X", n.Addr),
					Online:      n.Online,
					RSSI:        n.RSSI,
					LastSeen:    n.LastSeen.Format(time.RFC3339),
					ObjectCount: n.ObjectCount,
				})
			}
			c.JSON(http.StatusOK, gin.H{"nodes": out, "count": len(out)})
		})
	}
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	if metricsHandler != nil {
		r.GET(metricsPath, gin.WrapH(metricsHandler))
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return &Server{srv: srv}
}

// requestID 为每个请求生成或透传 X-Request-ID
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// Start 启动 HTTP 服务（阻塞）
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
