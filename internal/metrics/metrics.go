package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 自定义业务指标
type AppMetrics struct {
	FrameRxTotal    *prometheus.CounterVec // labels: result=ok|crc_error|invalid
	FrameTxTotal    *prometheus.CounterVec // labels: cmd
	DispatchTotal   *prometheus.CounterVec // labels: cmd
	SendResultTotal *prometheus.CounterVec // labels: result
	URCTotal        *prometheus.CounterVec // labels: kind
	ResyncTotal     prometheus.Counter     // 解码器失步恢复计数
	OnlineGauge     prometheus.Gauge       // 当前在线节点数
	HeartbeatTotal  prometheus.Counter     // 心跳发送计数
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		FrameRxTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xslot_frame_rx_total",
			Help: "Received frame decode attempts.",
		}, []string{"result"}),
		FrameTxTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xslot_frame_tx_total",
			Help: "Transmitted frames by command.",
		}, []string{"cmd"}),
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xslot_dispatch_total",
			Help: "Dispatched inbound frames by command.",
		}, []string{"cmd"}),
		SendResultTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xslot_mesh_send_result_total",
			Help: "Mesh send outcome reports by result.",
		}, []string{"result"}),
		URCTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xslot_mesh_urc_total",
			Help: "Unsolicited modem events by kind.",
		}, []string{"kind"}),
		ResyncTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xslot_decoder_resync_total",
			Help: "Stream decoder resynchronizations.",
		}),
		OnlineGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xslot_nodes_online",
			Help: "Current number of online nodes.",
		}),
		HeartbeatTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xslot_heartbeat_total",
			Help: "Heartbeat pings sent to the hub.",
		}),
	}
	reg.MustRegister(m.FrameRxTotal, m.FrameTxTotal, m.DispatchTotal, m.SendResultTotal, m.URCTotal, m.ResyncTotal, m.OnlineGauge, m.HeartbeatTotal)
	return m
}
