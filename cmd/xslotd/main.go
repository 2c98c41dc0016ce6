package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/xslot/internal/config"
	"github.com/taoyao-code/xslot/internal/httpserver"
	"github.com/taoyao-code/xslot/internal/logging"
	"github.com/taoyao-code/xslot/internal/manager"
	"github.com/taoyao-code/xslot/internal/metrics"
	"github.com/taoyao-code/xslot/internal/pal"
	"github.com/taoyao-code/xslot/internal/transport"
	"github.com/taoyao-code/xslot/internal/transport/atmodem"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径")
	flag.Parse()

	// 1) 加载配置
	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		panic(err)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	log := zap.L()

	// 3) 指标注册与处理器
	reg := metrics.NewRegistry()
	met := metrics.NewAppMetrics(reg)
	metricsHandler := metrics.Handler(reg)

	// 4) 协议管理器：网状优先，直连兜底
	mgr := manager.New(manager.Config{
		LocalAddr:         cfg.Protocol.LocalAddr,
		HeartbeatInterval: cfg.Protocol.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Protocol.HeartbeatTimeout,
		NodeCapacity:      cfg.Protocol.NodeCapacity,
	}, buildCandidates(cfg, met, log), met, log)

	if err := mgr.Start(); err != nil {
		if errors.Is(err, manager.ErrNoTransport) {
			log.Warn("未探测到任何传输硬件，仅提供 HTTP 服务")
		} else {
			log.Fatal("协议管理器启动失败", zap.Error(err))
		}
	}

	// 5) HTTP 服务
	httpSrv := httpserver.New(cfg.HTTP, cfg.Metrics.Path, metricsHandler, mgr)
	go func() {
		if err := httpSrv.Start(); err != nil {
			log.Error("http server error", zap.Error(err))
		}
	}()

	// 信号处理，优雅关闭
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	mgr.Stop()
}

// buildCandidates 按探测顺序组装传输层候选。串口打开失败只降级，不中止
func buildCandidates(cfg *cfgpkg.Config, met *metrics.AppMetrics, log *zap.Logger) []manager.Candidate {
	var out []manager.Candidate

	if port, err := pal.OpenSerial(pal.SerialOptions{
		Device:      cfg.Protocol.MeshUART.Port,
		Baud:        cfg.Protocol.MeshUART.Baud,
		ReadTimeout: cfg.Protocol.MeshUART.ReadTimeout,
	}); err != nil {
		log.Warn("网状串口不可用", zap.String("port", cfg.Protocol.MeshUART.Port), zap.Error(err))
	} else {
		drv := atmodem.New(port, log)
		mesh := transport.NewMesh(drv, transport.MeshConfig{
			LocalAddr:     cfg.Protocol.LocalAddr,
			GroupAddr:     cfg.Protocol.GroupAddr,
			CellID:        uint8(cfg.Protocol.CellID),
			HasCell:       cfg.Protocol.CellID >= 0,
			PowerDBm:      int8(cfg.Protocol.PowerDBm),
			PowerMode:     uint8(cfg.Protocol.PowerMode),
			HasPowerMode:  cfg.Protocol.PowerMode != 0,
			WakeupMs:      uint16(cfg.Protocol.WakeupMs),
			SendPerSecond: cfg.Protocol.SendPerSecond,
		}, met, log)
		out = append(out, manager.Candidate{Mode: manager.ModeWireless, Transport: mesh})
	}

	if port, err := pal.OpenSerial(pal.SerialOptions{
		Device:      cfg.Protocol.DirectUART.Port,
		Baud:        cfg.Protocol.DirectUART.Baud,
		ReadTimeout: cfg.Protocol.DirectUART.ReadTimeout,
	}); err != nil {
		log.Warn("直连串口不可用", zap.String("port", cfg.Protocol.DirectUART.Port), zap.Error(err))
	} else {
		out = append(out, manager.Candidate{Mode: manager.ModeHmi, Transport: transport.NewDirect(port, log)})
	}
	return out
}
