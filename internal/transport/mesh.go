package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/taoyao-code/xslot/internal/metrics"
	"github.com/taoyao-code/xslot/internal/protocol/frame"
	"github.com/taoyao-code/xslot/internal/transport/atmodem"
	"github.com/taoyao-code/xslot/internal/xsloterr"
)

// 模块 AT+SEND 的默认出站速率，避免压垮空口
const defaultMeshSendRate = rate.Limit(10)

// MeshConfig 网状传输层配置
type MeshConfig struct {
	// LocalAddr 本机网状地址，必填
	LocalAddr uint16
	// GroupAddr 组地址，零值表示不下发
	GroupAddr uint16
	// CellID 小区 ID，HasCell 为真时在启动序列中下发
	CellID  uint8
	HasCell bool
	// PowerDBm 发射功率
	PowerDBm int8
	// PowerMode 功耗模式，HasPowerMode 为真时在启动序列末尾切换
	PowerMode    uint8
	HasPowerMode bool
	// WakeupMs WOR 唤醒周期毫秒，零值表示不下发
	WakeupMs uint16
	// SendPerSecond 出站限速，零值取默认
	SendPerSecond float64
}

// Mesh 网状无线传输层。出站帧整帧作为 AT+SEND 载荷，
// 目的地址取自帧头；入站帧由 +NNMI URC 携带
type Mesh struct {
	drv *atmodem.Driver
	log *zap.Logger
	cfg MeshConfig
	met *metrics.AppMetrics

	limiter *rate.Limiter

	cbMu sync.RWMutex
	cb   ReceiveFunc

	running atomic.Bool
}

// NewMesh 创建网状传输层，接管 drv 的生命周期。
// met 可为 nil，此时不记录指标
func NewMesh(drv *atmodem.Driver, cfg MeshConfig, met *metrics.AppMetrics, log *zap.Logger) *Mesh {
	if log == nil {
		log = zap.NewNop()
	}
	r := rate.Limit(cfg.SendPerSecond)
	if r <= 0 {
		r = defaultMeshSendRate
	}
	m := &Mesh{
		drv:     drv,
		log:     log.Named("mesh"),
		cfg:     cfg,
		met:     met,
		limiter: rate.NewLimiter(r, 1),
	}
	drv.SetURCHandler(m.onURC)
	return m
}

func (m *Mesh) Name() string { return "mesh" }

// Probe 启动驱动后以裸 AT 探测模块是否在位
func (m *Mesh) Probe() bool {
	if err := m.drv.Start(); err != nil {
		return false
	}
	return m.drv.Ping()
}

func (m *Mesh) SetReceiveCallback(fn ReceiveFunc) {
	m.cbMu.Lock()
	m.cb = fn
	m.cbMu.Unlock()
}

// Start 启动驱动并下发配置序列：ADDR、CELL、PWR、WOR、LP
func (m *Mesh) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return nil
	}
	if err := m.drv.Start(); err != nil {
		m.running.Store(false)
		return err
	}
	if err := m.configure(); err != nil {
		m.running.Store(false)
		return err
	}
	m.log.Info("网状传输层已启动",
		zap.String("addr", fmt.Sprintf("0x%04X", m.cfg.LocalAddr)))
	return nil
}

func (m *Mesh) configure() error {
	if err := m.drv.ConfigAddress(m.cfg.LocalAddr, m.cfg.GroupAddr); err != nil {
		return fmt.Errorf("mesh: config addr: %w", err)
	}
	if m.cfg.HasCell {
		if err := m.drv.ConfigCell(m.cfg.CellID); err != nil {
			return fmt.Errorf("mesh: config cell: %w", err)
		}
	}
	if err := m.drv.ConfigPower(m.cfg.PowerDBm); err != nil {
		return fmt.Errorf("mesh: config power: %w", err)
	}
	if m.cfg.WakeupMs != 0 {
		if err := m.drv.ConfigWakeup(m.cfg.WakeupMs); err != nil {
			return fmt.Errorf("mesh: config wakeup: %w", err)
		}
	}
	if m.cfg.HasPowerMode {
		if err := m.drv.SetPowerMode(m.cfg.PowerMode); err != nil {
			return fmt.Errorf("mesh: power mode: %w", err)
		}
	}
	return nil
}

// Stop 停止传输层并关闭驱动，幂等
func (m *Mesh) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	m.drv.Stop()
	m.log.Info("网状传输层已停止")
}

func (m *Mesh) IsRunning() bool { return m.running.Load() }

// Send 整帧下发。目的网状地址取帧头目标地址，类型固定 0
func (m *Mesh) Send(encoded []byte) error {
	if !m.running.Load() {
		return fmt.Errorf("mesh: %w", xsloterr.ErrNotInitialized)
	}
	dst, err := frame.PeekDst(encoded)
	if err != nil {
		return fmt.Errorf("mesh: %w", err)
	}
	if err := m.limiter.Wait(context.Background()); err != nil {
		return fmt.Errorf("mesh: %w (%v)", xsloterr.ErrSendFailed, err)
	}
	if err := m.drv.SendData(dst, encoded, 0); err != nil {
		return fmt.Errorf("mesh: send: %w", err)
	}
	return nil
}

// Configure 运行时调整无线参数：小区与发射功率
func (m *Mesh) Configure(cellID uint8, powerDBm int8) error {
	if !m.running.Load() {
		return fmt.Errorf("mesh: %w", xsloterr.ErrNotInitialized)
	}
	if err := m.drv.ConfigCell(cellID); err != nil {
		return fmt.Errorf("mesh: config cell: %w", err)
	}
	if err := m.drv.ConfigPower(powerDBm); err != nil {
		return fmt.Errorf("mesh: config power: %w", err)
	}
	return nil
}

// QueryAddress 透出驱动的地址查询
func (m *Mesh) QueryAddress() (atmodem.AddressInfo, error) {
	return m.drv.QueryAddress()
}

func (m *Mesh) onURC(ev atmodem.Event) {
	if m.met != nil {
		m.met.URCTotal.WithLabelValues(ev.Kind.String()).Inc()
	}
	switch ev.Kind {
	case atmodem.KindNNMI:
		m.cbMu.RLock()
		cb := m.cb
		m.cbMu.RUnlock()
		if cb != nil {
			cb(ev.Payload)
		}
	case atmodem.KindSendResult:
		if m.met != nil {
			m.met.SendResultTotal.WithLabelValues(ev.Result).Inc()
		}
		m.log.Debug("发送结果回执",
			zap.Int("sn", ev.SN), zap.String("result", ev.Result))
	case atmodem.KindAck:
		m.log.Debug("确认回执",
			zap.Uint16("src", ev.Src), zap.Int("rssi", ev.RSSI), zap.Int("sn", ev.SN))
	case atmodem.KindRoute:
		m.log.Debug("路由表变更",
			zap.Bool("create", ev.RouteCreate),
			zap.String("addr", fmt.Sprintf("0x%04X", ev.RouteAddr)))
	case atmodem.KindBoot:
		m.log.Warn("模块意外重启")
	case atmodem.KindReady:
		m.log.Info("模块就绪")
	}
}

// 编译期断言 Mesh 满足 Transport
var _ Transport = (*Mesh)(nil)
