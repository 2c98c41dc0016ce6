// Package manager 实现协议管理器：探测并持有传输层，
// 分发入站帧，维护节点表与出站序号，驱动心跳与超时巡检
package manager

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/xslot/internal/metrics"
	"github.com/taoyao-code/xslot/internal/nodetable"
	"github.com/taoyao-code/xslot/internal/protocol/bacnet"
	"github.com/taoyao-code/xslot/internal/protocol/frame"
	"github.com/taoyao-code/xslot/internal/protocol/message"
	"github.com/taoyao-code/xslot/internal/transport"
	"github.com/taoyao-code/xslot/internal/xsloterr"
)

// RunMode 运行模式，由启动时探测到的传输层决定
type RunMode int

const (
	ModeNone RunMode = iota
	ModeWireless
	ModeHmi
)

func (m RunMode) String() string {
	switch m {
	case ModeWireless:
		return "wireless"
	case ModeHmi:
		return "hmi"
	default:
		return "none"
	}
}

// Config 管理器配置
type Config struct {
	// LocalAddr 本机地址
	LocalAddr uint16
	// HeartbeatInterval 边缘节点向汇聚节点发 Ping 的周期，零值关闭心跳
	HeartbeatInterval time.Duration
	// HeartbeatTimeout 节点离线判定阈值，零值关闭巡检
	HeartbeatTimeout time.Duration
	// NodeCapacity 节点表容量，零值取默认
	NodeCapacity int
}

// Candidate 传输层候选，按序探测
type Candidate struct {
	Mode      RunMode
	Transport transport.Transport
}

// 回调类型。数据、写请求、上报与上线回调在接收协程上串行调用，
// 离线回调在超时巡检协程上调用；回调不得重入管理器
type (
	// DataFunc 原始载荷回调（Query/Response/WriteAck）
	DataFunc func(src uint16, cmd frame.Command, payload []byte)
	// NodeFunc 节点上下线回调
	NodeFunc func(addr uint16, online bool)
	// WriteFunc 写请求回调
	WriteFunc func(src uint16, obj bacnet.Object)
	// ReportFunc 数据上报回调
	ReportFunc func(src uint16, objs []bacnet.Object)
)

// ErrNoTransport 所有候选传输层探测失败
var ErrNoTransport = fmt.Errorf("manager: no transport available: %w", xsloterr.ErrNoDevice)

// Manager 协议管理器。不做序号去重，重复到达的帧会再次触发回调
type Manager struct {
	cfg   Config
	log   *zap.Logger
	met   *metrics.AppMetrics
	nodes *nodetable.Table

	candidates []Candidate

	trMu sync.RWMutex
	tr   transport.Transport
	mode RunMode

	seq atomic.Uint32

	cbMu     sync.RWMutex
	dataCb   DataFunc
	nodeCb   NodeFunc
	writeCb  WriteFunc
	reportCb ReportFunc

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	lastResyncs uint64
}

// New 创建管理器。candidates 按探测顺序给出，met 可为 nil
func New(cfg Config, candidates []Candidate, met *metrics.AppMetrics, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		cfg:        cfg,
		log:        log.Named("manager"),
		met:        met,
		nodes:      nodetable.New(cfg.NodeCapacity),
		candidates: candidates,
		tr:         transport.NewNull(),
		mode:       ModeNone,
	}
}

// SetDataCallback 安装原始载荷回调
func (m *Manager) SetDataCallback(fn DataFunc) {
	m.cbMu.Lock()
	m.dataCb = fn
	m.cbMu.Unlock()
}

// SetNodeCallback 安装节点上下线回调
func (m *Manager) SetNodeCallback(fn NodeFunc) {
	m.cbMu.Lock()
	m.nodeCb = fn
	m.cbMu.Unlock()
}

// SetWriteCallback 安装写请求回调
func (m *Manager) SetWriteCallback(fn WriteFunc) {
	m.cbMu.Lock()
	m.writeCb = fn
	m.cbMu.Unlock()
}

// SetReportCallback 安装数据上报回调
func (m *Manager) SetReportCallback(fn ReportFunc) {
	m.cbMu.Lock()
	m.reportCb = fn
	m.cbMu.Unlock()
}

// Start 按序探测候选传输层并启动命中的那个。
// 全部失败时装入空传输层并返回 ErrNoTransport，管理器保持可重启
func (m *Manager) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return nil
	}
	for _, c := range m.candidates {
		if !c.Transport.Probe() {
			m.log.Info("传输层探测失败", zap.String("transport", c.Transport.Name()))
			continue
		}
		c.Transport.SetReceiveCallback(m.onReceive)
		if err := c.Transport.Start(); err != nil {
			m.log.Warn("传输层启动失败",
				zap.String("transport", c.Transport.Name()), zap.Error(err))
			continue
		}
		m.trMu.Lock()
		m.tr = c.Transport
		m.mode = c.Mode
		m.trMu.Unlock()
		m.startTickers()
		m.log.Info("协议管理器已启动",
			zap.String("transport", c.Transport.Name()),
			zap.String("mode", c.Mode.String()),
			zap.String("addr", fmt.Sprintf("0x%04X", m.cfg.LocalAddr)))
		return nil
	}
	m.trMu.Lock()
	m.tr = transport.NewNull()
	m.mode = ModeNone
	m.trMu.Unlock()
	m.running.Store(false)
	return ErrNoTransport
}

// Stop 停止巡检协程与传输层，幂等
func (m *Manager) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	if m.done != nil {
		close(m.done)
		m.wg.Wait()
		m.done = nil
	}
	m.trMu.Lock()
	m.tr.Stop()
	m.tr = transport.NewNull()
	m.mode = ModeNone
	m.trMu.Unlock()
	m.log.Info("协议管理器已停止")
}

// IsRunning 报告管理器是否在运行
func (m *Manager) IsRunning() bool { return m.running.Load() }

// RunMode 返回当前运行模式
func (m *Manager) RunMode() RunMode {
	m.trMu.RLock()
	defer m.trMu.RUnlock()
	return m.mode
}

// Nodes 返回节点表快照
func (m *Manager) Nodes() []nodetable.NodeInfo { return m.nodes.GetAll() }

// IsNodeOnline 查询节点在线状态
func (m *Manager) IsNodeOnline(addr uint16) bool { return m.nodes.IsOnline(addr) }

// ReportObjects 以增量方言向汇聚节点上报对象批
func (m *Manager) ReportObjects(objs []bacnet.Object) error {
	fr, err := message.BuildReport(m.cfg.LocalAddr, frame.AddrHub, m.nextSeq(), objs, true)
	if err != nil {
		return err
	}
	return m.sendFrame(fr)
}

// WriteObject 向目标节点下发写请求
func (m *Manager) WriteObject(target uint16, obj *bacnet.Object) error {
	fr, err := message.BuildWrite(m.cfg.LocalAddr, target, m.nextSeq(), obj)
	if err != nil {
		return err
	}
	return m.sendFrame(fr)
}

// QueryObjects 向目标节点查询指定对象
func (m *Manager) QueryObjects(target uint16, objectIDs []uint16) error {
	fr, err := message.BuildQuery(m.cfg.LocalAddr, target, m.nextSeq(), objectIDs)
	if err != nil {
		return err
	}
	return m.sendFrame(fr)
}

// SendPing 向目标节点发送 Ping
func (m *Manager) SendPing(target uint16) error {
	return m.sendFrame(message.BuildPing(m.cfg.LocalAddr, target, m.nextSeq()))
}

// UpdateWirelessConfig 运行时调整无线参数，仅无线模式有效
func (m *Manager) UpdateWirelessConfig(cellID uint8, powerDBm int8) error {
	m.trMu.RLock()
	tr, mode := m.tr, m.mode
	m.trMu.RUnlock()
	if mode != ModeWireless {
		return fmt.Errorf("manager: wireless config in %s mode: %w",
			mode, xsloterr.ErrInvalidParam)
	}
	return tr.Configure(cellID, powerDBm)
}

// nextSeq 取号后自增，8 位自然回绕
func (m *Manager) nextSeq() uint8 {
	return uint8(m.seq.Add(1) - 1)
}

func (m *Manager) sendFrame(fr *frame.Frame) error {
	if !m.running.Load() {
		return fmt.Errorf("manager: %w", xsloterr.ErrNotInitialized)
	}
	raw, err := fr.Encode()
	if err != nil {
		return err
	}
	m.trMu.RLock()
	tr := m.tr
	m.trMu.RUnlock()
	if err := tr.Send(raw); err != nil {
		return err
	}
	if m.met != nil {
		m.met.FrameTxTotal.WithLabelValues(fr.Cmd.String()).Inc()
	}
	return nil
}

// onReceive 入站帧分发。先更新节点表，再按命令路由
func (m *Manager) onReceive(raw []byte) {
	fr, err := frame.Decode(raw)
	if err != nil {
		if m.met != nil {
			m.met.FrameRxTotal.WithLabelValues(rxResult(err)).Inc()
		}
		m.log.Warn("入站帧解码失败", zap.Error(err))
		return
	}
	if m.met != nil {
		m.met.FrameRxTotal.WithLabelValues("ok").Inc()
	}
	if fr.To != m.cfg.LocalAddr && fr.To != frame.AddrBroadcast {
		return
	}

	if m.nodes.Update(fr.From, 0, time.Now()) {
		m.fireNode(fr.From, true)
	}
	if m.met != nil {
		m.met.DispatchTotal.WithLabelValues(fr.Cmd.String()).Inc()
		m.met.OnlineGauge.Set(float64(m.nodes.OnlineCount()))
	}

	switch fr.Cmd {
	case frame.CmdPing:
		if err := m.sendFrame(message.BuildPong(m.cfg.LocalAddr, fr.From, fr.Seq)); err != nil {
			m.log.Warn("Pong 发送失败", zap.Error(err))
		}
	case frame.CmdPong:
		// 节点表已更新
	case frame.CmdReport:
		objs, err := message.ParseReport(fr)
		if err != nil {
			m.log.Warn("Report 解析失败",
				zap.String("from", fmt.Sprintf("0x%04X", fr.From)), zap.Error(err))
			return
		}
		m.nodes.SetObjectCount(fr.From, uint8(len(objs)))
		m.fireReport(fr.From, objs)
	case frame.CmdQuery, frame.CmdResponse, frame.CmdWriteAck:
		m.fireData(fr.From, fr.Cmd, fr.Data)
	case frame.CmdWrite:
		obj, err := message.ParseWrite(fr)
		if err != nil {
			m.log.Warn("Write 解析失败",
				zap.String("from", fmt.Sprintf("0x%04X", fr.From)), zap.Error(err))
			return
		}
		m.fireWrite(fr.From, obj)
		ack := message.BuildWriteAck(m.cfg.LocalAddr, fr.From, fr.Seq, uint8(xsloterr.CodeOK))
		if err := m.sendFrame(ack); err != nil {
			m.log.Warn("WriteAck 发送失败", zap.Error(err))
		}
	default:
		m.log.Debug("未知命令", zap.Uint8("cmd", uint8(fr.Cmd)))
	}
}

func (m *Manager) fireData(src uint16, cmd frame.Command, payload []byte) {
	m.cbMu.RLock()
	cb := m.dataCb
	m.cbMu.RUnlock()
	if cb != nil {
		cb(src, cmd, payload)
	}
}

func (m *Manager) fireNode(addr uint16, online bool) {
	m.cbMu.RLock()
	cb := m.nodeCb
	m.cbMu.RUnlock()
	if cb != nil {
		cb(addr, online)
	}
}

func (m *Manager) fireWrite(src uint16, obj bacnet.Object) {
	m.cbMu.RLock()
	cb := m.writeCb
	m.cbMu.RUnlock()
	if cb != nil {
		cb(src, obj)
	}
}

func (m *Manager) fireReport(src uint16, objs []bacnet.Object) {
	m.cbMu.RLock()
	cb := m.reportCb
	m.cbMu.RUnlock()
	if cb != nil {
		cb(src, objs)
	}
}

// startTickers 启动心跳与超时巡检协程。
// 心跳仅边缘节点发出，汇聚节点只接收
func (m *Manager) startTickers() {
	m.done = make(chan struct{})
	if m.cfg.HeartbeatInterval > 0 && m.cfg.LocalAddr != frame.AddrHub {
		m.wg.Add(1)
		go m.heartbeatLoop()
	}
	if m.cfg.HeartbeatTimeout > 0 {
		m.wg.Add(1)
		go m.sweepLoop()
	}
}

func (m *Manager) heartbeatLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			if err := m.SendPing(frame.AddrHub); err != nil {
				m.log.Warn("心跳发送失败", zap.Error(err))
				continue
			}
			if m.met != nil {
				m.met.HeartbeatTotal.Inc()
			}
		}
	}
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	interval := m.cfg.HeartbeatTimeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.nodes.CheckTimeout(m.cfg.HeartbeatTimeout, time.Now(), func(addr uint16) {
				m.log.Info("节点离线", zap.String("addr", fmt.Sprintf("0x%04X", addr)))
				m.fireNode(addr, false)
			})
			if m.met != nil {
				m.met.OnlineGauge.Set(float64(m.nodes.OnlineCount()))
				m.collectResyncs()
			}
		}
	}
}

// collectResyncs 把直连解码器的失步计数增量并入指标
func (m *Manager) collectResyncs() {
	m.trMu.RLock()
	d, ok := m.tr.(*transport.Direct)
	m.trMu.RUnlock()
	if !ok {
		return
	}
	cur := d.Resyncs()
	if cur > m.lastResyncs {
		m.met.ResyncTotal.Add(float64(cur - m.lastResyncs))
		m.lastResyncs = cur
	}
}

func rxResult(err error) string {
	if err == nil {
		return "ok"
	}
	switch xsloterr.Code(err) {
	case xsloterr.CodeCRC:
		return "crc_error"
	default:
		return "invalid"
	}
}
