// Package xslot 是协议栈的对外门面：以公开类型包装内部实现，
// 提供初始化、收发、节点查询与对象批序列化能力
package xslot

import (
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/xslot/internal/manager"
	"github.com/taoyao-code/xslot/internal/pal"
	"github.com/taoyao-code/xslot/internal/protocol/bacnet"
	"github.com/taoyao-code/xslot/internal/protocol/frame"
	"github.com/taoyao-code/xslot/internal/transport"
	"github.com/taoyao-code/xslot/internal/transport/atmodem"
)

// version 语义化版本号
const version = "1.0.0"

// Version 返回协议栈版本
func Version() string { return version }

// 保留地址
const (
	AddrBroadcast uint16 = 0x0000
	AddrHMI       uint16 = 0xFF00
	AddrHub       uint16 = 0xFFFE
)

// ObjectType 对象类型
type ObjectType uint8

const (
	AnalogInput  ObjectType = 0 // AI
	AnalogOutput ObjectType = 1 // AO
	AnalogValue  ObjectType = 2 // AV
	BinaryInput  ObjectType = 3 // BI
	BinaryOutput ObjectType = 4 // BO
	BinaryValue  ObjectType = 5 // BV
)

// 对象状态标志位
const (
	FlagChanged      uint8 = 0x01
	FlagOutOfService uint8 = 0x02
)

// Object 一个受控点位
type Object struct {
	ID    uint16
	Type  ObjectType
	Flags uint8
	Value [16]byte
}

// NewAnalogObject 构造模拟量对象
func NewAnalogObject(id uint16, typ ObjectType, v float32) Object {
	return Object{ID: id, Type: typ, Value: bacnet.AnalogValueOf(v)}
}

// NewBinaryObject 构造开关量对象
func NewBinaryObject(id uint16, typ ObjectType, on bool) Object {
	return Object{ID: id, Type: typ, Value: bacnet.BinaryValueOf(on)}
}

// Analog 按模拟量解释对象值
func (o Object) Analog() float32 { return bacnet.Value(o.Value).Analog() }

// Binary 按开关量解释对象值
func (o Object) Binary() bool { return bacnet.Value(o.Value).Binary() }

func (o Object) internal() bacnet.Object {
	return bacnet.Object{
		ID:    o.ID,
		Type:  bacnet.ObjectType(o.Type),
		Flags: bacnet.Flag(o.Flags),
		Value: bacnet.Value(o.Value),
	}
}

func fromInternal(o bacnet.Object) Object {
	return Object{ID: o.ID, Type: ObjectType(o.Type), Flags: uint8(o.Flags), Value: o.Value}
}

func internalObjects(objs []Object) []bacnet.Object {
	out := make([]bacnet.Object, len(objs))
	for i, o := range objs {
		out[i] = o.internal()
	}
	return out
}

func publicObjects(objs []bacnet.Object) []Object {
	out := make([]Object, len(objs))
	for i, o := range objs {
		out[i] = fromInternal(o)
	}
	return out
}

// DeserializeObjects 解码对象批，自动识别完整/增量方言
func DeserializeObjects(payload []byte) ([]Object, error) {
	objs, err := bacnet.Unmarshal(payload)
	if err != nil {
		return nil, err
	}
	return publicObjects(objs), nil
}

// SerializeObjects 按指定方言编码对象批
func SerializeObjects(objs []Object, incremental bool) ([]byte, error) {
	if incremental {
		return bacnet.MarshalIncremental(internalObjects(objs))
	}
	return bacnet.MarshalObjects(internalObjects(objs))
}

// RunMode 运行模式
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

// Node 节点快照
type Node struct {
	Addr        uint16
	Online      bool
	RSSI        int8
	LastSeen    time.Time
	ObjectCount uint8
}

// 回调类型
type (
	// DataFunc 原始载荷回调
	DataFunc func(src uint16, cmd uint8, payload []byte)
	// NodeFunc 节点上下线回调
	NodeFunc func(addr uint16, online bool)
	// WriteFunc 写请求回调
	WriteFunc func(src uint16, obj Object)
	// ReportFunc 数据上报回调
	ReportFunc func(src uint16, objs []Object)
)

// Config 协议栈配置
type Config struct {
	// LocalAddr 本机地址，必填
	LocalAddr uint16
	// GroupAddr 组地址，0 表示不配置
	GroupAddr uint16
	// CellID 小区 ID，负值表示不配置
	CellID int
	// PowerDBm 发射功率
	PowerDBm int8
	// PowerMode 功耗模式：2 低功耗，3 常规；0 表示不切换
	PowerMode uint8
	// WakeupMs WOR 唤醒周期毫秒
	WakeupMs uint16

	// MeshPort 网状模块串口，空表示跳过网状探测
	MeshPort string
	// DirectPort 直连串口，空表示跳过直连探测
	DirectPort string
	// Baud 串口波特率，0 取 115200
	Baud int

	// HeartbeatInterval 边缘节点心跳周期
	HeartbeatInterval time.Duration
	// HeartbeatTimeout 节点离线阈值
	HeartbeatTimeout time.Duration
	// NodeCapacity 节点表容量，0 取默认 64
	NodeCapacity int

	// Logger 可选日志器
	Logger *zap.Logger
}

// Stack 协议栈实例，由 New 创建
type Stack struct {
	mgr *manager.Manager
	log *zap.Logger
}

// New 创建协议栈。串口不可用不视为错误，对应传输层在 Start 时落选
func New(cfg Config) *Stack {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var candidates []manager.Candidate
	if cfg.MeshPort != "" {
		if port, err := pal.OpenSerial(pal.SerialOptions{Device: cfg.MeshPort, Baud: cfg.Baud}); err != nil {
			log.Warn("网状串口不可用", zap.String("port", cfg.MeshPort), zap.Error(err))
		} else {
			drv := atmodem.New(port, log)
			mesh := transport.NewMesh(drv, transport.MeshConfig{
				LocalAddr:    cfg.LocalAddr,
				GroupAddr:    cfg.GroupAddr,
				CellID:       uint8(max(cfg.CellID, 0)),
				HasCell:      cfg.CellID >= 0,
				PowerDBm:     cfg.PowerDBm,
				PowerMode:    cfg.PowerMode,
				HasPowerMode: cfg.PowerMode != 0,
				WakeupMs:     cfg.WakeupMs,
			}, nil, log)
			candidates = append(candidates, manager.Candidate{Mode: manager.ModeWireless, Transport: mesh})
		}
	}
	if cfg.DirectPort != "" {
		if port, err := pal.OpenSerial(pal.SerialOptions{Device: cfg.DirectPort, Baud: cfg.Baud}); err != nil {
			log.Warn("直连串口不可用", zap.String("port", cfg.DirectPort), zap.Error(err))
		} else {
			candidates = append(candidates, manager.Candidate{Mode: manager.ModeHmi, Transport: transport.NewDirect(port, log)})
		}
	}

	mgr := manager.New(manager.Config{
		LocalAddr:         cfg.LocalAddr,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		NodeCapacity:      cfg.NodeCapacity,
	}, candidates, nil, log)

	return &Stack{mgr: mgr, log: log}
}

// Start 探测并启动传输层，全部失败返回 CodeNoDevice 对应错误
func (s *Stack) Start() error { return s.mgr.Start() }

// Stop 停止协议栈，幂等
func (s *Stack) Stop() { s.mgr.Stop() }

// RunMode 返回当前运行模式
func (s *Stack) RunMode() RunMode { return RunMode(s.mgr.RunMode()) }

// ReportObjects 以增量方言向汇聚节点上报对象批
func (s *Stack) ReportObjects(objs []Object) error {
	return s.mgr.ReportObjects(internalObjects(objs))
}

// WriteObject 向目标节点下发写请求
func (s *Stack) WriteObject(target uint16, obj Object) error {
	in := obj.internal()
	return s.mgr.WriteObject(target, &in)
}

// QueryObjects 向目标节点查询指定对象
func (s *Stack) QueryObjects(target uint16, objectIDs []uint16) error {
	return s.mgr.QueryObjects(target, objectIDs)
}

// SendPing 向目标节点发送 Ping
func (s *Stack) SendPing(target uint16) error { return s.mgr.SendPing(target) }

// UpdateWirelessConfig 运行时调整无线参数，仅无线模式有效
func (s *Stack) UpdateWirelessConfig(cellID uint8, powerDBm int8) error {
	return s.mgr.UpdateWirelessConfig(cellID, powerDBm)
}

// Nodes 返回节点表快照
func (s *Stack) Nodes() []Node {
	infos := s.mgr.Nodes()
	out := make([]Node, len(infos))
	for i, n := range infos {
		out[i] = Node{
			Addr:        n.Addr,
			Online:      n.Online,
			RSSI:        n.RSSI,
			LastSeen:    n.LastSeen,
			ObjectCount: n.ObjectCount,
		}
	}
	return out
}

// IsNodeOnline 查询节点在线状态
func (s *Stack) IsNodeOnline(addr uint16) bool { return s.mgr.IsNodeOnline(addr) }

// SetDataCallback 安装原始载荷回调
func (s *Stack) SetDataCallback(fn DataFunc) {
	if fn == nil {
		s.mgr.SetDataCallback(nil)
		return
	}
	s.mgr.SetDataCallback(func(src uint16, cmd frame.Command, payload []byte) {
		fn(src, uint8(cmd), payload)
	})
}

// SetNodeCallback 安装节点上下线回调
func (s *Stack) SetNodeCallback(fn NodeFunc) {
	s.mgr.SetNodeCallback(manager.NodeFunc(fn))
}

// SetWriteCallback 安装写请求回调
func (s *Stack) SetWriteCallback(fn WriteFunc) {
	if fn == nil {
		s.mgr.SetWriteCallback(nil)
		return
	}
	s.mgr.SetWriteCallback(func(src uint16, obj bacnet.Object) {
		fn(src, fromInternal(obj))
	})
}

// SetReportCallback 安装数据上报回调
func (s *Stack) SetReportCallback(fn ReportFunc) {
	if fn == nil {
		s.mgr.SetReportCallback(nil)
		return
	}
	s.mgr.SetReportCallback(func(src uint16, objs []bacnet.Object) {
		fn(src, publicObjects(objs))
	})
}
