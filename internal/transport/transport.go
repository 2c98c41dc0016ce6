// Package transport 定义帧传输层抽象及其实现。
// 上行方向传输层交付完整的已编码帧字节，协议层负责解码与分发。
package transport

import (
	"fmt"

	"github.com/taoyao-code/xslot/internal/xsloterr"
)

// ReceiveFunc 上行帧回调，raw 为一帧完整的线上字节
type ReceiveFunc func(raw []byte)

// Transport 帧传输层。实现必须保证 Send 并发安全，
// 接收回调由传输层自有的接收协程串行调用
type Transport interface {
	// Name 传输层名称，用于日志与指标标签
	Name() string
	// Probe 探测硬件是否在位，可阻塞至各实现约定的探测窗口
	Probe() bool
	// Start 启动接收路径，之前须已 SetReceiveCallback
	Start() error
	// Stop 停止接收路径并释放端口，幂等
	Stop()
	// Send 发送一帧已编码字节
	Send(encoded []byte) error
	// Configure 运行时无线参数调整，仅网状传输支持
	Configure(cellID uint8, powerDBm int8) error
	// SetReceiveCallback 安装上行回调
	SetReceiveCallback(fn ReceiveFunc)
	// IsRunning 报告接收路径是否在运行
	IsRunning() bool
}

// ErrNoDevice 统一的设备缺失错误
var ErrNoDevice = fmt.Errorf("transport: %w", xsloterr.ErrNoDevice)

// Null 空传输层，无硬件时占位
type Null struct{}

// NewNull 创建空传输层
func NewNull() *Null { return &Null{} }

func (*Null) Name() string                      { return "null" }
func (*Null) Probe() bool                       { return false }
func (*Null) Start() error                      { return nil }
func (*Null) Stop()                             {}
func (*Null) Send([]byte) error                 { return ErrNoDevice }
func (*Null) Configure(uint8, int8) error       { return ErrNoDevice }
func (*Null) SetReceiveCallback(fn ReceiveFunc) {}
func (*Null) IsRunning() bool                   { return false }
