// Package pal 提供平台抽象：串口端口及测试用内存端口。
package pal

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Port 字节流端口。Read 带读超时语义：超时返回 (0, nil)，
// 端口关闭后返回 io.EOF
type Port interface {
	io.ReadWriteCloser
	Flush() error
}

// SerialOptions 串口打开参数
type SerialOptions struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
}

// OpenSerial 打开物理串口
func OpenSerial(o SerialOptions) (Port, error) {
	if o.Device == "" {
		return nil, fmt.Errorf("pal: empty serial device")
	}
	if o.Baud <= 0 {
		o.Baud = 115200
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 200 * time.Millisecond
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        o.Device,
		Baud:        o.Baud,
		ReadTimeout: o.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("pal: open %s: %w", o.Device, err)
	}
	return p, nil
}
