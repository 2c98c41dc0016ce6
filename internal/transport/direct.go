package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/xslot/internal/pal"
	"github.com/taoyao-code/xslot/internal/protocol/frame"
	"github.com/taoyao-code/xslot/internal/xsloterr"
)

// 直连探测窗口：该时间内观察到同步字节即认为对端在位
const directProbeWindow = 500 * time.Millisecond

// Direct 直连 UART 传输层（HMI 模式）。
// 接收协程将串口字节流喂给流式解码器，校验通过的帧整帧上交
type Direct struct {
	port pal.Port
	log  *zap.Logger
	dec  *frame.StreamDecoder

	cbMu sync.RWMutex
	cb   ReceiveFunc

	wrMu sync.Mutex

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewDirect 创建直连传输层，接管 port 的生命周期
func NewDirect(port pal.Port, log *zap.Logger) *Direct {
	if log == nil {
		log = zap.NewNop()
	}
	return &Direct{
		port: port,
		log:  log.Named("direct"),
		dec:  frame.NewStreamDecoder(0),
	}
}

func (d *Direct) Name() string { return "direct" }

// Probe 在探测窗口内读串口，见到同步字节即在位。
// 探测消耗的字节交给解码器，未收完的半帧留待接收协程续接；
// 探测期间已完整解出的帧被丢弃，不交付回调
func (d *Direct) Probe() bool {
	deadline := time.Now().Add(directProbeWindow)
	buf := make([]byte, 64)
	for time.Now().Before(deadline) {
		n, err := d.port.Read(buf)
		if n > 0 {
			seen := false
			for _, b := range buf[:n] {
				if b == frame.SyncByte {
					seen = true
					break
				}
			}
			d.dec.Feed(buf[:n])
			if seen {
				return true
			}
		}
		if err != nil {
			return false
		}
	}
	return false
}

func (d *Direct) SetReceiveCallback(fn ReceiveFunc) {
	d.cbMu.Lock()
	d.cb = fn
	d.cbMu.Unlock()
}

func (d *Direct) Start() error {
	if !d.running.CompareAndSwap(false, true) {
		return nil
	}
	d.done = make(chan struct{})
	d.wg.Add(1)
	go d.rxLoop()
	d.log.Info("直连传输层已启动")
	return nil
}

func (d *Direct) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	close(d.done)
	_ = d.port.Close()
	d.wg.Wait()
	d.log.Info("直连传输层已停止")
}

func (d *Direct) IsRunning() bool { return d.running.Load() }

// Send 写出一帧已编码字节
func (d *Direct) Send(encoded []byte) error {
	if !d.running.Load() {
		return fmt.Errorf("direct: %w", xsloterr.ErrNotInitialized)
	}
	d.wrMu.Lock()
	n, err := d.port.Write(encoded)
	d.wrMu.Unlock()
	if err != nil {
		return fmt.Errorf("direct: write: %w (%v)", xsloterr.ErrSendFailed, err)
	}
	if n != len(encoded) {
		return fmt.Errorf("direct: short write %d/%d: %w", n, len(encoded), xsloterr.ErrSendFailed)
	}
	return nil
}

// Configure 直连模式没有无线参数
func (d *Direct) Configure(uint8, int8) error { return nil }

// Resyncs 返回解码器累计失步恢复次数
func (d *Direct) Resyncs() uint64 { return d.dec.Resyncs() }

func (d *Direct) rxLoop() {
	defer d.wg.Done()
	buf := make([]byte, 256)
	for {
		select {
		case <-d.done:
			return
		default:
		}
		n, err := d.port.Read(buf)
		if n > 0 {
			for _, fr := range d.dec.Feed(buf[:n]) {
				raw, encErr := fr.Encode()
				if encErr != nil {
					continue
				}
				d.cbMu.RLock()
				cb := d.cb
				d.cbMu.RUnlock()
				if cb != nil {
					cb(raw)
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			d.log.Warn("串口读取失败", zap.Error(err))
			return
		}
	}
}
