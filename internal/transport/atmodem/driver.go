// Package atmodem 实现网状无线模块的 AT 指令驱动：
// 单接收协程做行分帧，同步指令与异步 URC 在同一 UART 上复用。
package atmodem

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/xslot/internal/pal"
	"github.com/taoyao-code/xslot/internal/xsloterr"
)

// 默认超时
const (
	DefaultTimeout     = 2 * time.Second
	DefaultSendTimeout = 5 * time.Second
	DefaultPingTimeout = time.Second
	DefaultRebootWait  = 3 * time.Second
	DefaultProbeWindow = 5 * time.Second
)

// ErrModem 模块返回 ERROR 终止行
var ErrModem = fmt.Errorf("atmodem: modem returned ERROR: %w", xsloterr.ErrSendFailed)

type state int

const (
	stateIdle state = iota
	stateAwaiting
)

type cmdResult struct {
	lines []string
	err   error
}

type pendingCmd struct {
	lines []string
	done  chan cmdResult
}

// URCFunc URC 事件回调，由接收协程按到达顺序串行调用
type URCFunc func(ev Event)

// AddressInfo AT+ADDR? 查询结果
type AddressInfo struct {
	Addr      uint16
	GroupAddr uint16
	IsRoot    bool
}

// Driver AT 指令驱动。两状态引擎：空闲态行直接按 URC 处理，
// 等待态积累中间响应直到终止行或超时
type Driver struct {
	port pal.Port
	log  *zap.Logger

	// 指令互斥，同一时刻最多一条同步指令在途
	cmdMu sync.Mutex

	mu      sync.Mutex
	state   state
	pending *pendingCmd

	urcMu sync.Mutex
	urcCb URCFunc

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	// 超时参数，启动前可调
	Timeout     time.Duration
	SendTimeout time.Duration
	PingTimeout time.Duration
	RebootWait  time.Duration
	ProbeWindow time.Duration
}

// New 创建驱动，接管 port 的生命周期
func New(port pal.Port, log *zap.Logger) *Driver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{
		port:        port,
		log:         log.Named("atmodem"),
		Timeout:     DefaultTimeout,
		SendTimeout: DefaultSendTimeout,
		PingTimeout: DefaultPingTimeout,
		RebootWait:  DefaultRebootWait,
		ProbeWindow: DefaultProbeWindow,
	}
}

// SetURCHandler 安装 URC 回调
func (d *Driver) SetURCHandler(fn URCFunc) {
	d.urcMu.Lock()
	d.urcCb = fn
	d.urcMu.Unlock()
}

// Start 启动接收协程，幂等
func (d *Driver) Start() error {
	if !d.running.CompareAndSwap(false, true) {
		return nil
	}
	d.done = make(chan struct{})
	d.wg.Add(1)
	go d.rxLoop()
	return nil
}

// Stop 停止接收协程并关闭端口，幂等
func (d *Driver) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	close(d.done)
	_ = d.port.Close()
	d.wg.Wait()
}

// IsRunning 报告接收协程是否在运行
func (d *Driver) IsRunning() bool { return d.running.Load() }

// SendCommand 发送一条同步 AT 指令并等待终止行。
// cmd 不含前导 "AT"，线上形式为 AT<cmd>\r\n。
// 返回终止行之前的中间响应行；ERROR 与超时分别映射为 ErrModem 与超时错误
func (d *Driver) SendCommand(cmd string, timeout time.Duration) ([]string, error) {
	if !d.running.Load() {
		return nil, fmt.Errorf("atmodem: %w", xsloterr.ErrNotInitialized)
	}
	if timeout <= 0 {
		timeout = d.Timeout
	}
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	p := &pendingCmd{done: make(chan cmdResult, 1)}
	d.mu.Lock()
	d.state = stateAwaiting
	d.pending = p
	d.mu.Unlock()

	d.log.Debug("AT TX", zap.String("cmd", "AT"+cmd))
	if _, err := d.port.Write([]byte("AT" + cmd + "\r\n")); err != nil {
		d.mu.Lock()
		d.pending = nil
		d.state = stateIdle
		d.mu.Unlock()
		return nil, fmt.Errorf("atmodem: write: %w (%v)", xsloterr.ErrSendFailed, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-p.done:
		return r.lines, r.err
	case <-timer.C:
		d.mu.Lock()
		if d.pending == p {
			// 超时复位状态机
			d.pending = nil
			d.state = stateIdle
			d.mu.Unlock()
			d.log.Warn("AT 指令超时", zap.String("cmd", "AT"+cmd))
			return nil, fmt.Errorf("atmodem: command %q: %w", cmd, xsloterr.ErrTimeout)
		}
		d.mu.Unlock()
		// 终止行与超时竞争，以终止行为准
		r := <-p.done
		return r.lines, r.err
	}
}

// Ping 探测模块：裸 AT 得到 OK 即在位
func (d *Driver) Ping() bool {
	_, err := d.SendCommand("", d.PingTimeout)
	return err == nil
}

// ConfigAddress 配置本机地址，groupAddr 非零时一并下发组地址
func (d *Driver) ConfigAddress(addr, groupAddr uint16) error {
	cmd := fmt.Sprintf("+ADDR=%04X", addr)
	if groupAddr != 0 {
		cmd = fmt.Sprintf("+ADDR=%04X,%04X", addr, groupAddr)
	}
	_, err := d.SendCommand(cmd, d.Timeout)
	return err
}

// ConfigCell 配置小区 ID
func (d *Driver) ConfigCell(cellID uint8) error {
	_, err := d.SendCommand(fmt.Sprintf("+CELL=%d", cellID), d.Timeout)
	return err
}

// ConfigPower 配置发射功率
func (d *Driver) ConfigPower(dbm int8) error {
	_, err := d.SendCommand(fmt.Sprintf("+PWR=%d", dbm), d.Timeout)
	return err
}

// ConfigWakeup 配置 WOR 唤醒周期
func (d *Driver) ConfigWakeup(periodMs uint16) error {
	_, err := d.SendCommand(fmt.Sprintf("+WOR=%d", periodMs), d.Timeout)
	return err
}

// SetPowerMode 切换功耗模式。先查询 AT+LP?，已是目标模式则直接返回；
// 否则下发 AT+LP=<mode>，等待模块重启后以裸 AT 反复探测直至恢复
func (d *Driver) SetPowerMode(mode uint8) error {
	if lines, err := d.SendCommand("+LP?", d.Timeout); err == nil {
		if cur, ok := parsePowerMode(lines); ok && cur == mode {
			return nil
		}
	}
	if _, err := d.SendCommand(fmt.Sprintf("+LP=%d", mode), d.Timeout); err != nil {
		return err
	}
	time.Sleep(d.RebootWait)
	deadline := time.Now().Add(d.ProbeWindow)
	for time.Now().Before(deadline) {
		if d.Ping() {
			return nil
		}
	}
	return fmt.Errorf("atmodem: modem silent after power mode change: %w", xsloterr.ErrTimeout)
}

// QueryAddress 查询地址配置（ROOT[..] / ADDR[0x....] / GROUP_ADDR[0x....]）
func (d *Driver) QueryAddress() (AddressInfo, error) {
	lines, err := d.SendCommand("+ADDR?", d.Timeout)
	if err != nil {
		return AddressInfo{}, err
	}
	var info AddressInfo
	for _, line := range lines {
		if i := strings.Index(line, "ROOT["); i >= 0 && i+5 < len(line) {
			info.IsRoot = line[i+5] == '1'
		}
		if v, ok := bracketHex(line, "ADDR[0x"); ok && !strings.Contains(line, "GROUP_ADDR[") {
			info.Addr = v
		}
		if v, ok := bracketHex(line, "GROUP_ADDR[0x"); ok {
			info.GroupAddr = v
		}
	}
	return info, nil
}

// QueryVersion 查询固件版本
func (d *Driver) QueryVersion() (string, error) {
	lines, err := d.SendCommand("+VER?", d.Timeout)
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

// QueryESN 查询模块序列号
func (d *Driver) QueryESN() (string, error) {
	lines, err := d.SendCommand("+ESN?", d.Timeout)
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

// SendData 发送一包数据：AT+SEND=<DST_HEX>,<LEN>,<PAYLOAD_HEX>,<TYPE>，
// 载荷为大写十六进制
func (d *Driver) SendData(dst uint16, payload []byte, typ uint8) error {
	cmd := fmt.Sprintf("+SEND=%04X,%d,%s,%d",
		dst, len(payload), strings.ToUpper(hex.EncodeToString(payload)), typ)
	_, err := d.SendCommand(cmd, d.SendTimeout)
	return err
}

func (d *Driver) rxLoop() {
	defer d.wg.Done()
	buf := make([]byte, 256)
	var acc []byte
	for {
		select {
		case <-d.done:
			return
		default:
		}
		n, err := d.port.Read(buf)
		for _, b := range buf[:n] {
			if b == '\r' || b == '\n' {
				if len(acc) > 0 {
					d.processLine(string(acc))
					acc = acc[:0]
				}
				continue
			}
			acc = append(acc, b)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				d.log.Warn("串口读取失败", zap.Error(err))
			}
			return
		}
	}
}

// processLine 核心状态机。已识别的 URC 无论处于哪个状态都按到达顺序分发；
// 其余行在等待态并入中间响应，空闲态丢弃
func (d *Driver) processLine(line string) {
	d.log.Debug("AT RX", zap.String("line", line))

	if strings.HasPrefix(line, "AT") {
		// 命令回显
		return
	}
	if strings.HasPrefix(line, "+") {
		ev, recognized, err := parseURC(line)
		if recognized {
			if err != nil {
				d.log.Warn("URC 字段损坏", zap.String("line", line), zap.Error(err))
				return
			}
			d.dispatchURC(ev)
			return
		}
	}

	d.mu.Lock()
	if d.state == stateAwaiting && d.pending != nil {
		p := d.pending
		switch {
		case line == "OK":
			d.pending = nil
			d.state = stateIdle
			d.mu.Unlock()
			p.done <- cmdResult{lines: p.lines}
			return
		case strings.Contains(line, "ERROR"):
			d.pending = nil
			d.state = stateIdle
			d.mu.Unlock()
			p.done <- cmdResult{err: ErrModem}
			return
		default:
			p.lines = append(p.lines, line)
			d.mu.Unlock()
			return
		}
	}
	d.mu.Unlock()
	// 空闲态的普通行（含未识别的 '+' 行）忽略
}

func (d *Driver) dispatchURC(ev Event) {
	d.urcMu.Lock()
	cb := d.urcCb
	d.urcMu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func parsePowerMode(lines []string) (uint8, bool) {
	for _, line := range lines {
		for i := 0; i < len(line); i++ {
			if line[i] >= '0' && line[i] <= '9' {
				j := i
				for j < len(line) && line[j] >= '0' && line[j] <= '9' {
					j++
				}
				v, err := strconv.Atoi(line[i:j])
				if err == nil && v <= 255 {
					return uint8(v), true
				}
				i = j
			}
		}
	}
	return 0, false
}

func bracketHex(line, prefix string) (uint16, bool) {
	i := strings.Index(line, prefix)
	if i < 0 {
		return 0, false
	}
	rest := line[i+len(prefix):]
	j := strings.IndexByte(rest, ']')
	if j < 0 {
		return 0, false
	}
	v, err := strconv.ParseUint(rest[:j], 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}
