package manager

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/xslot/internal/protocol/bacnet"
	"github.com/taoyao-code/xslot/internal/protocol/frame"
	"github.com/taoyao-code/xslot/internal/protocol/message"
	"github.com/taoyao-code/xslot/internal/transport"
	"github.com/taoyao-code/xslot/internal/xsloterr"
)

// fakeTransport 可注入入站帧并记录出站帧的测试传输层
type fakeTransport struct {
	name     string
	probeOK  bool
	startErr error

	mu      sync.Mutex
	sent    [][]byte
	cb      transport.ReceiveFunc
	running bool

	cellID   uint8
	powerDBm int8
}

func (f *fakeTransport) Name() string { return f.name }
func (f *fakeTransport) Probe() bool  { return f.probeOK }
func (f *fakeTransport) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
	return nil
}
func (f *fakeTransport) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
}
func (f *fakeTransport) Send(encoded []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, append([]byte(nil), encoded...))
	f.mu.Unlock()
	return nil
}
func (f *fakeTransport) Configure(cellID uint8, powerDBm int8) error {
	f.mu.Lock()
	f.cellID, f.powerDBm = cellID, powerDBm
	f.mu.Unlock()
	return nil
}
func (f *fakeTransport) SetReceiveCallback(fn transport.ReceiveFunc) {
	f.mu.Lock()
	f.cb = fn
	f.mu.Unlock()
}
func (f *fakeTransport) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeTransport) inject(t *testing.T, fr *frame.Frame) {
	t.Helper()
	raw, err := fr.Encode()
	require.NoError(t, err)
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	require.NotNil(t, cb)
	cb(raw)
}

func (f *fakeTransport) sentFrames(t *testing.T) []*frame.Frame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*frame.Frame, 0, len(f.sent))
	for _, raw := range f.sent {
		fr, err := frame.Decode(raw)
		require.NoError(t, err)
		out = append(out, fr)
	}
	return out
}

const testAddr uint16 = 0xFFBE

func newTestManager(t *testing.T, cfg Config, tr *fakeTransport, mode RunMode) *Manager {
	t.Helper()
	if cfg.LocalAddr == 0 {
		cfg.LocalAddr = testAddr
	}
	m := New(cfg, []Candidate{{Mode: mode, Transport: tr}}, nil, nil)
	require.NoError(t, m.Start())
	t.Cleanup(m.Stop)
	return m
}

func TestStartProbeOrder(t *testing.T) {
	mesh := &fakeTransport{name: "mesh", probeOK: false}
	direct := &fakeTransport{name: "direct", probeOK: true}
	m := New(Config{LocalAddr: testAddr}, []Candidate{
		{Mode: ModeWireless, Transport: mesh},
		{Mode: ModeHmi, Transport: direct},
	}, nil, nil)
	require.NoError(t, m.Start())
	defer m.Stop()
	assert.Equal(t, ModeHmi, m.RunMode())
	assert.True(t, direct.IsRunning())
}

func TestStartNoDevice(t *testing.T) {
	mesh := &fakeTransport{name: "mesh"}
	m := New(Config{LocalAddr: testAddr}, []Candidate{
		{Mode: ModeWireless, Transport: mesh},
	}, nil, nil)
	err := m.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, xsloterr.ErrNoDevice)
	assert.Equal(t, ModeNone, m.RunMode())
	assert.False(t, m.IsRunning())

	// 失败后保持可重启
	mesh.probeOK = true
	require.NoError(t, m.Start())
	assert.Equal(t, ModeWireless, m.RunMode())
	m.Stop()
}

func TestDispatchPingAnswersPong(t *testing.T) {
	tr := &fakeTransport{name: "direct", probeOK: true}
	m := newTestManager(t, Config{}, tr, ModeHmi)

	tr.inject(t, message.BuildPing(0x0001, testAddr, 0x2A))

	sent := tr.sentFrames(t)
	require.Len(t, sent, 1)
	assert.Equal(t, frame.CmdPong, sent[0].Cmd)
	assert.Equal(t, uint8(0x2A), sent[0].Seq)
	assert.Equal(t, uint16(0x0001), sent[0].To)
	assert.Equal(t, testAddr, sent[0].From)

	// 来帧方应已入表在线
	assert.True(t, m.IsNodeOnline(0x0001))
}

func TestDispatchNodeCallbackOnce(t *testing.T) {
	tr := &fakeTransport{name: "direct", probeOK: true}
	m := newTestManager(t, Config{}, tr, ModeHmi)

	var mu sync.Mutex
	var events []uint16
	m.SetNodeCallback(func(addr uint16, online bool) {
		mu.Lock()
		if online {
			events = append(events, addr)
		}
		mu.Unlock()
	})

	tr.inject(t, message.BuildPing(0x0002, testAddr, 1))
	tr.inject(t, message.BuildPing(0x0002, testAddr, 2))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint16{0x0002}, events, "同一节点重复来帧只上线一次")
}

func TestDispatchIgnoresOtherDestinations(t *testing.T) {
	tr := &fakeTransport{name: "direct", probeOK: true}
	m := newTestManager(t, Config{}, tr, ModeHmi)

	tr.inject(t, message.BuildPing(0x0001, 0x1234, 1))
	assert.Empty(t, tr.sentFrames(t))
	assert.False(t, m.IsNodeOnline(0x0001))
}

func TestDispatchBroadcastAccepted(t *testing.T) {
	tr := &fakeTransport{name: "direct", probeOK: true}
	m := newTestManager(t, Config{}, tr, ModeHmi)

	tr.inject(t, message.BuildPing(0x0001, frame.AddrBroadcast, 1))
	assert.True(t, m.IsNodeOnline(0x0001))
}

func TestDispatchReport(t *testing.T) {
	tr := &fakeTransport{name: "direct", probeOK: true}
	m := newTestManager(t, Config{}, tr, ModeHmi)

	var mu sync.Mutex
	var gotSrc uint16
	var gotObjs []bacnet.Object
	m.SetReportCallback(func(src uint16, objs []bacnet.Object) {
		mu.Lock()
		gotSrc, gotObjs = src, objs
		mu.Unlock()
	})

	objs := []bacnet.Object{
		{ID: 7, Type: bacnet.AnalogInput, Value: bacnet.AnalogValueOf(23.5)},
		{ID: 8, Type: bacnet.BinaryInput, Value: bacnet.BinaryValueOf(true)},
	}
	fr, err := message.BuildReport(0x0003, testAddr, 5, objs, true)
	require.NoError(t, err)
	tr.inject(t, fr)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, uint16(0x0003), gotSrc)
	require.Len(t, gotObjs, 2)
	assert.Equal(t, uint16(7), gotObjs[0].ID)
	assert.InDelta(t, 23.5, gotObjs[0].Value.Analog(), 1e-6)

	info, ok := m.nodes.Get(0x0003)
	require.True(t, ok)
	assert.Equal(t, uint8(2), info.ObjectCount)
}

func TestDispatchWriteAcksZero(t *testing.T) {
	tr := &fakeTransport{name: "direct", probeOK: true}
	m := newTestManager(t, Config{}, tr, ModeHmi)

	var mu sync.Mutex
	var got bacnet.Object
	m.SetWriteCallback(func(src uint16, obj bacnet.Object) {
		mu.Lock()
		got = obj
		mu.Unlock()
	})

	obj := bacnet.Object{ID: 3, Type: bacnet.BinaryOutput, Value: bacnet.BinaryValueOf(true)}
	fr, err := message.BuildWrite(0xFFFE, testAddr, 9, &obj)
	require.NoError(t, err)
	tr.inject(t, fr)

	mu.Lock()
	assert.Equal(t, uint16(3), got.ID)
	mu.Unlock()

	sent := tr.sentFrames(t)
	require.Len(t, sent, 1)
	assert.Equal(t, frame.CmdWriteAck, sent[0].Cmd)
	assert.Equal(t, uint8(9), sent[0].Seq)
	assert.Equal(t, []byte{0x00}, sent[0].Data)
}

func TestDispatchRawDataCallback(t *testing.T) {
	tr := &fakeTransport{name: "direct", probeOK: true}
	m := newTestManager(t, Config{}, tr, ModeHmi)

	var mu sync.Mutex
	var cmds []frame.Command
	m.SetDataCallback(func(src uint16, cmd frame.Command, payload []byte) {
		mu.Lock()
		cmds = append(cmds, cmd)
		mu.Unlock()
	})

	q, err := message.BuildQuery(0xFFFE, testAddr, 1, []uint16{1, 2})
	require.NoError(t, err)
	tr.inject(t, q)
	tr.inject(t, &frame.Frame{From: 0xFFFE, To: testAddr, Seq: 2,
		Cmd: frame.CmdResponse, Data: []byte{0x00}})
	tr.inject(t, message.BuildWriteAck(0xFFFE, testAddr, 3, 0))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []frame.Command{frame.CmdQuery, frame.CmdResponse, frame.CmdWriteAck}, cmds)
}

func TestDispatchDropsBadFrame(t *testing.T) {
	tr := &fakeTransport{name: "direct", probeOK: true}
	m := newTestManager(t, Config{}, tr, ModeHmi)

	raw, err := message.BuildPing(0x0001, testAddr, 1).Encode()
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	tr.mu.Lock()
	cb := tr.cb
	tr.mu.Unlock()
	cb(raw)

	assert.Empty(t, tr.sentFrames(t))
	assert.False(t, m.IsNodeOnline(0x0001))
}

func TestOutboundSeqIncrements(t *testing.T) {
	tr := &fakeTransport{name: "direct", probeOK: true}
	m := newTestManager(t, Config{}, tr, ModeHmi)

	require.NoError(t, m.SendPing(0xFFFE))
	require.NoError(t, m.SendPing(0xFFFE))
	require.NoError(t, m.QueryObjects(0xFFFE, []uint16{1}))

	sent := tr.sentFrames(t)
	require.Len(t, sent, 3)
	assert.Equal(t, uint8(0), sent[0].Seq)
	assert.Equal(t, uint8(1), sent[1].Seq)
	assert.Equal(t, uint8(2), sent[2].Seq)
}

func TestOutboundReportGoesToHub(t *testing.T) {
	tr := &fakeTransport{name: "mesh", probeOK: true}
	m := newTestManager(t, Config{}, tr, ModeWireless)

	objs := []bacnet.Object{{ID: 1, Type: bacnet.AnalogValue, Value: bacnet.AnalogValueOf(1)}}
	require.NoError(t, m.ReportObjects(objs))

	sent := tr.sentFrames(t)
	require.Len(t, sent, 1)
	assert.Equal(t, frame.AddrHub, sent[0].To)
	assert.Equal(t, frame.CmdReport, sent[0].Cmd)
	// 上报默认增量方言
	assert.True(t, bacnet.IsIncremental(sent[0].Data))
}

func TestOutboundWhenStopped(t *testing.T) {
	m := New(Config{LocalAddr: testAddr}, nil, nil, nil)
	assert.ErrorIs(t, m.SendPing(0xFFFE), xsloterr.ErrNotInitialized)
}

func TestUpdateWirelessConfig(t *testing.T) {
	tr := &fakeTransport{name: "mesh", probeOK: true}
	m := newTestManager(t, Config{}, tr, ModeWireless)

	require.NoError(t, m.UpdateWirelessConfig(4, 11))
	tr.mu.Lock()
	assert.Equal(t, uint8(4), tr.cellID)
	assert.Equal(t, int8(11), tr.powerDBm)
	tr.mu.Unlock()
}

func TestUpdateWirelessConfigRejectedInHmi(t *testing.T) {
	tr := &fakeTransport{name: "direct", probeOK: true}
	m := newTestManager(t, Config{}, tr, ModeHmi)
	assert.ErrorIs(t, m.UpdateWirelessConfig(1, 1), xsloterr.ErrInvalidParam)
}

func TestHeartbeatLoop(t *testing.T) {
	tr := &fakeTransport{name: "mesh", probeOK: true}
	m := newTestManager(t, Config{HeartbeatInterval: 20 * time.Millisecond}, tr, ModeWireless)
	_ = m

	require.Eventually(t, func() bool {
		for _, fr := range tr.sentFrames(t) {
			if fr.Cmd == frame.CmdPing && fr.To == frame.AddrHub {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestHeartbeatDisabledForHub(t *testing.T) {
	tr := &fakeTransport{name: "mesh", probeOK: true}
	newTestManager(t, Config{
		LocalAddr:         frame.AddrHub,
		HeartbeatInterval: 10 * time.Millisecond,
	}, tr, ModeWireless)

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, tr.sentFrames(t), "汇聚节点不应发心跳")
}

func TestSweepMarksOffline(t *testing.T) {
	tr := &fakeTransport{name: "mesh", probeOK: true}
	m := newTestManager(t, Config{HeartbeatTimeout: 40 * time.Millisecond}, tr, ModeWireless)

	offline := make(chan uint16, 1)
	m.SetNodeCallback(func(addr uint16, online bool) {
		if !online {
			offline <- addr
		}
	})

	tr.inject(t, message.BuildPing(0x0005, testAddr, 1))
	require.True(t, m.IsNodeOnline(0x0005))

	select {
	case addr := <-offline:
		assert.Equal(t, uint16(0x0005), addr)
	case <-time.After(time.Second):
		t.Fatal("超时巡检未触发离线回调")
	}
	assert.False(t, m.IsNodeOnline(0x0005))
}

func TestStopIdempotentAndRestartable(t *testing.T) {
	tr := &fakeTransport{name: "direct", probeOK: true}
	m := New(Config{LocalAddr: testAddr}, []Candidate{{Mode: ModeHmi, Transport: tr}}, nil, nil)
	require.NoError(t, m.Start())
	m.Stop()
	m.Stop()
	assert.Equal(t, ModeNone, m.RunMode())
	require.NoError(t, m.Start())
	assert.Equal(t, ModeHmi, m.RunMode())
	m.Stop()
}
