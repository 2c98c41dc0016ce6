package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/xslot/internal/protocol/bacnet"
	"github.com/taoyao-code/xslot/internal/protocol/frame"
	"github.com/taoyao-code/xslot/internal/xsloterr"
)

func TestBuildPingPong(t *testing.T) {
	ping := BuildPing(0xFFBE, frame.AddrHub, 7)
	assert.Equal(t, frame.CmdPing, ping.Cmd)
	assert.Empty(t, ping.Data)

	pong := BuildPong(frame.AddrHub, 0xFFBE, ping.Seq)
	assert.Equal(t, frame.CmdPong, pong.Cmd)
	assert.Equal(t, ping.Seq, pong.Seq)
	assert.Empty(t, pong.Data)
}

func TestBuildWriteAck(t *testing.T) {
	ack := BuildWriteAck(0xFFBE, frame.AddrHub, 3, 0)
	assert.Equal(t, frame.CmdWriteAck, ack.Cmd)
	assert.Equal(t, []byte{0}, ack.Data)

	result, err := ParseWriteAck(ack)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), result)
}

func TestQueryRoundTrip(t *testing.T) {
	ids := []uint16{0x0007, 0x0101, 0xBEEF}
	f, err := BuildQuery(frame.AddrHub, 0xFFBE, 9, ids)
	require.NoError(t, err)
	assert.Equal(t, frame.CmdQuery, f.Cmd)
	assert.Equal(t, []byte{0x03, 0x07, 0x00, 0x01, 0x01, 0xEF, 0xBE}, f.Data)

	got, err := ParseQuery(f)
	require.NoError(t, err)
	assert.Equal(t, ids, got)
}

func TestBuildQueryLimits(t *testing.T) {
	_, err := BuildQuery(1, 2, 0, nil)
	assert.ErrorIs(t, err, xsloterr.ErrInvalidParam)

	// COUNT(1)+2*64 = 129 > 128
	ids := make([]uint16, 64)
	_, err = BuildQuery(1, 2, 0, ids)
	assert.ErrorIs(t, err, xsloterr.ErrNoMemory)

	// 63 个刚好放得下
	_, err = BuildQuery(1, 2, 0, ids[:63])
	assert.NoError(t, err)
}

func TestParseQueryMalformed(t *testing.T) {
	_, err := ParseQuery(&frame.Frame{Cmd: frame.CmdPing})
	assert.ErrorIs(t, err, ErrWrongCommand)

	_, err = ParseQuery(&frame.Frame{Cmd: frame.CmdQuery})
	assert.ErrorIs(t, err, ErrBadPayload)

	// count 声称 3 个但只有 1 个 ID
	_, err = ParseQuery(&frame.Frame{Cmd: frame.CmdQuery, Data: []byte{3, 0x07, 0x00}})
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestReportRoundTripBothDialects(t *testing.T) {
	objs := []bacnet.Object{
		{ID: 7, Type: bacnet.AnalogInput, Value: bacnet.AnalogValueOf(23.5)},
		{ID: 8, Type: bacnet.BinaryInput, Value: bacnet.BinaryValueOf(true)},
	}

	for _, incremental := range []bool{true, false} {
		f, err := BuildReport(0xFFBE, frame.AddrHub, 1, objs, incremental)
		require.NoError(t, err)
		assert.Equal(t, frame.CmdReport, f.Cmd)
		assert.Equal(t, incremental, bacnet.IsIncremental(f.Data))

		got, err := ParseReport(f)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, uint16(7), got[0].ID)
		assert.Equal(t, float32(23.5), got[0].Value.Analog())
		assert.True(t, got[1].Value.Binary())
	}
}

func TestBuildReportOverflow(t *testing.T) {
	// 增量格式每对象 7 字节，19 个 = 1+133 > 128
	objs := make([]bacnet.Object, 19)
	for i := range objs {
		objs[i] = bacnet.Object{ID: uint16(i), Type: bacnet.AnalogInput}
	}
	_, err := BuildReport(1, 2, 0, objs, true)
	assert.ErrorIs(t, err, xsloterr.ErrNoMemory)

	// 18 个 = 1+126 放得下
	_, err = BuildReport(1, 2, 0, objs[:18], true)
	assert.NoError(t, err)

	_, err = BuildReport(1, 2, 0, nil, true)
	assert.ErrorIs(t, err, xsloterr.ErrInvalidParam)
}

func TestWriteRoundTrip(t *testing.T) {
	obj := bacnet.Object{ID: 0x0101, Type: bacnet.BinaryOutput, Flags: bacnet.FlagOutOfService, Value: bacnet.BinaryValueOf(true)}
	f, err := BuildWrite(frame.AddrHub, 0xFFC0, 5, &obj)
	require.NoError(t, err)
	assert.Equal(t, frame.CmdWrite, f.Cmd)
	// 单对象载荷不带 count 前缀
	assert.Equal(t, []byte{0x01, 0x01, 0x04, 0x02, 0x01}, f.Data)

	got, err := ParseWrite(f)
	require.NoError(t, err)
	assert.Equal(t, obj, got)
}

func TestBuildResponseFullDialect(t *testing.T) {
	objs := []bacnet.Object{{ID: 7, Type: bacnet.AnalogInput, Flags: bacnet.FlagChanged, Value: bacnet.AnalogValueOf(22)}}
	f, err := BuildResponse(0xFFBE, frame.AddrHub, 2, objs)
	require.NoError(t, err)
	assert.Equal(t, frame.CmdResponse, f.Cmd)
	assert.False(t, bacnet.IsIncremental(f.Data))

	got, err := bacnet.UnmarshalObjects(f.Data)
	require.NoError(t, err)
	assert.Equal(t, objs, got)
}

func TestBuiltFramesEncode(t *testing.T) {
	// 构建结果必须能直接通过链路层编解码
	f, err := BuildQuery(frame.AddrHMI, 0xFFBE, 11, []uint16{1})
	require.NoError(t, err)
	raw, err := f.Encode()
	require.NoError(t, err)
	back, err := frame.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, f.Data, back.Data)
}
