// Package frame 实现链路层帧的编解码：同步字节、地址、序号、命令与 CRC16 校验。
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/sigurn/crc16"

	"github.com/taoyao-code/xslot/internal/xsloterr"
)

// 帧格式常量
const (
	SyncByte   = 0xAA
	HeaderSize = 8   // sync(1)+from(2)+to(2)+seq(1)+cmd(1)+len(1)
	CRCSize    = 2   // CRC16 小端
	MaxDataLen = 128 // 单帧载荷上限
	MinSize    = HeaderSize + CRCSize
	MaxSize    = HeaderSize + MaxDataLen + CRCSize
)

// 保留地址
const (
	AddrBroadcast uint16 = 0x0000
	AddrHMI       uint16 = 0xFF00
	AddrHub       uint16 = 0xFFFE
)

// Command 帧命令字
type Command uint8

const (
	CmdPing     Command = 0x01
	CmdPong     Command = 0x02
	CmdReport   Command = 0x10
	CmdQuery    Command = 0x11
	CmdResponse Command = 0x12
	CmdWrite    Command = 0x20
	CmdWriteAck Command = 0x21
)

func (c Command) String() string {
	switch c {
	case CmdPing:
		return "PING"
	case CmdPong:
		return "PONG"
	case CmdReport:
		return "REPORT"
	case CmdQuery:
		return "QUERY"
	case CmdResponse:
		return "RESPONSE"
	case CmdWrite:
		return "WRITE"
	case CmdWriteAck:
		return "WRITE_ACK"
	default:
		return fmt.Sprintf("CMD_0x%02X", uint8(c))
	}
}

var (
	ErrShortFrame  = fmt.Errorf("short frame: %w", xsloterr.ErrInvalidParam)
	ErrBadSync     = fmt.Errorf("bad sync byte: %w", xsloterr.ErrInvalidParam)
	ErrBadLength   = fmt.Errorf("bad length field: %w", xsloterr.ErrInvalidParam)
	ErrDataTooLong = fmt.Errorf("payload exceeds limit: %w", xsloterr.ErrInvalidParam)
	ErrBadCRC      = fmt.Errorf("frame crc mismatch: %w", xsloterr.ErrCRC)
)

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

func init() {
	// 参考向量自检，表错直接拒绝启动
	if crc16.Checksum([]byte("123456789"), crcTable) != 0x29B1 {
		panic("frame: crc16 ccitt-false reference vector mismatch")
	}
}

// Checksum 计算 CRC16-CCITT-FALSE（poly 0x1021, init 0xFFFF）
func Checksum(b []byte) uint16 {
	return crc16.Checksum(b, crcTable)
}

// Frame 一帧的逻辑表示，Data 长度不超过 MaxDataLen
type Frame struct {
	From uint16
	To   uint16
	Seq  uint8
	Cmd  Command
	Data []byte
}

// EncodedSize 返回编码后的总字节数
func (f *Frame) EncodedSize() int {
	return HeaderSize + len(f.Data) + CRCSize
}

// Encode 编码为线上字节序列：头部+载荷+CRC（小端），覆盖范围为头部与载荷
func (f *Frame) Encode() ([]byte, error) {
	if len(f.Data) > MaxDataLen {
		return nil, ErrDataTooLong
	}
	out := make([]byte, f.EncodedSize())
	out[0] = SyncByte
	binary.LittleEndian.PutUint16(out[1:3], f.From)
	binary.LittleEndian.PutUint16(out[3:5], f.To)
	out[5] = f.Seq
	out[6] = uint8(f.Cmd)
	out[7] = uint8(len(f.Data))
	copy(out[HeaderSize:], f.Data)
	sum := Checksum(out[:HeaderSize+len(f.Data)])
	binary.LittleEndian.PutUint16(out[HeaderSize+len(f.Data):], sum)
	return out, nil
}

// Decode 严格解析一帧：同步字节、长度字段、CRC 全部校验。
// raw 长度必须至少为 MinSize，允许尾部携带多余字节（按 len 字段截取）。
func Decode(raw []byte) (*Frame, error) {
	if len(raw) < MinSize {
		return nil, ErrShortFrame
	}
	if raw[0] != SyncByte {
		return nil, ErrBadSync
	}
	dataLen := int(raw[7])
	if dataLen > MaxDataLen {
		return nil, ErrBadLength
	}
	total := HeaderSize + dataLen + CRCSize
	if len(raw) < total {
		return nil, ErrShortFrame
	}
	got := binary.LittleEndian.Uint16(raw[HeaderSize+dataLen : total])
	want := Checksum(raw[:HeaderSize+dataLen])
	if got != want {
		return nil, ErrBadCRC
	}
	f := &Frame{
		From: binary.LittleEndian.Uint16(raw[1:3]),
		To:   binary.LittleEndian.Uint16(raw[3:5]),
		Seq:  raw[5],
		Cmd:  Command(raw[6]),
	}
	if dataLen > 0 {
		f.Data = make([]byte, dataLen)
		copy(f.Data, raw[HeaderSize:HeaderSize+dataLen])
	}
	return f, nil
}

// PeekDst 从已编码帧中读出目的地址（字节 3..4，小端），供发送路径寻址
func PeekDst(encoded []byte) (uint16, error) {
	if len(encoded) < 5 {
		return 0, ErrShortFrame
	}
	return binary.LittleEndian.Uint16(encoded[3:5]), nil
}
