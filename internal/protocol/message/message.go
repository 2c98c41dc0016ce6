// Package message 按命令构建与解析应用层消息，载荷编码复用 bacnet 包。
package message

import (
	"encoding/binary"
	"fmt"

	"github.com/taoyao-code/xslot/internal/protocol/bacnet"
	"github.com/taoyao-code/xslot/internal/protocol/frame"
	"github.com/taoyao-code/xslot/internal/xsloterr"
)

var (
	ErrWrongCommand = fmt.Errorf("message: wrong command: %w", xsloterr.ErrInvalidParam)
	ErrBadPayload   = fmt.Errorf("message: malformed payload: %w", xsloterr.ErrInvalidParam)
	ErrPayloadLimit = fmt.Errorf("message: payload exceeds frame limit: %w", xsloterr.ErrNoMemory)
)

// BuildPing 构建 PING 帧（空载荷）
func BuildPing(from, to uint16, seq uint8) *frame.Frame {
	return &frame.Frame{From: from, To: to, Seq: seq, Cmd: frame.CmdPing}
}

// BuildPong 构建 PONG 帧，seq 取所回应 PING 的序号
func BuildPong(from, to uint16, seq uint8) *frame.Frame {
	return &frame.Frame{From: from, To: to, Seq: seq, Cmd: frame.CmdPong}
}

// BuildWriteAck 构建 WRITE_ACK 帧，result 为 1 字节结果码（0 成功）
func BuildWriteAck(from, to uint16, seq uint8, result uint8) *frame.Frame {
	return &frame.Frame{From: from, To: to, Seq: seq, Cmd: frame.CmdWriteAck, Data: []byte{result}}
}

// BuildQuery 构建 QUERY 帧：COUNT(1) + OBJ_ID(2,小端)×count
func BuildQuery(from, to uint16, seq uint8, objectIDs []uint16) (*frame.Frame, error) {
	if len(objectIDs) == 0 {
		return nil, fmt.Errorf("message: query without object ids: %w", xsloterr.ErrInvalidParam)
	}
	if 1+len(objectIDs)*2 > frame.MaxDataLen {
		return nil, ErrPayloadLimit
	}
	data := make([]byte, 0, 1+len(objectIDs)*2)
	data = append(data, uint8(len(objectIDs)))
	for _, id := range objectIDs {
		data = binary.LittleEndian.AppendUint16(data, id)
	}
	return &frame.Frame{From: from, To: to, Seq: seq, Cmd: frame.CmdQuery, Data: data}, nil
}

// ParseQuery 解析 QUERY 帧载荷，返回请求的对象 ID 列表
func ParseQuery(f *frame.Frame) ([]uint16, error) {
	if f.Cmd != frame.CmdQuery {
		return nil, ErrWrongCommand
	}
	if len(f.Data) < 1 {
		return nil, ErrBadPayload
	}
	count := int(f.Data[0])
	if len(f.Data) < 1+count*2 {
		return nil, ErrBadPayload
	}
	ids := make([]uint16, count)
	for i := 0; i < count; i++ {
		ids[i] = binary.LittleEndian.Uint16(f.Data[1+i*2 : 3+i*2])
	}
	return ids, nil
}

// BuildReport 构建 REPORT 帧，incremental 选择增量方言（边缘节点默认）
func BuildReport(from, to uint16, seq uint8, objs []bacnet.Object, incremental bool) (*frame.Frame, error) {
	var (
		data []byte
		err  error
	)
	if incremental {
		data, err = bacnet.MarshalIncremental(objs)
	} else {
		data, err = bacnet.MarshalObjects(objs)
	}
	if err != nil {
		return nil, err
	}
	if len(data) > frame.MaxDataLen {
		return nil, ErrPayloadLimit
	}
	return &frame.Frame{From: from, To: to, Seq: seq, Cmd: frame.CmdReport, Data: data}, nil
}

// ParseReport 解析 REPORT 帧载荷，方言按首对象的类型字节自动识别
func ParseReport(f *frame.Frame) ([]bacnet.Object, error) {
	if f.Cmd != frame.CmdReport {
		return nil, ErrWrongCommand
	}
	if len(f.Data) < 1 {
		return nil, ErrBadPayload
	}
	return bacnet.Unmarshal(f.Data)
}

// BuildResponse 构建 RESPONSE 帧（完整方言，应答 QUERY）
func BuildResponse(from, to uint16, seq uint8, objs []bacnet.Object) (*frame.Frame, error) {
	data, err := bacnet.MarshalObjects(objs)
	if err != nil {
		return nil, err
	}
	if len(data) > frame.MaxDataLen {
		return nil, ErrPayloadLimit
	}
	return &frame.Frame{From: from, To: to, Seq: seq, Cmd: frame.CmdResponse, Data: data}, nil
}

// BuildWrite 构建 WRITE 帧，载荷为单个完整格式对象（无 count 前缀）
func BuildWrite(from, to uint16, seq uint8, obj *bacnet.Object) (*frame.Frame, error) {
	data := bacnet.MarshalObject(obj)
	if len(data) > frame.MaxDataLen {
		return nil, ErrPayloadLimit
	}
	return &frame.Frame{From: from, To: to, Seq: seq, Cmd: frame.CmdWrite, Data: data}, nil
}

// ParseWrite 解析 WRITE 帧载荷
func ParseWrite(f *frame.Frame) (bacnet.Object, error) {
	if f.Cmd != frame.CmdWrite {
		return bacnet.Object{}, ErrWrongCommand
	}
	obj, _, err := bacnet.UnmarshalObject(f.Data)
	return obj, err
}

// ParseWriteAck 解析 WRITE_ACK 帧载荷，返回结果码
func ParseWriteAck(f *frame.Frame) (uint8, error) {
	if f.Cmd != frame.CmdWriteAck {
		return 0, ErrWrongCommand
	}
	if len(f.Data) < 1 {
		return 0, ErrBadPayload
	}
	return f.Data[0], nil
}
