// Package bacnet 实现精简 BACnet 对象模型与两种线上方言的序列化：
// 完整格式（id+type+flags+value）与增量格式（id+type_hint+value）。
package bacnet

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/taoyao-code/xslot/internal/xsloterr"
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

func (t ObjectType) String() string {
	switch t {
	case AnalogInput:
		return "AI"
	case AnalogOutput:
		return "AO"
	case AnalogValue:
		return "AV"
	case BinaryInput:
		return "BI"
	case BinaryOutput:
		return "BO"
	case BinaryValue:
		return "BV"
	default:
		return fmt.Sprintf("OBJ_%d", uint8(t))
	}
}

// IsAnalog 报告是否为模拟量类型（值为 float32）
func (t ObjectType) IsAnalog() bool {
	return t == AnalogInput || t == AnalogOutput || t == AnalogValue
}

// IsBinary 报告是否为开关量类型（值为 1 字节）
func (t ObjectType) IsBinary() bool {
	return t == BinaryInput || t == BinaryOutput || t == BinaryValue
}

// ValueSize 返回该类型值域的编码字节数
func (t ObjectType) ValueSize() int {
	switch {
	case t.IsAnalog():
		return 4
	case t.IsBinary():
		return 1
	default:
		return RawValueSize
	}
}

// Flag 对象状态标志位
type Flag uint8

const (
	FlagChanged      Flag = 0x01 // 值变化待上报
	FlagOutOfService Flag = 0x02 // 停用
)

// 值类别（增量格式 TYPE_HINT 低 4 位）
const (
	classAnalog = 0x00
	classBinary = 0x01
	classOther  = 0x02

	// IncrementalFlag TYPE_HINT bit7，区分两种方言
	IncrementalFlag = 0x80

	RawValueSize = 16
)

// Value 对象当前值，按对象类型解释前 4/1/16 字节
type Value [RawValueSize]byte

// AnalogValueOf 构造模拟量值（float32 小端）
func AnalogValueOf(v float32) Value {
	var out Value
	binary.LittleEndian.PutUint32(out[:4], math.Float32bits(v))
	return out
}

// BinaryValueOf 构造开关量值
func BinaryValueOf(on bool) Value {
	var out Value
	if on {
		out[0] = 1
	}
	return out
}

// RawValueOf 构造 16 字节原始值
func RawValueOf(b []byte) Value {
	var out Value
	copy(out[:], b)
	return out
}

// Analog 按模拟量解释
func (v Value) Analog() float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(v[:4]))
}

// Binary 按开关量解释，非零为真
func (v Value) Binary() bool {
	return v[0] != 0
}

// Object 一个受控点位
type Object struct {
	ID    uint16
	Type  ObjectType
	Flags Flag
	Value Value
}

var (
	ErrShortBuffer = fmt.Errorf("bacnet: truncated object data: %w", xsloterr.ErrInvalidParam)
	ErrEmptyBatch  = fmt.Errorf("bacnet: empty object batch: %w", xsloterr.ErrInvalidParam)
	ErrBatchSize   = fmt.Errorf("bacnet: batch exceeds 255 objects: %w", xsloterr.ErrInvalidParam)
)

// IsIncremental 判断一段批量载荷使用的方言。
// 批量载荷为 count(1)+对象流，首对象第 3 字节为 type 或 type_hint，
// bit7 置位即增量格式。载荷过短时按完整格式处理。
func IsIncremental(payload []byte) bool {
	return len(payload) >= 4 && payload[3]&IncrementalFlag != 0
}

func typeHint(t ObjectType) uint8 {
	switch {
	case t.IsAnalog():
		return IncrementalFlag | classAnalog
	case t.IsBinary():
		return IncrementalFlag | classBinary
	default:
		return IncrementalFlag | classOther
	}
}

// 增量格式只携带值类别，还原时统一回退到 Input/Value 类型
func inferType(hint uint8) ObjectType {
	switch hint & 0x0F {
	case classAnalog:
		return AnalogInput
	case classBinary:
		return BinaryInput
	default:
		return AnalogValue
	}
}

func hintValueSize(hint uint8) int {
	switch hint & 0x0F {
	case classAnalog:
		return 4
	case classBinary:
		return 1
	default:
		return RawValueSize
	}
}
