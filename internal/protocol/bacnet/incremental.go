package bacnet

import "encoding/binary"

// 增量格式头部: OBJ_ID(2) + TYPE_HINT(1)
const incrHeaderSize = 3

// IncrementalSize 返回对象增量格式编码后的字节数
func IncrementalSize(obj *Object) int {
	return incrHeaderSize + obj.Type.ValueSize()
}

func appendIncremental(dst []byte, obj *Object) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, obj.ID)
	dst = append(dst, typeHint(obj.Type))
	return append(dst, obj.Value[:obj.Type.ValueSize()]...)
}

// MarshalIncremental 批量编码：COUNT(1) + 增量格式对象流。
// 增量格式丢弃 flags 与 I/O/V 区分，换取每对象省 1 字节头部
func MarshalIncremental(objs []Object) ([]byte, error) {
	if len(objs) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(objs) > 255 {
		return nil, ErrBatchSize
	}
	size := 1
	for i := range objs {
		size += IncrementalSize(&objs[i])
	}
	out := make([]byte, 0, size)
	out = append(out, uint8(len(objs)))
	for i := range objs {
		out = appendIncremental(out, &objs[i])
	}
	return out, nil
}

// UnmarshalIncremental 批量解码增量格式载荷，
// 对象类型按值类别还原为 AI/BI/AV，flags 归零
func UnmarshalIncremental(b []byte) ([]Object, error) {
	if len(b) < 1 {
		return nil, ErrShortBuffer
	}
	count := int(b[0])
	objs := make([]Object, 0, count)
	off := 1
	for i := 0; i < count; i++ {
		if len(b[off:]) < incrHeaderSize {
			return nil, ErrShortBuffer
		}
		var obj Object
		obj.ID = binary.LittleEndian.Uint16(b[off : off+2])
		hint := b[off+2]
		obj.Type = inferType(hint)
		obj.Flags = 0
		vs := hintValueSize(hint)
		off += incrHeaderSize
		if len(b[off:]) < vs {
			return nil, ErrShortBuffer
		}
		copy(obj.Value[:vs], b[off:off+vs])
		off += vs
		objs = append(objs, obj)
	}
	return objs, nil
}

// Unmarshal 按方言自动选择批量解码器
func Unmarshal(b []byte) ([]Object, error) {
	if IsIncremental(b) {
		return UnmarshalIncremental(b)
	}
	return UnmarshalObjects(b)
}
