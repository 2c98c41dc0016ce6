package bacnet

import "encoding/binary"

// 完整格式头部: OBJ_ID(2) + OBJ_TYPE(1) + FLAGS(1)
const fullHeaderSize = 4

// FullSize 返回对象完整格式编码后的字节数
func FullSize(obj *Object) int {
	return fullHeaderSize + obj.Type.ValueSize()
}

func appendFull(dst []byte, obj *Object) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, obj.ID)
	dst = append(dst, uint8(obj.Type), uint8(obj.Flags))
	return append(dst, obj.Value[:obj.Type.ValueSize()]...)
}

// MarshalObject 编码单个对象（完整格式，无 count 前缀）
func MarshalObject(obj *Object) []byte {
	return appendFull(make([]byte, 0, FullSize(obj)), obj)
}

// UnmarshalObject 解码单个对象，返回消费的字节数
func UnmarshalObject(b []byte) (Object, int, error) {
	var obj Object
	if len(b) < fullHeaderSize {
		return obj, 0, ErrShortBuffer
	}
	obj.ID = binary.LittleEndian.Uint16(b[0:2])
	obj.Type = ObjectType(b[2])
	obj.Flags = Flag(b[3])
	vs := obj.Type.ValueSize()
	if len(b) < fullHeaderSize+vs {
		return obj, 0, ErrShortBuffer
	}
	copy(obj.Value[:vs], b[fullHeaderSize:fullHeaderSize+vs])
	return obj, fullHeaderSize + vs, nil
}

// MarshalObjects 批量编码：COUNT(1) + 完整格式对象流
func MarshalObjects(objs []Object) ([]byte, error) {
	if len(objs) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(objs) > 255 {
		return nil, ErrBatchSize
	}
	size := 1
	for i := range objs {
		size += FullSize(&objs[i])
	}
	out := make([]byte, 0, size)
	out = append(out, uint8(len(objs)))
	for i := range objs {
		out = appendFull(out, &objs[i])
	}
	return out, nil
}

// UnmarshalObjects 批量解码完整格式载荷
func UnmarshalObjects(b []byte) ([]Object, error) {
	if len(b) < 1 {
		return nil, ErrShortBuffer
	}
	count := int(b[0])
	objs := make([]Object, 0, count)
	off := 1
	for i := 0; i < count; i++ {
		obj, n, err := UnmarshalObject(b[off:])
		if err != nil {
			return nil, err
		}
		objs = append(objs, obj)
		off += n
	}
	return objs, nil
}
