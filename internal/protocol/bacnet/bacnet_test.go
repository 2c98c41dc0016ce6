package bacnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueAccessors(t *testing.T) {
	assert.Equal(t, float32(23.5), AnalogValueOf(23.5).Analog())
	assert.True(t, BinaryValueOf(true).Binary())
	assert.False(t, BinaryValueOf(false).Binary())

	raw := RawValueOf([]byte{1, 2, 3})
	assert.Equal(t, byte(1), raw[0])
	assert.Equal(t, byte(0), raw[15])
}

func TestObjectTypeClasses(t *testing.T) {
	for _, typ := range []ObjectType{AnalogInput, AnalogOutput, AnalogValue} {
		assert.True(t, typ.IsAnalog(), typ.String())
		assert.Equal(t, 4, typ.ValueSize())
	}
	for _, typ := range []ObjectType{BinaryInput, BinaryOutput, BinaryValue} {
		assert.True(t, typ.IsBinary(), typ.String())
		assert.Equal(t, 1, typ.ValueSize())
	}
	assert.Equal(t, RawValueSize, ObjectType(9).ValueSize())
}

func TestMarshalObjectLayout(t *testing.T) {
	obj := Object{ID: 0x0007, Type: AnalogInput, Flags: FlagChanged, Value: AnalogValueOf(23.5)}
	b := MarshalObject(&obj)
	// id(LE) + type + flags + float32(LE)
	assert.Equal(t, []byte{0x07, 0x00, 0x00, 0x01, 0x00, 0x00, 0xBC, 0x41}, b)

	got, n, err := UnmarshalObject(b)
	require.NoError(t, err)
	assert.Equal(t, len(b), n)
	assert.Equal(t, obj, got)
}

func TestFullBatchRoundTrip(t *testing.T) {
	objs := []Object{
		{ID: 1, Type: AnalogInput, Flags: FlagChanged, Value: AnalogValueOf(23.5)},
		{ID: 2, Type: BinaryOutput, Flags: FlagOutOfService, Value: BinaryValueOf(true)},
		{ID: 3, Type: ObjectType(7), Value: RawValueOf([]byte{0xDE, 0xAD, 0xBE, 0xEF})},
	}
	b, err := MarshalObjects(objs)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), b[0])
	assert.False(t, IsIncremental(b))

	got, err := UnmarshalObjects(b)
	require.NoError(t, err)
	assert.Equal(t, objs, got)
}

func TestIncrementalKnownVector(t *testing.T) {
	objs := []Object{
		{ID: 7, Type: AnalogInput, Value: AnalogValueOf(23.5)},
		{ID: 8, Type: AnalogInput, Value: AnalogValueOf(24.0)},
	}
	b, err := MarshalIncremental(objs)
	require.NoError(t, err)
	want := []byte{
		0x02,
		0x07, 0x00, 0x80, 0x00, 0x00, 0xBC, 0x41,
		0x08, 0x00, 0x80, 0x00, 0x00, 0xC0, 0x41,
	}
	assert.Equal(t, want, b)
	assert.True(t, IsIncremental(b))
}

func TestIncrementalRoundTripLosesTypeDetail(t *testing.T) {
	objs := []Object{
		{ID: 10, Type: AnalogOutput, Flags: FlagChanged, Value: AnalogValueOf(-1.25)},
		{ID: 11, Type: BinaryValue, Flags: FlagChanged, Value: BinaryValueOf(true)},
		{ID: 12, Type: ObjectType(8), Value: RawValueOf([]byte{1, 2, 3, 4, 5})},
	}
	b, err := MarshalIncremental(objs)
	require.NoError(t, err)

	got, err := UnmarshalIncremental(b)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// AO→AI、BV→BI、其他→AV，flags 丢失
	assert.Equal(t, AnalogInput, got[0].Type)
	assert.Equal(t, Flag(0), got[0].Flags)
	assert.Equal(t, float32(-1.25), got[0].Value.Analog())
	assert.Equal(t, BinaryInput, got[1].Type)
	assert.True(t, got[1].Value.Binary())
	assert.Equal(t, AnalogValue, got[2].Type)
	assert.Equal(t, RawValueOf([]byte{1, 2, 3, 4, 5}), got[2].Value)
}

func TestUnmarshalAutoDetect(t *testing.T) {
	objs := []Object{{ID: 5, Type: AnalogInput, Value: AnalogValueOf(1)}}

	full, err := MarshalObjects(objs)
	require.NoError(t, err)
	incr, err := MarshalIncremental(objs)
	require.NoError(t, err)

	gotFull, err := Unmarshal(full)
	require.NoError(t, err)
	gotIncr, err := Unmarshal(incr)
	require.NoError(t, err)
	assert.Equal(t, objs, gotFull)
	assert.Equal(t, objs, gotIncr)
}

func TestBatchErrors(t *testing.T) {
	_, err := MarshalObjects(nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)
	_, err = MarshalIncremental(nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)

	// count 声称 2 个对象但只有 1 个
	b, err := MarshalObjects([]Object{{ID: 1, Type: BinaryInput}})
	require.NoError(t, err)
	b[0] = 2
	_, err = UnmarshalObjects(b)
	assert.ErrorIs(t, err, ErrShortBuffer)

	_, err = UnmarshalIncremental([]byte{})
	assert.ErrorIs(t, err, ErrShortBuffer)
}
