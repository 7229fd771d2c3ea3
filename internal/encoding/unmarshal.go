package encoding

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/tabish121/AMQPerative/internal/buffer"
)

// Unmarshaler is implemented by any AMQP value that knows how to decode
// itself from a buffer positioned at its type constructor.
type Unmarshaler interface {
	Unmarshal(r *buffer.Buffer) error
}

func peekType(r *buffer.Buffer) (AMQPType, error) {
	b, ok := r.PeekByte()
	if !ok {
		return 0, buffer.ErrBufferTooSmall
	}
	return AMQPType(b), nil
}

func readType(r *buffer.Buffer) (AMQPType, error) {
	b, err := r.ReadByte()
	return AMQPType(b), err
}

// TryReadNull consumes a leading null constructor, reporting whether one
// was present.
func TryReadNull(r *buffer.Buffer) bool {
	t, ok := r.PeekByte()
	if ok && AMQPType(t) == TypeCodeNull {
		r.Skip(1)
		return true
	}
	return false
}

func readBool(r *buffer.Buffer) (bool, error) {
	t, err := readType(r)
	if err != nil {
		return false, err
	}
	switch t {
	case TypeCodeNull:
		return false, nil
	case TypeCodeBool:
		b, err := r.ReadByte()
		return b != 0, err
	case TypeCodeBoolTrue:
		return true, nil
	case TypeCodeBoolFalse:
		return false, nil
	default:
		return false, fmt.Errorf("encoding: invalid type for bool %#02x", t)
	}
}

func readUbyte(r *buffer.Buffer) (uint8, error) {
	t, err := readType(r)
	if err != nil {
		return 0, err
	}
	if t == TypeCodeNull {
		return 0, nil
	}
	if t != TypeCodeUbyte {
		return 0, fmt.Errorf("encoding: invalid type for ubyte %#02x", t)
	}
	return r.ReadByte()
}

func readUshort(r *buffer.Buffer) (uint16, error) {
	t, err := readType(r)
	if err != nil {
		return 0, err
	}
	if t == TypeCodeNull {
		return 0, nil
	}
	if t != TypeCodeUshort {
		return 0, fmt.Errorf("encoding: invalid type for ushort %#02x", t)
	}
	buf, ok := r.Next(2)
	if !ok {
		return 0, buffer.ErrBufferTooSmall
	}
	return binary.BigEndian.Uint16(buf), nil
}

func readUint32(r *buffer.Buffer) (uint32, error) {
	t, err := readType(r)
	if err != nil {
		return 0, err
	}
	switch t {
	case TypeCodeNull, TypeCodeUint0:
		return 0, nil
	case TypeCodeSmallUint:
		b, err := r.ReadByte()
		return uint32(b), err
	case TypeCodeUint:
		buf, ok := r.Next(4)
		if !ok {
			return 0, buffer.ErrBufferTooSmall
		}
		return binary.BigEndian.Uint32(buf), nil
	default:
		return 0, fmt.Errorf("encoding: invalid type for uint32 %#02x", t)
	}
}

func readUint64(r *buffer.Buffer) (uint64, error) {
	t, err := readType(r)
	if err != nil {
		return 0, err
	}
	switch t {
	case TypeCodeNull, TypeCodeUlong0:
		return 0, nil
	case TypeCodeSmallUlong:
		b, err := r.ReadByte()
		return uint64(b), err
	case TypeCodeUlong:
		buf, ok := r.Next(8)
		if !ok {
			return 0, buffer.ErrBufferTooSmall
		}
		return binary.BigEndian.Uint64(buf), nil
	default:
		return 0, fmt.Errorf("encoding: invalid type for uint64 %#02x", t)
	}
}

func readInt32(r *buffer.Buffer) (int32, error) {
	t, err := readType(r)
	if err != nil {
		return 0, err
	}
	switch t {
	case TypeCodeNull:
		return 0, nil
	case TypeCodeSmallint:
		b, err := r.ReadByte()
		return int32(int8(b)), err
	case TypeCodeInt:
		buf, ok := r.Next(4)
		if !ok {
			return 0, buffer.ErrBufferTooSmall
		}
		return int32(binary.BigEndian.Uint32(buf)), nil
	default:
		return 0, fmt.Errorf("encoding: invalid type for int32 %#02x", t)
	}
}

func readInt64(r *buffer.Buffer) (int64, error) {
	t, err := readType(r)
	if err != nil {
		return 0, err
	}
	switch t {
	case TypeCodeNull:
		return 0, nil
	case TypeCodeSmalllong:
		b, err := r.ReadByte()
		return int64(int8(b)), err
	case TypeCodeLong:
		buf, ok := r.Next(8)
		if !ok {
			return 0, buffer.ErrBufferTooSmall
		}
		return int64(binary.BigEndian.Uint64(buf)), nil
	default:
		return 0, fmt.Errorf("encoding: invalid type for int64 %#02x", t)
	}
}

func readFloat(r *buffer.Buffer) (float32, error) {
	t, err := readType(r)
	if err != nil {
		return 0, err
	}
	if t == TypeCodeNull {
		return 0, nil
	}
	if t != TypeCodeFloat {
		return 0, fmt.Errorf("encoding: invalid type for float %#02x", t)
	}
	buf, ok := r.Next(4)
	if !ok {
		return 0, buffer.ErrBufferTooSmall
	}
	return math.Float32frombits(binary.BigEndian.Uint32(buf)), nil
}

func readDouble(r *buffer.Buffer) (float64, error) {
	t, err := readType(r)
	if err != nil {
		return 0, err
	}
	if t == TypeCodeNull {
		return 0, nil
	}
	if t != TypeCodeDouble {
		return 0, fmt.Errorf("encoding: invalid type for double %#02x", t)
	}
	buf, ok := r.Next(8)
	if !ok {
		return 0, buffer.ErrBufferTooSmall
	}
	return math.Float64frombits(binary.BigEndian.Uint64(buf)), nil
}

func readTimestamp(r *buffer.Buffer) (time.Time, error) {
	t, err := readType(r)
	if err != nil {
		return time.Time{}, err
	}
	if t == TypeCodeNull {
		return time.Time{}, nil
	}
	if t != TypeCodeTimestamp {
		return time.Time{}, fmt.Errorf("encoding: invalid type for timestamp %#02x", t)
	}
	buf, ok := r.Next(8)
	if !ok {
		return time.Time{}, buffer.ErrBufferTooSmall
	}
	ms := int64(binary.BigEndian.Uint64(buf))
	return time.UnixMilli(ms).UTC(), nil
}

func readUUID(r *buffer.Buffer) (UUID, error) {
	var u UUID
	t, err := readType(r)
	if err != nil {
		return u, err
	}
	if t == TypeCodeNull {
		return u, nil
	}
	if t != TypeCodeUUID {
		return u, fmt.Errorf("encoding: invalid type for UUID %#02x", t)
	}
	buf, ok := r.Next(16)
	if !ok {
		return u, buffer.ErrBufferTooSmall
	}
	copy(u[:], buf)
	return u, nil
}

func readStringWithType(r *buffer.Buffer, t AMQPType) (string, error) {
	switch t {
	case TypeCodeNull:
		return "", nil
	case TypeCodeStr8, TypeCodeSym8:
		l, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		buf, ok := r.Next(int64(l))
		if !ok {
			return "", buffer.ErrBufferTooSmall
		}
		return string(buf), nil
	case TypeCodeStr32, TypeCodeSym32:
		lb, ok := r.Next(4)
		if !ok {
			return "", buffer.ErrBufferTooSmall
		}
		l := binary.BigEndian.Uint32(lb)
		buf, ok := r.Next(int64(l))
		if !ok {
			return "", buffer.ErrBufferTooSmall
		}
		return string(buf), nil
	default:
		return "", fmt.Errorf("encoding: invalid type for string %#02x", t)
	}
}

func readString(r *buffer.Buffer) (string, error) {
	t, err := readType(r)
	if err != nil {
		return "", err
	}
	return readStringWithType(r, t)
}

func readBinary(r *buffer.Buffer) ([]byte, error) {
	t, err := readType(r)
	if err != nil {
		return nil, err
	}
	switch t {
	case TypeCodeNull:
		return nil, nil
	case TypeCodeVbin8:
		l, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf, ok := r.Next(int64(l))
		if !ok {
			return nil, buffer.ErrBufferTooSmall
		}
		out := make([]byte, len(buf))
		copy(out, buf)
		return out, nil
	case TypeCodeVbin32:
		lb, ok := r.Next(4)
		if !ok {
			return nil, buffer.ErrBufferTooSmall
		}
		l := binary.BigEndian.Uint32(lb)
		buf, ok := r.Next(int64(l))
		if !ok {
			return nil, buffer.ErrBufferTooSmall
		}
		out := make([]byte, len(buf))
		copy(out, buf)
		return out, nil
	default:
		return nil, fmt.Errorf("encoding: invalid type for binary %#02x", t)
	}
}

// ReadBinary exports readBinary for transfer payload decoding in internal/frames.
func ReadBinary(r *buffer.Buffer) ([]byte, error) { return readBinary(r) }

// readCompositeHeader reads the descriptor ulong and the list/map size
// header of a composite, returning its type code and field count.
func readCompositeHeader(r *buffer.Buffer) (code AMQPType, fields uint32, err error) {
	t, err := peekType(r)
	if err != nil {
		return 0, 0, err
	}

	if t == TypeCodeNull {
		r.Skip(1)
		return 0, 0, nil
	}

	// descriptor constructor byte
	b, err := r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	if b != 0x0 {
		return 0, 0, fmt.Errorf("encoding: invalid composite header %#02x", b)
	}

	descriptor, err := readUint64(r)
	if err != nil {
		return 0, 0, err
	}
	code = AMQPType(descriptor)

	listType, err := readType(r)
	if err != nil {
		return 0, 0, err
	}

	switch listType {
	case TypeCodeList0:
		return code, 0, nil
	case TypeCodeList8:
		if _, err := r.ReadByte(); err != nil { // size
			return 0, 0, err
		}
		n, err := r.ReadByte()
		return code, uint32(n), err
	case TypeCodeList32:
		if _, ok := r.Next(4); !ok { // size
			return 0, 0, buffer.ErrBufferTooSmall
		}
		buf, ok := r.Next(4)
		if !ok {
			return 0, 0, buffer.ErrBufferTooSmall
		}
		return code, binary.BigEndian.Uint32(buf), nil
	default:
		return 0, 0, fmt.Errorf("encoding: invalid composite list type %#02x", listType)
	}
}

func readMapHeader(r *buffer.Buffer) (uint32, error) {
	t, err := readType(r)
	if err != nil {
		return 0, err
	}
	switch t {
	case TypeCodeNull:
		return 0, nil
	case TypeCodeMap8:
		if _, err := r.ReadByte(); err != nil { // size
			return 0, err
		}
		n, err := r.ReadByte()
		return uint32(n), err
	case TypeCodeMap32:
		if _, ok := r.Next(4); !ok { // size
			return 0, buffer.ErrBufferTooSmall
		}
		buf, ok := r.Next(4)
		if !ok {
			return 0, buffer.ErrBufferTooSmall
		}
		return binary.BigEndian.Uint32(buf), nil
	default:
		return 0, fmt.Errorf("encoding: invalid type for map %#02x", t)
	}
}

func readListHeader(r *buffer.Buffer) (uint32, error) {
	t, err := readType(r)
	if err != nil {
		return 0, err
	}
	switch t {
	case TypeCodeNull:
		return 0, nil
	case TypeCodeList0:
		return 0, nil
	case TypeCodeList8:
		if _, err := r.ReadByte(); err != nil {
			return 0, err
		}
		n, err := r.ReadByte()
		return uint32(n), err
	case TypeCodeList32:
		if _, ok := r.Next(4); !ok {
			return 0, buffer.ErrBufferTooSmall
		}
		buf, ok := r.Next(4)
		if !ok {
			return 0, buffer.ErrBufferTooSmall
		}
		return binary.BigEndian.Uint32(buf), nil
	default:
		return 0, fmt.Errorf("encoding: invalid type for list %#02x", t)
	}
}

func readArrayHeader(r *buffer.Buffer) (length uint32, elemType AMQPType, err error) {
	t, err := readType(r)
	if err != nil {
		return 0, 0, err
	}
	switch t {
	case TypeCodeNull:
		return 0, 0, nil
	case TypeCodeArray8:
		if _, err := r.ReadByte(); err != nil { // size
			return 0, 0, err
		}
		n, err := r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		et, err := readType(r)
		return uint32(n), et, err
	case TypeCodeArray32:
		if _, ok := r.Next(4); !ok { // size
			return 0, 0, buffer.ErrBufferTooSmall
		}
		lb, ok := r.Next(4)
		if !ok {
			return 0, 0, buffer.ErrBufferTooSmall
		}
		et, err := readType(r)
		return binary.BigEndian.Uint32(lb), et, err
	default:
		return 0, 0, fmt.Errorf("encoding: invalid type for array %#02x", t)
	}
}

// ReadAny decodes a single value of whatever primitive or composite type
// its constructor byte indicates, used for maps/lists/annotations whose
// element types aren't known statically.
func ReadAny(r *buffer.Buffer) (interface{}, error) {
	t, err := peekType(r)
	if err != nil {
		return nil, err
	}

	switch t {
	case TypeCodeNull:
		r.Skip(1)
		return nil, nil
	case TypeCodeBoolTrue:
		r.Skip(1)
		return true, nil
	case TypeCodeBoolFalse:
		r.Skip(1)
		return false, nil
	case TypeCodeBool:
		return readBool(r)
	case TypeCodeUbyte:
		return readUbyte(r)
	case TypeCodeUshort:
		return readUshort(r)
	case TypeCodeUint, TypeCodeSmallUint, TypeCodeUint0:
		return readUint32(r)
	case TypeCodeUlong, TypeCodeSmallUlong, TypeCodeUlong0:
		return readUint64(r)
	case TypeCodeByte:
		r.Skip(1)
		b, err := r.ReadByte()
		return int8(b), err
	case TypeCodeShort:
		r.Skip(1)
		buf, ok := r.Next(2)
		if !ok {
			return nil, buffer.ErrBufferTooSmall
		}
		return int16(binary.BigEndian.Uint16(buf)), nil
	case TypeCodeInt, TypeCodeSmallint:
		return readInt32(r)
	case TypeCodeLong, TypeCodeSmalllong:
		return readInt64(r)
	case TypeCodeFloat:
		return readFloat(r)
	case TypeCodeDouble:
		return readDouble(r)
	case TypeCodeTimestamp:
		return readTimestamp(r)
	case TypeCodeUUID:
		return readUUID(r)
	case TypeCodeVbin8, TypeCodeVbin32:
		return readBinary(r)
	case TypeCodeStr8, TypeCodeStr32:
		return readString(r)
	case TypeCodeSym8, TypeCodeSym32:
		s, err := readString(r)
		return Symbol(s), err
	case TypeCodeMap8, TypeCodeMap32:
		return readAnyMap(r)
	case TypeCodeList0, TypeCodeList8, TypeCodeList32:
		return readAnyList(r)
	case TypeCodeArray8, TypeCodeArray32:
		return readAnyArray(r)
	default:
		if t == 0x0 {
			var dt DescribedType
			err := UnmarshalDescribedType(r, &dt)
			return dt, err
		}
		return nil, fmt.Errorf("encoding: ReadAny: unrecognized type %#02x", t)
	}
}

func readAnyMap(r *buffer.Buffer) (Annotations, error) {
	count, err := readMapHeader(r)
	if err != nil {
		return nil, err
	}
	m := make(Annotations, count/2)
	for i := uint32(0); i < count; i += 2 {
		key, err := ReadAny(r)
		if err != nil {
			return nil, err
		}
		val, err := ReadAny(r)
		if err != nil {
			return nil, err
		}
		m[key] = val
	}
	return m, nil
}

func readAnyList(r *buffer.Buffer) ([]interface{}, error) {
	count, err := readListHeader(r)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, count)
	for i := range out {
		v, err := ReadAny(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func readAnyArray(r *buffer.Buffer) ([]interface{}, error) {
	length, elemType, err := readArrayHeader(r)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, length)
	for i := range out {
		switch elemType {
		case TypeCodeStr8, TypeCodeStr32:
			out[i], err = readStringWithType(r, elemType)
		case TypeCodeSym8, TypeCodeSym32:
			var s string
			s, err = readStringWithType(r, elemType)
			out[i] = Symbol(s)
		default:
			out[i], err = ReadAny(r)
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UnmarshalDescribedType decodes a described-type value: a descriptor
// (symbol or ulong) followed by its value, used for vendor annotations and
// filter-set entries.
func UnmarshalDescribedType(r *buffer.Buffer, t *DescribedType) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	if b != 0x0 {
		return fmt.Errorf("encoding: invalid described type header %#02x", b)
	}
	descriptor, err := ReadAny(r)
	if err != nil {
		return err
	}
	value, err := ReadAny(r)
	if err != nil {
		return err
	}
	t.Descriptor = descriptor
	t.Value = value
	return nil
}

// UnmarshalField is a single field slot in a composite's Unmarshal call.
// Field must be a pointer to the destination; HandleNull, if set, runs
// instead of leaving the zero value when the wire value is null (used for
// AMQP "default" field values).
type UnmarshalField struct {
	Field      interface{}
	HandleNull func() error
}

// UnmarshalComposite reads a composite's descriptor/list header (checking
// it matches code) then decodes each present field into fields in order;
// fields beyond the wire's field count are treated as null: their HandleNull
// runs if set, otherwise they keep their zero value.
func UnmarshalComposite(r *buffer.Buffer, code AMQPType, fields ...UnmarshalField) error {
	actualCode, numFields, err := readCompositeHeader(r)
	if err != nil {
		return fmt.Errorf("encoding: unmarshalling composite %#02x: %w", code, err)
	}
	if numFields == 0 && actualCode == 0 {
		return nil // was null
	}
	if actualCode != code {
		return fmt.Errorf("encoding: invalid header %#02x for composite %#02x", actualCode, code)
	}
	return unmarshalFields(r, code, numFields, fields)
}

func unmarshalFields(r *buffer.Buffer, code AMQPType, numFields uint32, fields []UnmarshalField) error {
	for i, f := range fields {
		if uint32(i) >= numFields || TryReadNull(r) {
			if f.HandleNull != nil {
				if err := f.HandleNull(); err != nil {
					return err
				}
			}
			continue
		}
		if err := Unmarshal(r, f.Field); err != nil {
			return fmt.Errorf("encoding: unmarshalling field %d of composite %#02x: %w", i, code, err)
		}
	}
	return nil
}

// Unmarshal decodes the value at r's current position into i, which must be
// a pointer (or an Unmarshaler).
func Unmarshal(r *buffer.Buffer, i interface{}) error {
	if r.Len() == 0 {
		return buffer.ErrBufferTooSmall
	}

	switch t := i.(type) {
	case Unmarshaler:
		return t.Unmarshal(r)
	case *int:
		n, err := readInt64(r)
		*t = int(n)
		return err
	case *int8:
		n, err := readInt64(r)
		*t = int8(n)
		return err
	case *int16:
		n, err := readInt64(r)
		*t = int16(n)
		return err
	case *int32:
		n, err := readInt32(r)
		*t = n
		return err
	case *int64:
		n, err := readInt64(r)
		*t = n
		return err
	case *uint:
		n, err := readUint64(r)
		*t = uint(n)
		return err
	case *uint8:
		n, err := readUbyte(r)
		*t = n
		return err
	case *uint16:
		n, err := readUshort(r)
		*t = n
		return err
	case *uint32:
		n, err := readUint32(r)
		*t = n
		return err
	case *uint64:
		n, err := readUint64(r)
		*t = n
		return err
	case *bool:
		b, err := readBool(r)
		*t = b
		return err
	case *Role:
		b, err := readBool(r)
		*t = Role(b)
		return err
	case *float32:
		f, err := readFloat(r)
		*t = f
		return err
	case *float64:
		f, err := readDouble(r)
		*t = f
		return err
	case *string:
		s, err := readString(r)
		*t = s
		return err
	case *[]byte:
		b, err := readBinary(r)
		*t = b
		return err
	case *Symbol:
		s, err := readString(r)
		*t = Symbol(s)
		return err
	case *MultiSymbol:
		return unmarshalMultiSymbol(r, t)
	case *time.Time:
		tm, err := readTimestamp(r)
		*t = tm
		return err
	case *UUID:
		u, err := readUUID(r)
		*t = u
		return err
	case *Milliseconds:
		n, err := readUint32(r)
		*t = Milliseconds(time.Duration(n) * time.Millisecond)
		return err
	case *Durability:
		n, err := readUint32(r)
		*t = Durability(n)
		return err
	case *ExpiryPolicy:
		s, err := readString(r)
		if err != nil {
			return err
		}
		*t = ExpiryPolicy(s)
		return t.Validate()
	case *SenderSettleMode:
		n, err := readUbyte(r)
		*t = SenderSettleMode(n)
		return err
	case *ReceiverSettleMode:
		n, err := readUbyte(r)
		*t = ReceiverSettleMode(n)
		return err
	case *ErrCond:
		s, err := readString(r)
		*t = ErrCond(s)
		return err
	case *LifetimePolicy:
		code, fields, err := readCompositeHeader(r)
		if err != nil {
			return err
		}
		if fields != 0 {
			return fmt.Errorf("encoding: invalid field count %d for lifetime-policy", fields)
		}
		*t = LifetimePolicy(code)
		return nil
	case *Annotations:
		m, err := readAnyMap(r)
		*t = m
		return err
	case *map[string]interface{}:
		count, err := readMapHeader(r)
		if err != nil {
			return err
		}
		m := make(map[string]interface{}, count/2)
		for i := uint32(0); i < count; i += 2 {
			key, err := readString(r)
			if err != nil {
				return err
			}
			val, err := ReadAny(r)
			if err != nil {
				return err
			}
			m[key] = val
		}
		*t = m
		return nil
	case *map[Symbol]interface{}:
		count, err := readMapHeader(r)
		if err != nil {
			return err
		}
		m := make(map[Symbol]interface{}, count/2)
		for i := uint32(0); i < count; i += 2 {
			key, err := readString(r)
			if err != nil {
				return err
			}
			val, err := ReadAny(r)
			if err != nil {
				return err
			}
			m[Symbol(key)] = val
		}
		*t = m
		return nil
	case *Filter:
		count, err := readMapHeader(r)
		if err != nil {
			return err
		}
		m := make(Filter, count/2)
		for i := uint32(0); i < count; i += 2 {
			key, err := readString(r)
			if err != nil {
				return err
			}
			var val DescribedType
			if err := Unmarshal(r, &val); err != nil {
				return err
			}
			m[Symbol(key)] = &val
		}
		*t = m
		return nil
	case *Unsettled:
		count, err := readMapHeader(r)
		if err != nil {
			return err
		}
		m := make(Unsettled, count/2)
		for i := uint32(0); i < count; i += 2 {
			key, err := readString(r)
			if err != nil {
				return err
			}
			var val DeliveryState
			if err := Unmarshal(r, &val); err != nil {
				return err
			}
			m[key] = val
		}
		*t = m
		return nil
	case *DescribedType:
		return UnmarshalDescribedType(r, t)
	case *interface{}:
		v, err := ReadAny(r)
		*t = v
		return err
	case *DeliveryState:
		return unmarshalDeliveryState(r, t)
	case **Error:
		var e Error
		if err := e.Unmarshal(r); err != nil {
			return err
		}
		*t = &e
		return nil

	// Optional composite fields are pointer-typed on the performative
	// records; allocate through one level of indirection. A null wire
	// value never reaches here (unmarshalFields consumes it first).
	case **uint16:
		var v uint16
		if err := Unmarshal(r, &v); err != nil {
			return err
		}
		*t = &v
		return nil
	case **uint32:
		var v uint32
		if err := Unmarshal(r, &v); err != nil {
			return err
		}
		*t = &v
		return nil
	case **Milliseconds:
		var v Milliseconds
		if err := Unmarshal(r, &v); err != nil {
			return err
		}
		*t = &v
		return nil
	case **SenderSettleMode:
		var v SenderSettleMode
		if err := Unmarshal(r, &v); err != nil {
			return err
		}
		*t = &v
		return nil
	case **ReceiverSettleMode:
		var v ReceiverSettleMode
		if err := Unmarshal(r, &v); err != nil {
			return err
		}
		*t = &v
		return nil
	case **Source:
		var v Source
		if err := v.Unmarshal(r); err != nil {
			return err
		}
		*t = &v
		return nil
	case **Target:
		var v Target
		if err := v.Unmarshal(r); err != nil {
			return err
		}
		*t = &v
		return nil

	default:
		return fmt.Errorf("encoding: unmarshal not implemented for %T", i)
	}
}

func unmarshalMultiSymbol(r *buffer.Buffer, ms *MultiSymbol) error {
	t, err := peekType(r)
	if err != nil {
		return err
	}

	if t == TypeCodeSym8 || t == TypeCodeSym32 {
		s, err := readString(r)
		if err != nil {
			return err
		}
		*ms = MultiSymbol{Symbol(s)}
		return nil
	}

	var list []interface{}
	if t == TypeCodeArray8 || t == TypeCodeArray32 {
		list, err = readAnyArray(r)
	} else {
		list, err = readAnyList(r)
	}
	if err != nil {
		return err
	}
	out := make(MultiSymbol, len(list))
	for i, v := range list {
		switch v := v.(type) {
		case Symbol:
			out[i] = v
		case string:
			out[i] = Symbol(v)
		default:
			return fmt.Errorf("encoding: invalid multi-symbol element %T", v)
		}
	}
	*ms = out
	return nil
}

func unmarshalDeliveryState(r *buffer.Buffer, ds *DeliveryState) error {
	code, numFields, err := readCompositeHeader(r)
	if err != nil {
		return err
	}

	switch code {
	case TypeCodeStateAccepted:
		*ds = StateAccepted{}
		return nil
	case TypeCodeStateReleased:
		*ds = StateReleased{}
		return nil
	case TypeCodeStateRejected:
		var s StateRejected
		err := unmarshalFields(r, code, numFields, []UnmarshalField{{Field: &s.Error}})
		*ds = s
		return err
	case TypeCodeStateModified:
		var s StateModified
		err := unmarshalFields(r, code, numFields, []UnmarshalField{
			{Field: &s.DeliveryFailed},
			{Field: &s.UndeliverableHere},
			{Field: &s.MessageAnnotations},
		})
		*ds = s
		return err
	case TypeCodeStateReceived:
		var s StateReceived
		err := unmarshalFields(r, code, numFields, []UnmarshalField{
			{Field: &s.SectionNumber},
			{Field: &s.SectionOffset},
		})
		*ds = s
		return err
	default:
		return fmt.Errorf("encoding: unrecognized delivery-state composite %#02x", code)
	}
}
