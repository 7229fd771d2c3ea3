package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/tabish121/AMQPerative/internal/buffer"
)

// Marshaler is implemented by any AMQP value that knows how to encode
// itself, typically a composite (Source, Target, Error, ...).
type Marshaler interface {
	Marshal(wr *buffer.Buffer) error
}

// Marshal encodes i onto wr using the appropriate AMQP primitive or
// composite encoding for its Go type.
func Marshal(wr *buffer.Buffer, i interface{}) error {
	switch t := i.(type) {
	case nil:
		wr.AppendByte(byte(TypeCodeNull))
	case *interface{}:
		return Marshal(wr, *t)
	case bool:
		if t {
			wr.AppendByte(byte(TypeCodeBoolTrue))
		} else {
			wr.AppendByte(byte(TypeCodeBoolFalse))
		}
	case *bool:
		return Marshal(wr, *t)
	case Role:
		return Marshal(wr, bool(t))
	case *Role:
		return Marshal(wr, *t)
	case uint:
		writeUint64(wr, uint64(t))
	case *uint:
		writeUint64(wr, uint64(*t))
	case uint64:
		writeUint64(wr, t)
	case *uint64:
		writeUint64(wr, *t)
	case uint32:
		writeUint32(wr, t)
	case *uint32:
		writeUint32(wr, *t)
	case uint16:
		wr.AppendByte(byte(TypeCodeUshort))
		wr.AppendUint16(t)
	case *uint16:
		return Marshal(wr, *t)
	case uint8:
		wr.Append([]byte{byte(TypeCodeUbyte), t})
	case *uint8:
		return Marshal(wr, *t)
	case int:
		writeInt64(wr, int64(t))
	case *int:
		writeInt64(wr, int64(*t))
	case int64:
		writeInt64(wr, t)
	case *int64:
		writeInt64(wr, *t)
	case int32:
		writeInt32(wr, t)
	case *int32:
		writeInt32(wr, *t)
	case int16:
		wr.AppendByte(byte(TypeCodeShort))
		wr.AppendUint16(uint16(t))
	case *int16:
		return Marshal(wr, *t)
	case int8:
		wr.Append([]byte{byte(TypeCodeByte), byte(t)})
	case *int8:
		return Marshal(wr, *t)
	case float32:
		writeFloat(wr, t)
	case *float32:
		writeFloat(wr, *t)
	case float64:
		writeDouble(wr, t)
	case *float64:
		writeDouble(wr, *t)
	case string:
		return writeString(wr, t)
	case *string:
		return writeString(wr, *t)
	case []byte:
		return writeBinary(wr, t)
	case *[]byte:
		return writeBinary(wr, *t)
	case Symbol:
		return writeSymbol(wr, t)
	case *Symbol:
		return writeSymbol(wr, *t)
	case MultiSymbol:
		return marshalMultiSymbol(wr, t)
	case *MultiSymbol:
		return marshalMultiSymbol(wr, *t)
	case time.Time:
		writeTimestamp(wr, t)
	case *time.Time:
		writeTimestamp(wr, *t)
	case UUID:
		wr.AppendByte(byte(TypeCodeUUID))
		wr.Append(t[:])
		return nil
	case *UUID:
		return Marshal(wr, *t)
	case Milliseconds:
		writeUint32(wr, uint32(t/Milliseconds(time.Millisecond)))
		return nil
	case *Milliseconds:
		return Marshal(wr, *t)
	case Durability:
		writeUint32(wr, uint32(t))
		return nil
	case *Durability:
		return Marshal(wr, *t)
	case ExpiryPolicy:
		return writeSymbol(wr, Symbol(t))
	case *ExpiryPolicy:
		return Marshal(wr, *t)
	case SenderSettleMode:
		wr.Append([]byte{byte(TypeCodeUbyte), byte(t)})
		return nil
	case *SenderSettleMode:
		return Marshal(wr, *t)
	case ReceiverSettleMode:
		wr.Append([]byte{byte(TypeCodeUbyte), byte(t)})
		return nil
	case *ReceiverSettleMode:
		return Marshal(wr, *t)
	case ErrCond:
		return writeSymbol(wr, Symbol(t))
	case *ErrCond:
		return Marshal(wr, *t)
	case LifetimePolicy:
		wr.Append([]byte{0x0, byte(TypeCodeSmallUlong), byte(t), byte(TypeCodeList0)})
		return nil
	case map[interface{}]interface{}:
		return writeMap(wr, t)
	case *map[interface{}]interface{}:
		return writeMap(wr, *t)
	case map[string]interface{}:
		return writeMap(wr, t)
	case *map[string]interface{}:
		return writeMap(wr, *t)
	case map[Symbol]interface{}:
		return writeMap(wr, t)
	case *map[Symbol]interface{}:
		return writeMap(wr, *t)
	case Annotations:
		return writeMap(wr, t)
	case *Annotations:
		return writeMap(wr, *t)
	case Filter:
		return writeMap(wr, t)
	case *Filter:
		return writeMap(wr, *t)
	case Unsettled:
		return writeMap(wr, t)
	case *Unsettled:
		return writeMap(wr, *t)
	case DescribedType:
		return marshalDescribedType(wr, t)
	case *DescribedType:
		return marshalDescribedType(wr, *t)
	case DeliveryState:
		return marshalDeliveryState(wr, t)
	case []interface{}:
		return writeList(wr, t)
	case *[]interface{}:
		return writeList(wr, *t)
	case Marshaler:
		return t.Marshal(wr)
	default:
		return fmt.Errorf("marshal not implemented for %T", i)
	}
	return nil
}

func writeInt32(wr *buffer.Buffer, n int32) {
	if n < 128 && n >= -128 {
		wr.Append([]byte{byte(TypeCodeSmallint), byte(n)})
		return
	}
	wr.AppendByte(byte(TypeCodeInt))
	wr.AppendUint32(uint32(n))
}

func writeInt64(wr *buffer.Buffer, n int64) {
	if n < 128 && n >= -128 {
		wr.Append([]byte{byte(TypeCodeSmalllong), byte(n)})
		return
	}
	wr.AppendByte(byte(TypeCodeLong))
	wr.AppendUint64(uint64(n))
}

func writeUint32(wr *buffer.Buffer, n uint32) {
	switch {
	case n == 0:
		wr.AppendByte(byte(TypeCodeUint0))
	case n < 256:
		wr.Append([]byte{byte(TypeCodeSmallUint), byte(n)})
	default:
		wr.AppendByte(byte(TypeCodeUint))
		wr.AppendUint32(n)
	}
}

func writeUint64(wr *buffer.Buffer, n uint64) {
	switch {
	case n == 0:
		wr.AppendByte(byte(TypeCodeUlong0))
	case n < 256:
		wr.Append([]byte{byte(TypeCodeSmallUlong), byte(n)})
	default:
		wr.AppendByte(byte(TypeCodeUlong))
		wr.AppendUint64(n)
	}
}

func writeFloat(wr *buffer.Buffer, f float32) {
	wr.AppendByte(byte(TypeCodeFloat))
	wr.AppendUint32(math.Float32bits(f))
}

func writeDouble(wr *buffer.Buffer, f float64) {
	wr.AppendByte(byte(TypeCodeDouble))
	wr.AppendUint64(math.Float64bits(f))
}

func writeTimestamp(wr *buffer.Buffer, t time.Time) {
	wr.AppendByte(byte(TypeCodeTimestamp))
	ms := t.UnixNano() / int64(time.Millisecond)
	wr.AppendUint64(uint64(ms))
}

func writeString(wr *buffer.Buffer, str string) error {
	if !utf8.ValidString(str) {
		return errors.New("encoding: not a valid UTF-8 string")
	}
	l := len(str)
	switch {
	case l < 256:
		wr.Append([]byte{byte(TypeCodeStr8), byte(l)})
		wr.AppendString(str)
	case uint(l) < math.MaxUint32:
		wr.AppendByte(byte(TypeCodeStr32))
		wr.AppendUint32(uint32(l))
		wr.AppendString(str)
	default:
		return errors.New("encoding: string too long")
	}
	return nil
}

func writeSymbol(wr *buffer.Buffer, s Symbol) error {
	l := len(s)
	switch {
	case l < 256:
		wr.Append([]byte{byte(TypeCodeSym8), byte(l)})
		wr.AppendString(string(s))
	case uint(l) < math.MaxUint32:
		wr.AppendByte(byte(TypeCodeSym32))
		wr.AppendUint32(uint32(l))
		wr.AppendString(string(s))
	default:
		return errors.New("encoding: symbol too long")
	}
	return nil
}

func marshalMultiSymbol(wr *buffer.Buffer, ms MultiSymbol) error {
	if len(ms) == 1 {
		return writeSymbol(wr, ms[0])
	}
	syms := make([]interface{}, len(ms))
	for i, s := range ms {
		syms[i] = s
	}
	return writeList(wr, syms)
}

func writeBinary(wr *buffer.Buffer, bin []byte) error {
	l := len(bin)
	switch {
	case l < 256:
		wr.Append([]byte{byte(TypeCodeVbin8), byte(l)})
		wr.Append(bin)
	case uint(l) < math.MaxUint32:
		wr.AppendByte(byte(TypeCodeVbin32))
		wr.AppendUint32(uint32(l))
		wr.Append(bin)
	default:
		return errors.New("encoding: binary too long")
	}
	return nil
}

// WriteBinary exports writeBinary for callers that need to inline a binary
// value into an already-open composite (e.g. delivery tags).
func WriteBinary(wr *buffer.Buffer, bin []byte) error { return writeBinary(wr, bin) }

func writeList(wr *buffer.Buffer, list []interface{}) error {
	startIdx := wr.Len()
	wr.Append([]byte{byte(TypeCodeList32), 0, 0, 0, 0, 0, 0, 0, 0})
	preLen := wr.Len()

	for _, v := range list {
		if err := Marshal(wr, v); err != nil {
			return err
		}
	}

	size := uint32(wr.Len() - preLen + 4)
	buf := wr.Bytes()
	binary.BigEndian.PutUint32(buf[startIdx+1:], size)
	binary.BigEndian.PutUint32(buf[startIdx+5:], uint32(len(list)))
	return nil
}

func writeMap(wr *buffer.Buffer, m interface{}) error {
	startIdx := wr.Len()
	wr.Append([]byte{byte(TypeCodeMap32), 0, 0, 0, 0, 0, 0, 0, 0})

	var pairs int
	switch m := m.(type) {
	case map[interface{}]interface{}:
		pairs = len(m) * 2
		for key, val := range m {
			if err := Marshal(wr, key); err != nil {
				return err
			}
			if err := Marshal(wr, val); err != nil {
				return err
			}
		}
	case map[string]interface{}:
		pairs = len(m) * 2
		for key, val := range m {
			if err := writeString(wr, key); err != nil {
				return err
			}
			if err := Marshal(wr, val); err != nil {
				return err
			}
		}
	case map[Symbol]interface{}:
		pairs = len(m) * 2
		for key, val := range m {
			if err := writeSymbol(wr, key); err != nil {
				return err
			}
			if err := Marshal(wr, val); err != nil {
				return err
			}
		}
	case Annotations:
		pairs = len(m) * 2
		for key, val := range m {
			switch key := key.(type) {
			case string:
				if err := writeSymbol(wr, Symbol(key)); err != nil {
					return err
				}
			case Symbol:
				if err := writeSymbol(wr, key); err != nil {
					return err
				}
			case int64:
				writeInt64(wr, key)
			case int:
				writeInt64(wr, int64(key))
			default:
				return fmt.Errorf("encoding: unsupported Annotations key type %T", key)
			}
			if err := Marshal(wr, val); err != nil {
				return err
			}
		}
	case Filter:
		pairs = len(m) * 2
		for key, val := range m {
			if err := writeSymbol(wr, key); err != nil {
				return err
			}
			if err := marshalDescribedType(wr, *val); err != nil {
				return err
			}
		}
	case Unsettled:
		pairs = len(m) * 2
		for key, val := range m {
			if err := writeString(wr, key); err != nil {
				return err
			}
			if err := Marshal(wr, val); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("encoding: unsupported map type %T", m)
	}

	if uint(pairs) > math.MaxUint32-4 {
		return errors.New("encoding: map contains too many elements")
	}

	bytes := wr.Bytes()[startIdx+1 : startIdx+9]
	length := wr.Len() - startIdx - 1 - 4
	binary.BigEndian.PutUint32(bytes[:4], uint32(length))
	binary.BigEndian.PutUint32(bytes[4:8], uint32(pairs))
	return nil
}

func marshalDescribedType(wr *buffer.Buffer, t DescribedType) error {
	wr.AppendByte(0x0)
	if err := Marshal(wr, t.Descriptor); err != nil {
		return err
	}
	return Marshal(wr, t.Value)
}

// WriteDescriptor writes the two-byte-prefixed ulong descriptor that opens
// every composite type, e.g. 0x00 0x53 <code>.
func WriteDescriptor(wr *buffer.Buffer, code AMQPType) {
	wr.Append([]byte{0x0, byte(TypeCodeSmallUlong), byte(code)})
}

// Field is a single field slot in a composite's marshal call: value to
// encode, or omit it (trailing nulls are dropped rather than written).
type Field struct {
	Value interface{}
	Omit  bool
}

// MarshalComposite writes a composite's descriptor and list-encoded field
// values, dropping a trailing run of omitted fields instead of encoding
// null for each of them (the AMQP canonical-form optimization).
func MarshalComposite(wr *buffer.Buffer, code AMQPType, fields []Field) error {
	lastSetIdx := -1
	for i, f := range fields {
		if !f.Omit {
			lastSetIdx = i
		}
	}

	if lastSetIdx == -1 {
		wr.Append([]byte{0x0, byte(TypeCodeSmallUlong), byte(code), byte(TypeCodeList0)})
		return nil
	}

	WriteDescriptor(wr, code)
	wr.AppendByte(byte(TypeCodeList32))

	sizeIdx := wr.Len()
	wr.Append([]byte{0, 0, 0, 0})
	preFieldLen := wr.Len()

	wr.AppendUint32(uint32(lastSetIdx + 1))

	for _, f := range fields[:lastSetIdx+1] {
		if f.Omit {
			wr.AppendByte(byte(TypeCodeNull))
			continue
		}
		if err := Marshal(wr, f.Value); err != nil {
			return err
		}
	}

	size := uint32(wr.Len() - preFieldLen)
	buf := wr.Bytes()
	binary.BigEndian.PutUint32(buf[sizeIdx:], size)
	return nil
}
