package amqp

import (
	"fmt"
	"time"

	"github.com/tabish121/AMQPerative/internal/buffer"
	"github.com/tabish121/AMQPerative/internal/encoding"
)

// MessageHeader carries transport-level delivery hints: durability,
// priority, TTL, and first-acquirer/delivery-count bookkeeping.
type MessageHeader struct {
	Durable       bool
	Priority      uint8
	TTL           time.Duration // from milliseconds
	FirstAcquirer bool
	DeliveryCount uint32
}

func (h *MessageHeader) marshal(wr *buffer.Buffer) error {
	ttl := encoding.Milliseconds(h.TTL)
	return encoding.MarshalComposite(wr, encoding.TypeCodeMessageHeader, []encoding.Field{
		{Value: &h.Durable, Omit: !h.Durable},
		{Value: &h.Priority, Omit: h.Priority == 4},
		{Value: &ttl, Omit: h.TTL == 0},
		{Value: &h.FirstAcquirer, Omit: !h.FirstAcquirer},
		{Value: &h.DeliveryCount, Omit: h.DeliveryCount == 0},
	})
}

func (h *MessageHeader) unmarshal(r *buffer.Buffer) error {
	var ttl encoding.Milliseconds
	err := encoding.UnmarshalComposite(r, encoding.TypeCodeMessageHeader,
		encoding.UnmarshalField{Field: &h.Durable},
		encoding.UnmarshalField{Field: &h.Priority, HandleNull: func() error { h.Priority = 4; return nil }},
		encoding.UnmarshalField{Field: &ttl},
		encoding.UnmarshalField{Field: &h.FirstAcquirer},
		encoding.UnmarshalField{Field: &h.DeliveryCount},
	)
	h.TTL = time.Duration(ttl)
	return err
}

// MessageProperties carries the standard AMQP message properties section.
type MessageProperties struct {
	MessageID          interface{}
	UserID             []byte
	To                 string
	Subject            string
	ReplyTo            string
	CorrelationID      interface{}
	ContentType        encoding.Symbol
	ContentEncoding    encoding.Symbol
	AbsoluteExpiryTime time.Time
	CreationTime       time.Time
	GroupID            string
	GroupSequence      uint32
	ReplyToGroupID     string
}

func (p *MessageProperties) marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeMessageProperties, []encoding.Field{
		{Value: &p.MessageID, Omit: p.MessageID == nil},
		{Value: &p.UserID, Omit: len(p.UserID) == 0},
		{Value: &p.To, Omit: p.To == ""},
		{Value: &p.Subject, Omit: p.Subject == ""},
		{Value: &p.ReplyTo, Omit: p.ReplyTo == ""},
		{Value: &p.CorrelationID, Omit: p.CorrelationID == nil},
		{Value: &p.ContentType, Omit: p.ContentType == ""},
		{Value: &p.ContentEncoding, Omit: p.ContentEncoding == ""},
		{Value: &p.AbsoluteExpiryTime, Omit: p.AbsoluteExpiryTime.IsZero()},
		{Value: &p.CreationTime, Omit: p.CreationTime.IsZero()},
		{Value: &p.GroupID, Omit: p.GroupID == ""},
		{Value: &p.GroupSequence, Omit: p.GroupSequence == 0},
		{Value: &p.ReplyToGroupID, Omit: p.ReplyToGroupID == ""},
	})
}

func (p *MessageProperties) unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeMessageProperties,
		encoding.UnmarshalField{Field: &p.MessageID},
		encoding.UnmarshalField{Field: &p.UserID},
		encoding.UnmarshalField{Field: &p.To},
		encoding.UnmarshalField{Field: &p.Subject},
		encoding.UnmarshalField{Field: &p.ReplyTo},
		encoding.UnmarshalField{Field: &p.CorrelationID},
		encoding.UnmarshalField{Field: &p.ContentType},
		encoding.UnmarshalField{Field: &p.ContentEncoding},
		encoding.UnmarshalField{Field: &p.AbsoluteExpiryTime},
		encoding.UnmarshalField{Field: &p.CreationTime},
		encoding.UnmarshalField{Field: &p.GroupID},
		encoding.UnmarshalField{Field: &p.GroupSequence},
		encoding.UnmarshalField{Field: &p.ReplyToGroupID},
	)
}

// Format identifies the encoding of a message's body; 0 is the only value
// defined by the core AMQP 1.0 spec ("AMQP 1.0").
type Format uint32

// Message is a full AMQP 1.0 message: the optional header, annotation, and
// properties sections, plus exactly one body (Data, AmqpSequence, or
// AmqpValue) and an optional footer.
//
// A Message received over a multi-transfer delivery is decoded lazily: the
// engine only reassembles the raw payload bytes (see Delivery) and this
// type's Unmarshal is called on first access.
type Message struct {
	HeaderFields           *MessageHeader
	DeliveryAnnotations    encoding.Annotations
	Annotations            encoding.Annotations
	Properties             *MessageProperties
	ApplicationProperties  map[string]interface{}
	Data                   [][]byte
	Sequence               []interface{}
	Value                  interface{}
	Footer                 encoding.Annotations

	// Format is carried as the Transfer's message-format field.
	Format uint32

	// DeliveryTag overrides the sender's default monotonic-counter tag
	// when non-empty. Must be at most encoding.MaxDeliveryTagLength bytes.
	DeliveryTag []byte

	// SendSettled requests settled delivery when the sender's
	// settle-mode is ModeMixed.
	SendSettled bool
}

// NewMessage builds a Message with a single Data section, the common case
// for byte-payload sends.
func NewMessage(data []byte) *Message {
	return &Message{Data: [][]byte{data}}
}

// GetData returns the concatenation of every Data section, or nil if the
// message's body is an AmqpSequence or AmqpValue instead.
func (m *Message) GetData() []byte {
	if len(m.Data) == 0 {
		return nil
	}
	if len(m.Data) == 1 {
		return m.Data[0]
	}
	var out []byte
	for _, d := range m.Data {
		out = append(out, d...)
	}
	return out
}

// Marshal encodes every present section of m, in wire order, to wr.
func (m *Message) Marshal(wr *buffer.Buffer) error {
	if m.HeaderFields != nil {
		if err := m.HeaderFields.marshal(wr); err != nil {
			return err
		}
	}
	if len(m.DeliveryAnnotations) > 0 {
		encoding.WriteDescriptor(wr, encoding.TypeCodeDeliveryAnnotations)
		if err := encoding.Marshal(wr, m.DeliveryAnnotations); err != nil {
			return err
		}
	}
	if len(m.Annotations) > 0 {
		encoding.WriteDescriptor(wr, encoding.TypeCodeMessageAnnotations)
		if err := encoding.Marshal(wr, m.Annotations); err != nil {
			return err
		}
	}
	if m.Properties != nil {
		if err := m.Properties.marshal(wr); err != nil {
			return err
		}
	}
	if len(m.ApplicationProperties) > 0 {
		encoding.WriteDescriptor(wr, encoding.TypeCodeApplicationProperties)
		if err := encoding.Marshal(wr, m.ApplicationProperties); err != nil {
			return err
		}
	}

	switch {
	case len(m.Data) > 0:
		for _, d := range m.Data {
			encoding.WriteDescriptor(wr, encoding.TypeCodeApplicationData)
			if err := encoding.WriteBinary(wr, d); err != nil {
				return err
			}
		}
	case m.Sequence != nil:
		encoding.WriteDescriptor(wr, encoding.TypeCodeAMQPSequence)
		if err := encoding.Marshal(wr, m.Sequence); err != nil {
			return err
		}
	case m.Value != nil:
		encoding.WriteDescriptor(wr, encoding.TypeCodeAMQPValue)
		if err := encoding.Marshal(wr, m.Value); err != nil {
			return err
		}
	default:
		return fmt.Errorf("message has no body")
	}

	if len(m.Footer) > 0 {
		encoding.WriteDescriptor(wr, encoding.TypeCodeFooter)
		return encoding.Marshal(wr, m.Footer)
	}
	return nil
}

// Unmarshal decodes m's sections from r, which must contain a full set of
// message sections (the reassembled delivery payload).
func (m *Message) Unmarshal(r *buffer.Buffer) error {
	for r.Len() > 0 {
		code, err := peekSectionCode(r)
		if err != nil {
			return err
		}
		switch code {
		case encoding.TypeCodeMessageHeader:
			m.HeaderFields = new(MessageHeader)
			if err := m.HeaderFields.unmarshal(r); err != nil {
				return err
			}
		case encoding.TypeCodeDeliveryAnnotations:
			skipDescriptor(r)
			if err := encoding.Unmarshal(r, &m.DeliveryAnnotations); err != nil {
				return err
			}
		case encoding.TypeCodeMessageAnnotations:
			skipDescriptor(r)
			if err := encoding.Unmarshal(r, &m.Annotations); err != nil {
				return err
			}
		case encoding.TypeCodeMessageProperties:
			m.Properties = new(MessageProperties)
			if err := m.Properties.unmarshal(r); err != nil {
				return err
			}
		case encoding.TypeCodeApplicationProperties:
			skipDescriptor(r)
			if err := encoding.Unmarshal(r, &m.ApplicationProperties); err != nil {
				return err
			}
		case encoding.TypeCodeApplicationData:
			skipDescriptor(r)
			var d []byte
			if err := encoding.Unmarshal(r, &d); err != nil {
				return err
			}
			m.Data = append(m.Data, d)
		case encoding.TypeCodeAMQPSequence:
			skipDescriptor(r)
			v, err := encoding.ReadAny(r)
			if err != nil {
				return err
			}
			seq, _ := v.([]interface{})
			m.Sequence = seq
		case encoding.TypeCodeAMQPValue:
			skipDescriptor(r)
			v, err := encoding.ReadAny(r)
			if err != nil {
				return err
			}
			m.Value = v
		case encoding.TypeCodeFooter:
			skipDescriptor(r)
			if err := encoding.Unmarshal(r, &m.Footer); err != nil {
				return err
			}
		default:
			return fmt.Errorf("message: unknown section code %#02x", code)
		}
	}
	return nil
}

// skipDescriptor advances r past a bare 0x0-prefixed ulong descriptor,
// handling both the 3-byte smallulong and 10-byte ulong encodings.
func skipDescriptor(r *buffer.Buffer) {
	b := r.Bytes()
	if len(b) >= 2 && b[1] == byte(encoding.TypeCodeUlong) {
		r.Skip(10)
		return
	}
	r.Skip(3)
}

// peekSectionCode inspects the descriptor of the next message section
// without consuming it, so Unmarshal's dispatch loop can decide whether to
// hand off to a composite decoder (header/properties) or skip the
// descriptor itself and decode a bare value (annotations/data/sequence/value).
func peekSectionCode(r *buffer.Buffer) (encoding.AMQPType, error) {
	b := r.Bytes()
	if len(b) < 3 || b[0] != 0x0 {
		return 0, fmt.Errorf("message: malformed section descriptor")
	}
	switch b[1] {
	case byte(encoding.TypeCodeSmallUlong):
		return encoding.AMQPType(b[2]), nil
	case byte(encoding.TypeCodeUlong):
		if len(b) < 10 {
			return 0, fmt.Errorf("message: truncated section descriptor")
		}
		return encoding.AMQPType(b[9]), nil
	default:
		return 0, fmt.Errorf("message: invalid descriptor constructor %#02x", b[1])
	}
}
