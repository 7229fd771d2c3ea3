package encoding

import (
	"fmt"

	"github.com/tabish121/AMQPerative/internal/buffer"
)

/*
<type name="error" class="composite" source="list">
    <descriptor name="amqp:error:list" code="0x00000000:0x0000001d"/>
    <field name="condition" type="symbol" requires="error-condition" mandatory="true"/>
    <field name="description" type="string"/>
    <field name="info" type="fields"/>
</type>
*/

// Marshal encodes the error composite.
func (e *Error) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeError, []Field{
		{Value: &e.Condition, Omit: false},
		{Value: &e.Description, Omit: e.Description == ""},
		{Value: e.Info, Omit: len(e.Info) == 0},
	})
}

// Unmarshal decodes the error composite.
func (e *Error) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeError,
		UnmarshalField{Field: &e.Condition},
		UnmarshalField{Field: &e.Description},
		UnmarshalField{Field: &e.Info},
	)
}

/*
<type name="source" class="composite" source="list" provides="source">
    <descriptor name="amqp:source:list" code="0x00000000:0x00000028"/>
</type>
*/

// Marshal encodes the source composite.
func (s *Source) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeSource, []Field{
		{Value: &s.Address, Omit: s.Address == ""},
		{Value: &s.Durable, Omit: s.Durable == DurabilityNone},
		{Value: &s.ExpiryPolicy, Omit: s.ExpiryPolicy == "" || s.ExpiryPolicy == ExpirySessionEnd},
		{Value: &s.Timeout, Omit: s.Timeout == 0},
		{Value: &s.Dynamic, Omit: !s.Dynamic},
		{Value: s.DynamicNodeProperties, Omit: len(s.DynamicNodeProperties) == 0},
		{Value: &s.DistributionMode, Omit: s.DistributionMode == ""},
		{Value: s.Filter, Omit: len(s.Filter) == 0},
		{Value: &s.DefaultOutcome, Omit: s.DefaultOutcome == nil},
		{Value: &s.Outcomes, Omit: len(s.Outcomes) == 0},
		{Value: &s.Capabilities, Omit: len(s.Capabilities) == 0},
	})
}

// Unmarshal decodes the source composite.
func (s *Source) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeSource,
		UnmarshalField{Field: &s.Address},
		UnmarshalField{Field: &s.Durable},
		UnmarshalField{Field: &s.ExpiryPolicy, HandleNull: func() error { s.ExpiryPolicy = ExpirySessionEnd; return nil }},
		UnmarshalField{Field: &s.Timeout},
		UnmarshalField{Field: &s.Dynamic},
		UnmarshalField{Field: &s.DynamicNodeProperties},
		UnmarshalField{Field: &s.DistributionMode},
		UnmarshalField{Field: &s.Filter},
		UnmarshalField{Field: &s.DefaultOutcome},
		UnmarshalField{Field: &s.Outcomes},
		UnmarshalField{Field: &s.Capabilities},
	)
}

/*
<type name="target" class="composite" source="list" provides="target">
    <descriptor name="amqp:target:list" code="0x00000000:0x00000029"/>
</type>
*/

// Marshal encodes the target composite.
func (t *Target) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeTarget, []Field{
		{Value: &t.Address, Omit: t.Address == ""},
		{Value: &t.Durable, Omit: t.Durable == DurabilityNone},
		{Value: &t.ExpiryPolicy, Omit: t.ExpiryPolicy == "" || t.ExpiryPolicy == ExpirySessionEnd},
		{Value: &t.Timeout, Omit: t.Timeout == 0},
		{Value: &t.Dynamic, Omit: !t.Dynamic},
		{Value: t.DynamicNodeProperties, Omit: len(t.DynamicNodeProperties) == 0},
		{Value: &t.Capabilities, Omit: len(t.Capabilities) == 0},
	})
}

// Unmarshal decodes the target composite.
func (t *Target) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeTarget,
		UnmarshalField{Field: &t.Address},
		UnmarshalField{Field: &t.Durable},
		UnmarshalField{Field: &t.ExpiryPolicy, HandleNull: func() error { t.ExpiryPolicy = ExpirySessionEnd; return nil }},
		UnmarshalField{Field: &t.Timeout},
		UnmarshalField{Field: &t.Dynamic},
		UnmarshalField{Field: &t.DynamicNodeProperties},
		UnmarshalField{Field: &t.Capabilities},
	)
}

// marshalDeliveryState encodes whichever delivery-state/outcome variant ds holds.
func marshalDeliveryState(wr *buffer.Buffer, ds DeliveryState) error {
	switch s := ds.(type) {
	case StateAccepted:
		return MarshalComposite(wr, TypeCodeStateAccepted, nil)
	case StateReleased:
		return MarshalComposite(wr, TypeCodeStateReleased, nil)
	case StateRejected:
		return MarshalComposite(wr, TypeCodeStateRejected, []Field{
			{Value: s.Error, Omit: s.Error == nil},
		})
	case StateModified:
		return MarshalComposite(wr, TypeCodeStateModified, []Field{
			{Value: &s.DeliveryFailed, Omit: !s.DeliveryFailed},
			{Value: &s.UndeliverableHere, Omit: !s.UndeliverableHere},
			{Value: s.MessageAnnotations, Omit: s.MessageAnnotations == nil},
		})
	case StateReceived:
		return MarshalComposite(wr, TypeCodeStateReceived, []Field{
			{Value: &s.SectionNumber, Omit: false},
			{Value: &s.SectionOffset, Omit: false},
		})
	default:
		return fmt.Errorf("encoding: unrecognized delivery state %T", ds)
	}
}
