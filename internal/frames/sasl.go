package frames

import (
	"fmt"

	"github.com/tabish121/AMQPerative/internal/buffer"
	"github.com/tabish121/AMQPerative/internal/encoding"
)

/*
<type name="sasl-mechanisms" class="composite" source="list" provides="sasl-frame">
    <descriptor name="amqp:sasl-mechanisms:list" code="0x00000000:0x00000040"/>
</type>
*/

// SASLMechanisms advertises the mechanisms the server supports.
type SASLMechanisms struct {
	Mechanisms encoding.MultiSymbol
}

func (*SASLMechanisms) frameBody() {}

func (m *SASLMechanisms) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeSASLMechanisms, []encoding.Field{
		{Value: &m.Mechanisms, Omit: false},
	})
}

func (m *SASLMechanisms) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeSASLMechanisms,
		encoding.UnmarshalField{Field: &m.Mechanisms},
	)
}

func (m *SASLMechanisms) String() string { return fmt.Sprintf("SASLMechanisms{%v}", m.Mechanisms) }

/*
<type name="sasl-init" class="composite" source="list" provides="sasl-frame">
    <descriptor name="amqp:sasl-init:list" code="0x00000000:0x00000041"/>
</type>
*/

// SASLInit selects a mechanism and begins the exchange.
type SASLInit struct {
	Mechanism       encoding.Symbol
	InitialResponse []byte
	Hostname        string
}

func (*SASLInit) frameBody() {}

func (i *SASLInit) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeSASLInit, []encoding.Field{
		{Value: &i.Mechanism, Omit: false},
		{Value: &i.InitialResponse, Omit: len(i.InitialResponse) == 0},
		{Value: &i.Hostname, Omit: i.Hostname == ""},
	})
}

func (i *SASLInit) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeSASLInit,
		encoding.UnmarshalField{Field: &i.Mechanism},
		encoding.UnmarshalField{Field: &i.InitialResponse},
		encoding.UnmarshalField{Field: &i.Hostname},
	)
}

func (i *SASLInit) String() string {
	return fmt.Sprintf("SASLInit{Mechanism: %s, Hostname: %s}", i.Mechanism, i.Hostname)
}

/*
<type name="sasl-challenge" class="composite" source="list" provides="sasl-frame">
    <descriptor name="amqp:sasl-challenge:list" code="0x00000000:0x00000042"/>
</type>
*/

// SASLChallenge carries a server challenge for mechanisms that need one.
type SASLChallenge struct {
	Challenge []byte
}

func (*SASLChallenge) frameBody() {}

func (c *SASLChallenge) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeSASLChallenge, []encoding.Field{
		{Value: &c.Challenge, Omit: false},
	})
}

func (c *SASLChallenge) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeSASLChallenge,
		encoding.UnmarshalField{Field: &c.Challenge},
	)
}

func (c *SASLChallenge) String() string { return "SASLChallenge{...}" }

/*
<type name="sasl-response" class="composite" source="list" provides="sasl-frame">
    <descriptor name="amqp:sasl-response:list" code="0x00000000:0x00000043"/>
</type>
*/

// SASLResponse answers a SASLChallenge.
type SASLResponse struct {
	Response []byte
}

func (*SASLResponse) frameBody() {}

func (r0 *SASLResponse) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeSASLResponse, []encoding.Field{
		{Value: &r0.Response, Omit: false},
	})
}

func (r0 *SASLResponse) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeSASLResponse,
		encoding.UnmarshalField{Field: &r0.Response},
	)
}

func (r0 *SASLResponse) String() string { return "SASLResponse{...}" }

// SASLCode is the outcome code carried by a SASLOutcome frame.
type SASLCode uint8

const (
	SASLCodeOK        SASLCode = 0
	SASLCodeAuth      SASLCode = 1
	SASLCodeSys       SASLCode = 2
	SASLCodeSysPerm   SASLCode = 3
	SASLCodeSysTemp   SASLCode = 4
)

func (s SASLCode) String() string {
	switch s {
	case SASLCodeOK:
		return "ok"
	case SASLCodeAuth:
		return "auth"
	case SASLCodeSys:
		return "sys"
	case SASLCodeSysPerm:
		return "sys-perm"
	case SASLCodeSysTemp:
		return "sys-temp"
	default:
		return fmt.Sprintf("unknown sasl code %d", uint8(s))
	}
}

/*
<type name="sasl-outcome" class="composite" source="list" provides="sasl-frame">
    <descriptor name="amqp:sasl-outcome:list" code="0x00000000:0x00000044"/>
</type>
*/

// SASLOutcome concludes the SASL exchange with a result code.
type SASLOutcome struct {
	Code           SASLCode
	AdditionalData []byte
}

func (*SASLOutcome) frameBody() {}

func (o *SASLOutcome) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeSASLOutcome, []encoding.Field{
		{Value: uint8(o.Code), Omit: false},
		{Value: &o.AdditionalData, Omit: len(o.AdditionalData) == 0},
	})
}

func (o *SASLOutcome) Unmarshal(r *buffer.Buffer) error {
	var code uint8
	err := encoding.UnmarshalComposite(r, encoding.TypeCodeSASLOutcome,
		encoding.UnmarshalField{Field: &code},
		encoding.UnmarshalField{Field: &o.AdditionalData},
	)
	o.Code = SASLCode(code)
	return err
}

func (o *SASLOutcome) String() string { return fmt.Sprintf("SASLOutcome{Code: %s}", o.Code) }
