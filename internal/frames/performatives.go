package frames

import (
	"fmt"

	"github.com/tabish121/AMQPerative/internal/buffer"
	"github.com/tabish121/AMQPerative/internal/encoding"
)

/*
<type name="open" class="composite" source="list" provides="frame">
    <descriptor name="amqp:open:list" code="0x00000000:0x00000010"/>
</type>
*/

// PerformOpen is the first frame exchanged on a new connection.
type PerformOpen struct {
	ContainerID         string
	Hostname            string
	MaxFrameSize        uint32
	ChannelMax          uint16
	IdleTimeout         *encoding.Milliseconds
	OutgoingLocales     encoding.MultiSymbol
	IncomingLocales     encoding.MultiSymbol
	OfferedCapabilities encoding.MultiSymbol
	DesiredCapabilities encoding.MultiSymbol
	Properties          map[encoding.Symbol]interface{}
}

func (*PerformOpen) frameBody() {}

func (o *PerformOpen) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeOpen, []encoding.Field{
		{Value: &o.ContainerID, Omit: false},
		{Value: &o.Hostname, Omit: o.Hostname == ""},
		{Value: &o.MaxFrameSize, Omit: o.MaxFrameSize == 0},
		{Value: &o.ChannelMax, Omit: o.ChannelMax == 0},
		{Value: o.IdleTimeout, Omit: o.IdleTimeout == nil},
		{Value: &o.OutgoingLocales, Omit: len(o.OutgoingLocales) == 0},
		{Value: &o.IncomingLocales, Omit: len(o.IncomingLocales) == 0},
		{Value: &o.OfferedCapabilities, Omit: len(o.OfferedCapabilities) == 0},
		{Value: &o.DesiredCapabilities, Omit: len(o.DesiredCapabilities) == 0},
		{Value: o.Properties, Omit: len(o.Properties) == 0},
	})
}

func (o *PerformOpen) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeOpen,
		encoding.UnmarshalField{Field: &o.ContainerID},
		encoding.UnmarshalField{Field: &o.Hostname},
		encoding.UnmarshalField{Field: &o.MaxFrameSize, HandleNull: func() error { o.MaxFrameSize = 4294967295; return nil }},
		encoding.UnmarshalField{Field: &o.ChannelMax, HandleNull: func() error { o.ChannelMax = 65535; return nil }},
		encoding.UnmarshalField{Field: &o.IdleTimeout},
		encoding.UnmarshalField{Field: &o.OutgoingLocales},
		encoding.UnmarshalField{Field: &o.IncomingLocales},
		encoding.UnmarshalField{Field: &o.OfferedCapabilities},
		encoding.UnmarshalField{Field: &o.DesiredCapabilities},
		encoding.UnmarshalField{Field: &o.Properties},
	)
}

func (o *PerformOpen) String() string {
	return fmt.Sprintf("Open{ContainerID: %s, Hostname: %s, MaxFrameSize: %d, ChannelMax: %d, IdleTimeout: %v}",
		o.ContainerID, o.Hostname, o.MaxFrameSize, o.ChannelMax, o.IdleTimeout)
}

/*
<type name="begin" class="composite" source="list" provides="frame">
    <descriptor name="amqp:begin:list" code="0x00000000:0x00000011"/>
</type>
*/

// PerformBegin starts a new session on a channel.
type PerformBegin struct {
	RemoteChannel       *uint16
	NextOutgoingID      uint32
	IncomingWindow      uint32
	OutgoingWindow      uint32
	HandleMax           uint32
	OfferedCapabilities encoding.MultiSymbol
	DesiredCapabilities encoding.MultiSymbol
	Properties          map[encoding.Symbol]interface{}
}

func (*PerformBegin) frameBody() {}

func (b *PerformBegin) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeBegin, []encoding.Field{
		{Value: b.RemoteChannel, Omit: b.RemoteChannel == nil},
		{Value: &b.NextOutgoingID, Omit: false},
		{Value: &b.IncomingWindow, Omit: false},
		{Value: &b.OutgoingWindow, Omit: false},
		{Value: &b.HandleMax, Omit: b.HandleMax == 0},
		{Value: &b.OfferedCapabilities, Omit: len(b.OfferedCapabilities) == 0},
		{Value: &b.DesiredCapabilities, Omit: len(b.DesiredCapabilities) == 0},
		{Value: b.Properties, Omit: len(b.Properties) == 0},
	})
}

func (b *PerformBegin) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeBegin,
		encoding.UnmarshalField{Field: &b.RemoteChannel},
		encoding.UnmarshalField{Field: &b.NextOutgoingID},
		encoding.UnmarshalField{Field: &b.IncomingWindow},
		encoding.UnmarshalField{Field: &b.OutgoingWindow},
		encoding.UnmarshalField{Field: &b.HandleMax, HandleNull: func() error { b.HandleMax = 4294967295; return nil }},
		encoding.UnmarshalField{Field: &b.OfferedCapabilities},
		encoding.UnmarshalField{Field: &b.DesiredCapabilities},
		encoding.UnmarshalField{Field: &b.Properties},
	)
}

func (b *PerformBegin) String() string {
	return fmt.Sprintf("Begin{RemoteChannel: %v, NextOutgoingID: %d, IncomingWindow: %d, OutgoingWindow: %d, HandleMax: %d}",
		b.RemoteChannel, b.NextOutgoingID, b.IncomingWindow, b.OutgoingWindow, b.HandleMax)
}

/*
<type name="attach" class="composite" source="list" provides="frame">
    <descriptor name="amqp:attach:list" code="0x00000000:0x00000012"/>
</type>
*/

// PerformAttach attaches a link to a session.
type PerformAttach struct {
	Name                 string
	Handle               uint32
	Role                 encoding.Role
	SenderSettleMode     encoding.SenderSettleMode
	ReceiverSettleMode   encoding.ReceiverSettleMode
	Source               *encoding.Source
	Target               *encoding.Target
	Unsettled            encoding.Unsettled
	IncompleteUnsettled  bool
	InitialDeliveryCount uint32
	MaxMessageSize       uint64
	OfferedCapabilities  encoding.MultiSymbol
	DesiredCapabilities  encoding.MultiSymbol
	Properties           map[encoding.Symbol]interface{}
}

func (*PerformAttach) frameBody() {}

func (a *PerformAttach) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeAttach, []encoding.Field{
		{Value: &a.Name, Omit: false},
		{Value: &a.Handle, Omit: false},
		{Value: a.Role, Omit: false},
		{Value: a.SenderSettleMode, Omit: a.SenderSettleMode == encoding.ModeMixed},
		{Value: a.ReceiverSettleMode, Omit: a.ReceiverSettleMode == encoding.ModeFirst},
		{Value: a.Source, Omit: a.Source == nil},
		{Value: a.Target, Omit: a.Target == nil},
		{Value: a.Unsettled, Omit: len(a.Unsettled) == 0},
		{Value: &a.IncompleteUnsettled, Omit: !a.IncompleteUnsettled},
		{Value: &a.InitialDeliveryCount, Omit: a.Role == encoding.RoleReceiver},
		{Value: &a.MaxMessageSize, Omit: a.MaxMessageSize == 0},
		{Value: &a.OfferedCapabilities, Omit: len(a.OfferedCapabilities) == 0},
		{Value: &a.DesiredCapabilities, Omit: len(a.DesiredCapabilities) == 0},
		{Value: a.Properties, Omit: len(a.Properties) == 0},
	})
}

func (a *PerformAttach) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeAttach,
		encoding.UnmarshalField{Field: &a.Name},
		encoding.UnmarshalField{Field: &a.Handle},
		encoding.UnmarshalField{Field: &a.Role},
		encoding.UnmarshalField{Field: &a.SenderSettleMode, HandleNull: func() error { a.SenderSettleMode = encoding.ModeMixed; return nil }},
		encoding.UnmarshalField{Field: &a.ReceiverSettleMode},
		encoding.UnmarshalField{Field: &a.Source},
		encoding.UnmarshalField{Field: &a.Target},
		encoding.UnmarshalField{Field: &a.Unsettled},
		encoding.UnmarshalField{Field: &a.IncompleteUnsettled},
		encoding.UnmarshalField{Field: &a.InitialDeliveryCount},
		encoding.UnmarshalField{Field: &a.MaxMessageSize},
		encoding.UnmarshalField{Field: &a.OfferedCapabilities},
		encoding.UnmarshalField{Field: &a.DesiredCapabilities},
		encoding.UnmarshalField{Field: &a.Properties},
	)
}

func (a *PerformAttach) String() string {
	return fmt.Sprintf("Attach{Name: %s, Handle: %d, Role: %s, Source: %v, Target: %v, MaxMessageSize: %d}",
		a.Name, a.Handle, a.Role, a.Source, a.Target, a.MaxMessageSize)
}

/*
<type name="flow" class="composite" source="list" provides="frame">
    <descriptor name="amqp:flow:list" code="0x00000000:0x00000013"/>
</type>
*/

// PerformFlow updates session and/or link credit windows.
type PerformFlow struct {
	NextIncomingID *uint32
	IncomingWindow uint32
	NextOutgoingID uint32
	OutgoingWindow uint32
	Handle         *uint32
	DeliveryCount  *uint32
	LinkCredit     *uint32
	Available      *uint32
	Drain          bool
	Echo           bool
	Properties     map[encoding.Symbol]interface{}
}

func (*PerformFlow) frameBody() {}

func (f *PerformFlow) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeFlow, []encoding.Field{
		{Value: f.NextIncomingID, Omit: f.NextIncomingID == nil},
		{Value: &f.IncomingWindow, Omit: false},
		{Value: &f.NextOutgoingID, Omit: false},
		{Value: &f.OutgoingWindow, Omit: false},
		{Value: f.Handle, Omit: f.Handle == nil},
		{Value: f.DeliveryCount, Omit: f.DeliveryCount == nil},
		{Value: f.LinkCredit, Omit: f.LinkCredit == nil},
		{Value: f.Available, Omit: f.Available == nil},
		{Value: &f.Drain, Omit: !f.Drain},
		{Value: &f.Echo, Omit: !f.Echo},
		{Value: f.Properties, Omit: len(f.Properties) == 0},
	})
}

func (f *PerformFlow) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeFlow,
		encoding.UnmarshalField{Field: &f.NextIncomingID},
		encoding.UnmarshalField{Field: &f.IncomingWindow},
		encoding.UnmarshalField{Field: &f.NextOutgoingID},
		encoding.UnmarshalField{Field: &f.OutgoingWindow},
		encoding.UnmarshalField{Field: &f.Handle},
		encoding.UnmarshalField{Field: &f.DeliveryCount},
		encoding.UnmarshalField{Field: &f.LinkCredit},
		encoding.UnmarshalField{Field: &f.Available},
		encoding.UnmarshalField{Field: &f.Drain},
		encoding.UnmarshalField{Field: &f.Echo},
		encoding.UnmarshalField{Field: &f.Properties},
	)
}

func (f *PerformFlow) String() string {
	return fmt.Sprintf("Flow{NextIncomingID: %v, IncomingWindow: %d, NextOutgoingID: %d, OutgoingWindow: %d, "+
		"Handle: %v, DeliveryCount: %v, LinkCredit: %v, Available: %v, Drain: %t, Echo: %t}",
		f.NextIncomingID, f.IncomingWindow, f.NextOutgoingID, f.OutgoingWindow,
		f.Handle, f.DeliveryCount, f.LinkCredit, f.Available, f.Drain, f.Echo)
}

/*
<type name="transfer" class="composite" source="list" provides="frame">
    <descriptor name="amqp:transfer:list" code="0x00000000:0x00000014"/>
</type>
*/

// PerformTransfer carries a (possibly partial) message delivery.
type PerformTransfer struct {
	Handle             uint32
	DeliveryID         *uint32
	DeliveryTag        []byte
	MessageFormat      *uint32
	Settled            bool
	More               bool
	ReceiverSettleMode *encoding.ReceiverSettleMode
	State              encoding.DeliveryState
	Resume             bool
	Aborted            bool
	Batchable          bool

	// Payload is the raw encoded message bytes carried by this frame. It is
	// not an AMQP list field: it follows the composite header as the
	// remainder of the frame body.
	Payload []byte
}

func (*PerformTransfer) frameBody() {}

func (t *PerformTransfer) Marshal(wr *buffer.Buffer) error {
	err := encoding.MarshalComposite(wr, encoding.TypeCodeTransfer, []encoding.Field{
		{Value: &t.Handle, Omit: false},
		{Value: t.DeliveryID, Omit: t.DeliveryID == nil},
		{Value: &t.DeliveryTag, Omit: len(t.DeliveryTag) == 0},
		{Value: t.MessageFormat, Omit: t.MessageFormat == nil},
		{Value: &t.Settled, Omit: !t.Settled},
		{Value: &t.More, Omit: !t.More},
		{Value: t.ReceiverSettleMode, Omit: t.ReceiverSettleMode == nil},
		{Value: t.State, Omit: t.State == nil},
		{Value: &t.Resume, Omit: !t.Resume},
		{Value: &t.Aborted, Omit: !t.Aborted},
		{Value: &t.Batchable, Omit: !t.Batchable},
	})
	if err != nil {
		return err
	}
	wr.Append(t.Payload)
	return nil
}

func (t *PerformTransfer) Unmarshal(r *buffer.Buffer) error {
	err := encoding.UnmarshalComposite(r, encoding.TypeCodeTransfer,
		encoding.UnmarshalField{Field: &t.Handle},
		encoding.UnmarshalField{Field: &t.DeliveryID},
		encoding.UnmarshalField{Field: &t.DeliveryTag},
		encoding.UnmarshalField{Field: &t.MessageFormat},
		encoding.UnmarshalField{Field: &t.Settled},
		encoding.UnmarshalField{Field: &t.More},
		encoding.UnmarshalField{Field: &t.ReceiverSettleMode},
		encoding.UnmarshalField{Field: &t.State},
		encoding.UnmarshalField{Field: &t.Resume},
		encoding.UnmarshalField{Field: &t.Aborted},
		encoding.UnmarshalField{Field: &t.Batchable},
	)
	if err != nil {
		return err
	}
	t.Payload = append([]byte(nil), r.Bytes()...)
	r.Skip(r.Len())
	return nil
}

func (t *PerformTransfer) String() string {
	return fmt.Sprintf("Transfer{Handle: %d, DeliveryID: %v, DeliveryTag: %x, Settled: %t, More: %t, payload: %d bytes}",
		t.Handle, t.DeliveryID, t.DeliveryTag, t.Settled, t.More, len(t.Payload))
}

/*
<type name="disposition" class="composite" source="list" provides="frame">
    <descriptor name="amqp:disposition:list" code="0x00000000:0x00000015"/>
</type>
*/

// PerformDisposition informs the peer of delivery state changes.
type PerformDisposition struct {
	Role      encoding.Role
	First     uint32
	Last      *uint32
	Settled   bool
	State     encoding.DeliveryState
	Batchable bool
}

func (*PerformDisposition) frameBody() {}

func (d *PerformDisposition) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeDisposition, []encoding.Field{
		{Value: d.Role, Omit: false},
		{Value: &d.First, Omit: false},
		{Value: d.Last, Omit: d.Last == nil},
		{Value: &d.Settled, Omit: !d.Settled},
		{Value: d.State, Omit: d.State == nil},
		{Value: &d.Batchable, Omit: !d.Batchable},
	})
}

func (d *PerformDisposition) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeDisposition,
		encoding.UnmarshalField{Field: &d.Role},
		encoding.UnmarshalField{Field: &d.First},
		encoding.UnmarshalField{Field: &d.Last},
		encoding.UnmarshalField{Field: &d.Settled},
		encoding.UnmarshalField{Field: &d.State},
		encoding.UnmarshalField{Field: &d.Batchable},
	)
}

func (d *PerformDisposition) String() string {
	return fmt.Sprintf("Disposition{Role: %s, First: %d, Last: %v, Settled: %t, State: %v}",
		d.Role, d.First, d.Last, d.Settled, d.State)
}

/*
<type name="detach" class="composite" source="list" provides="frame">
    <descriptor name="amqp:detach:list" code="0x00000000:0x00000016"/>
</type>
*/

// PerformDetach detaches a link, optionally closing its terminus.
type PerformDetach struct {
	Handle uint32
	Closed bool
	Error  *encoding.Error
}

func (*PerformDetach) frameBody() {}

func (d *PerformDetach) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeDetach, []encoding.Field{
		{Value: &d.Handle, Omit: false},
		{Value: &d.Closed, Omit: !d.Closed},
		{Value: d.Error, Omit: d.Error == nil},
	})
}

func (d *PerformDetach) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeDetach,
		encoding.UnmarshalField{Field: &d.Handle},
		encoding.UnmarshalField{Field: &d.Closed},
		encoding.UnmarshalField{Field: &d.Error},
	)
}

func (d *PerformDetach) String() string {
	return fmt.Sprintf("Detach{Handle: %d, Closed: %t, Error: %v}", d.Handle, d.Closed, d.Error)
}

/*
<type name="end" class="composite" source="list" provides="frame">
    <descriptor name="amqp:end:list" code="0x00000000:0x00000017"/>
</type>
*/

// PerformEnd ends a session.
type PerformEnd struct {
	Error *encoding.Error
}

func (*PerformEnd) frameBody() {}

func (e *PerformEnd) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeEnd, []encoding.Field{
		{Value: e.Error, Omit: e.Error == nil},
	})
}

func (e *PerformEnd) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeEnd,
		encoding.UnmarshalField{Field: &e.Error},
	)
}

func (e *PerformEnd) String() string { return fmt.Sprintf("End{Error: %v}", e.Error) }

/*
<type name="close" class="composite" source="list" provides="frame">
    <descriptor name="amqp:close:list" code="0x00000000:0x00000018"/>
</type>
*/

// PerformClose closes a connection.
type PerformClose struct {
	Error *encoding.Error
}

func (*PerformClose) frameBody() {}

func (c *PerformClose) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeClose, []encoding.Field{
		{Value: c.Error, Omit: c.Error == nil},
	})
}

func (c *PerformClose) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeClose,
		encoding.UnmarshalField{Field: &c.Error},
	)
}

func (c *PerformClose) String() string { return fmt.Sprintf("Close{Error: %v}", c.Error) }
