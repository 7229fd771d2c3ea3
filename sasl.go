package amqp

import (
	"context"
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"github.com/tabish121/AMQPerative/internal/auth"
	"github.com/tabish121/AMQPerative/internal/encoding"
	"github.com/tabish121/AMQPerative/internal/frames"
)

// negotiateSASL runs the SASL layer's EXPECT_MECHS -> SEND_INIT ->
// (EXCHANGE) -> EXPECT_OUTCOME state machine over c's transport, before
// the connection mux is started. It is only ever called with the SASL
// protocol header already exchanged.
func negotiateSASL(ctx context.Context, c *conn, cred auth.Credential) error {
	fr, err := c.readOneFrame(ctx)
	if err != nil {
		return &IOError{inner: err}
	}
	mechs, ok := fr.body.(*frames.SASLMechanisms)
	if !ok {
		return fmt.Errorf("amqp: expected sasl-mechanisms, got %T", fr.body)
	}
	logf(1, "RX (sasl): %s", mechs)

	mech := selectMechanism(mechs.Mechanisms, cred.Mechanism)
	if mech == "" {
		return &SecurityError{inner: fmt.Errorf("amqp: no mutually supported SASL mechanism, offered: %v", mechs.Mechanisms)}
	}

	init := &frames.SASLInit{
		Mechanism:       encoding.Symbol(mech),
		InitialResponse: cred.InitialResponse(),
	}
	logf(1, "TX (sasl): %s", init)
	if err := c.txFrameRaw(0, init); err != nil {
		return &IOError{inner: err}
	}

	for {
		fr, err := c.readOneFrame(ctx)
		if err != nil {
			return &IOError{inner: err}
		}
		switch b := fr.body.(type) {
		case *frames.SASLChallenge:
			logf(1, "RX (sasl): %s", b)
			// Neither PLAIN nor ANONYMOUS expects a mid-exchange challenge;
			// answer empty so a well-behaved peer can fail the exchange
			// cleanly via SASLOutcome rather than hang.
			resp := &frames.SASLResponse{}
			logf(1, "TX (sasl): %s", resp)
			if err := c.txFrameRaw(0, resp); err != nil {
				return &IOError{inner: err}
			}
		case *frames.SASLOutcome:
			logf(1, "RX (sasl): %s", b)
			return saslOutcomeError(b)
		default:
			return fmt.Errorf("amqp: unexpected frame during sasl exchange: %T", fr.body)
		}
	}
}

// selectMechanism intersects offered with the engine's supported
// mechanisms {PLAIN, ANONYMOUS, EXTERNAL}, preferring the caller's
// requested mechanism when the peer offers it, else PLAIN, else EXTERNAL,
// else ANONYMOUS.
func selectMechanism(offered encoding.MultiSymbol, want auth.Mechanism) auth.Mechanism {
	offeredSet := make(map[auth.Mechanism]bool, len(offered))
	for _, m := range offered {
		offeredSet[auth.Mechanism(m)] = true
	}

	if want != "" && offeredSet[want] {
		return want
	}
	for _, m := range []auth.Mechanism{auth.MechanismPlain, auth.MechanismExternal, auth.MechanismAnonymous} {
		if offeredSet[m] {
			return m
		}
	}
	return ""
}

func saslOutcomeError(o *frames.SASLOutcome) error {
	if o.Code == frames.SASLCodeOK {
		return nil
	}
	err := &SecurityError{
		SASLCode:  o.Code.String(),
		Temporary: o.Code == frames.SASLCodeSysTemp,
	}
	if len(o.AdditionalData) > 0 {
		err.inner = pkgerrors.Errorf("sasl outcome code %s: %s", o.Code, o.AdditionalData)
	}
	return err
}
