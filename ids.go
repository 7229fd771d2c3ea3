package amqp

import (
	"strconv"
	"sync/atomic"

	"github.com/tabish121/AMQPerative/internal/shared"
)

// connSeq is the single global atomic counter the library keeps: it only
// ever composes identifiers, never protocol state.
var connSeq uint64

// nextConnID returns a process-unique connection identifier.
func nextConnID() string {
	return "connection-" + strconv.FormatUint(atomic.AddUint64(&connSeq, 1), 10)
}

// sessionID composes a session identifier from its parent connection id and
// a per-connection sequence number.
func sessionID(connID string, seq uint32) string {
	return connID + ":" + strconv.FormatUint(uint64(seq), 10)
}

// linkID composes a link identifier from its parent session id and a
// randomized suffix, since link names must also be unique across reattach.
func linkID(sessID string) string {
	return sessID + ":" + shared.RandString(8)
}
