package pool

import (
	"github.com/Tinkoff/stream-client/connector"
	"github.com/Tinkoff/stream-client/stream"
)

// Strategy decides how aggressively vacant pool slots are refilled.
//
// Refill attempts to fill up to vacant slots, handing each established
// session to appendFn. It returns true when the watcher may immediately run
// another pass and false when the strategy wants to yield. Session
// construction failures are logged and swallowed so the watcher loop stays
// alive.
type Strategy[S stream.Transport] interface {
	Refill(c *connector.Connector[S], vacant int, appendFn func(S)) bool
}
