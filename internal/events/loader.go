package events

import "time"

// BatchDispatch is emitted when a batch window of the request cache has been
// fetched. Requested counts the loads that joined the window, Size the
// distinct ids sent to the owner.
type BatchDispatch struct {
	Kind      string
	Requested int
	Size      int
	Missing   int
	Err       error
	Duration  time.Duration
}
