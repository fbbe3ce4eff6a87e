package bsend

import "fmt"

// SendError is returned by [Submit] when a message could not be buffered,
// even after reclaiming space from completed sends.
type SendError struct {
	Scope     Scope
	Requested int
	Available int
}

func (e *SendError) Error() string {
	return fmt.Sprintf("bsend: no buffer space for a %d-byte message (scope %d, largest free block %d bytes)",
		e.Requested, e.Scope, e.Available)
}
