package wire

import "errors"

// Decode failure sentinels. Both are drop-and-count conditions at the
// call site — wire itself only reports them.
var (
	ErrMalformedHeader = errors.New("wire: malformed header")
	ErrUnknownType     = errors.New("wire: unknown message type")
)
