package nonce

import "fmt"

// ErrIntegerExpected is returned when the network transaction count source
// yields a value that is not a non-negative integer in the uint64 range.
var ErrIntegerExpected = fmt.Errorf("network transaction count is not an integer")
