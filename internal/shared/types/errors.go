package types

import "errors"

// ErrConfiguration marks errors raised while constructing a selector chain:
// nil delegates, invalid CIDR literals, out-of-range constructor arguments.
// They are fatal and never recovered.
var ErrConfiguration = errors.New("configuration error")
