package fusion

import "errors"

// ErrNoStores is returned by New when no store resolver is configured.
var ErrNoStores = errors.New("fusion: store resolver is required")
