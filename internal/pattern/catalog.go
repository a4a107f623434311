package pattern

import _ "embed"

// catalogJSON is the built-in pattern catalog, loaded once at process start
// and read-only thereafter.
//
//go:embed patterns.json
var catalogJSON []byte
