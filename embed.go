package ollamacli

import _ "embed"

// DefaultConfig is the configuration written to the user's config directory on first run.
//
//go:embed config.example.yaml
var DefaultConfig []byte
