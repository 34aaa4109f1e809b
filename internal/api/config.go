package api

// Config bounds this control plane's own HTTP surface: the address to
// listen on, the browser origins its WebSocket endpoint accepts
// connections from, and the bearer token REST/WS callers must present.
// Kept local to this package rather than depending on internal/config's
// struct tree directly, so api has one obvious construction path
// regardless of how the surrounding process assembles its configuration.
type Config struct {
	Addr           string
	AllowedOrigins []string
	AuthToken      string // empty disables authentication (local/dev use)
}
