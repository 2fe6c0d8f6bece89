package httpapi

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// chatTimeout bounds a chat completion request (seconds). Zero means no
// additional timeout beyond server/connection timeouts.
var chatTimeout = int64(0)

// SetChatTimeoutSeconds sets the chat completion timeout in seconds (0 disables).
func SetChatTimeoutSeconds(sec int64) {
	if sec < 0 {
		sec = 0
	}
	chatTimeout = sec
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}

// settings is the effective configuration served by GET /api/v1/settings.
// Secrets must already be masked by the caller.
var settings = map[string]any{}

// SetSettings installs the settings snapshot.
func SetSettings(s map[string]any) {
	cp := make(map[string]any, len(s))
	for k, v := range s {
		cp[k] = v
	}
	settings = cp
}
