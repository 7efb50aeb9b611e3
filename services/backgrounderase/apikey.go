package backgrounderase

import "os"

// APIKeyEnv is consulted when no key is passed explicitly.
const APIKeyEnv = "BACKGROUND_ERASE_API_KEY"

// DefaultAPIKey is the compiled-in fallback, set at build time with
//
//	go build -ldflags "-X github.com/jimmitjoo/bgerase/services/backgrounderase.DefaultAPIKey=..."
var DefaultAPIKey = ""

// ResolveAPIKey returns the first non-empty key of: explicit, the
// environment, DefaultAPIKey. An empty result means no key is available.
func ResolveAPIKey(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(APIKeyEnv); env != "" {
		return env
	}
	return DefaultAPIKey
}
