package types

import (
	"fmt"
	"strings"
)

// RedactedValue replaces metadata values whose keys look secret-like.
const RedactedValue = "[REDACTED]"

var secretKeyFragments = []string{"token", "secret", "password", "authorization", "bearer"}

// RedactMetadata returns a redacted copy of metadata. Secret-like keys
// (*token*, *secret*, *password*, *api*key*, authorization, bearer) are
// replaced by RedactedValue; query and content values are replaced by
// "[REDACTED,len=N]" so diagnostics keep their size without the payload.
func RedactMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}

	out := make(map[string]string, len(metadata))
	for key, value := range metadata {
		switch {
		case isSecretKey(key):
			out[key] = RedactedValue
		case isPayloadKey(key):
			out[key] = fmt.Sprintf("[REDACTED,len=%d]", len(value))
		default:
			out[key] = value
		}
	}
	return out
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range secretKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	// *api*key* requires both fragments, in order.
	if idx := strings.Index(lower, "api"); idx >= 0 && strings.Contains(lower[idx:], "key") {
		return true
	}
	return false
}

func isPayloadKey(key string) bool {
	lower := strings.ToLower(key)
	return lower == "query" || lower == "content"
}
