package shell

import "strings"

const redactedPlaceholder = "[REDACTED]"

var secretKeyHints = []string{"TOKEN", "SECRET", "KEY", "PASSWORD", "CREDENTIAL"}

// RedactEnv masks values of environment variables whose names look secret.
// Keep this conservative: match on the key, never guess from the value.
func RedactEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		if isSecretKey(k) {
			out[k] = redactedPlaceholder
		} else {
			out[k] = v
		}
	}
	return out
}

func isSecretKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, hint := range secretKeyHints {
		if strings.Contains(upper, hint) {
			return true
		}
	}
	return false
}
