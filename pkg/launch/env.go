package launch

import "strings"

// The environment travels as the []string "KEY=value" form the OS
// hands to a child process; these helpers keep overlay semantics in
// one place.

// getEnv returns the value of key in env, and whether it is present.
func getEnv(env []string, key string) (string, bool) {
	prefix := key + "="
	for _, entry := range env {
		if strings.HasPrefix(entry, prefix) {
			return strings.TrimPrefix(entry, prefix), true
		}
	}
	return "", false
}

// setEnv sets key to value, replacing any existing entry.
func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, entry := range env {
		if strings.HasPrefix(entry, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

// setEnvIfAbsent sets key to value only when no entry for key exists.
func setEnvIfAbsent(env []string, key, value string) []string {
	if _, ok := getEnv(env, key); ok {
		return env
	}
	return append(env, key+"="+value)
}
