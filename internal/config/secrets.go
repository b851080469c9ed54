package config

import (
	"fmt"
	"os"
	"strings"
)

// ResolveSecret reads a secret using the *_FILE convention: when
// envName+"_FILE" is set, the secret is the trimmed content of that
// file; otherwise it is the value of envName itself. Returns an empty
// string when neither is set, and an error only when the file cannot
// be read.
func ResolveSecret(envName string) (string, error) {
	if path := os.Getenv(envName + "_FILE"); path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from %s_FILE=%s: %w", envName, path, err)
		}
		return strings.TrimSpace(string(content)), nil
	}
	return os.Getenv(envName), nil
}

// MustResolveSecret is like ResolveSecret but exits on error.
// Use this for required secrets during startup.
func MustResolveSecret(envName string) string {
	value, err := ResolveSecret(envName)
	if err != nil {
		// The message names the file, never the secret content.
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	return value
}
