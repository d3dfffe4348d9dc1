// Package safety runs a startup preflight that refuses to launch the
// scanner if the environment or config look like they carry a live
// trading credential. The scanner only ever reads public market data and
// paper-trades — it has no business holding a private key, and a key
// showing up in its config is a sign someone copy-pasted a trading bot's
// env file by mistake.
package safety

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var suspiciousNamePattern = regexp.MustCompile(`(?i)(PRIVATE_KEY|PRIVATEKEY|WALLET|SIGN(ING)?|MNEMONIC|SEED_PHRASE|SECRET_KEY)`)

var hex64Pattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)

// Violation describes one credential-like match found during the preflight.
type Violation struct {
	Source string // "env" or "config"
	Name   string // variable/key name, empty for config-value-only matches
	Reason string
}

func (v Violation) String() string {
	if v.Name == "" {
		return fmt.Sprintf("%s: %s", v.Source, v.Reason)
	}
	return fmt.Sprintf("%s %q: %s", v.Source, v.Name, v.Reason)
}

// CheckEnvironment scans the process environment for credential-like
// variable names or hex64-shaped values.
func CheckEnvironment() []Violation {
	var violations []Violation
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if suspiciousNamePattern.MatchString(name) {
			violations = append(violations, Violation{Source: "env", Name: name, Reason: "credential-like variable name"})
			continue
		}
		if hex64Pattern.MatchString(strings.TrimSpace(value)) {
			violations = append(violations, Violation{Source: "env", Name: name, Reason: "value looks like a 32-byte hex key"})
		}
	}
	return violations
}

// CheckConfigBytes scans a raw config file's contents for credential-like
// keys or hex64 values. It operates on raw bytes rather than a parsed
// struct so it also catches fields the config schema doesn't know about
// (e.g. a stray key left in a comment or an unexpected top-level key).
func CheckConfigBytes(path string, contents []byte) []Violation {
	var violations []Violation
	for i, line := range strings.Split(string(contents), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if suspiciousNamePattern.MatchString(trimmed) {
			violations = append(violations, Violation{
				Source: "config",
				Name:   fmt.Sprintf("%s:%d", path, i+1),
				Reason: "credential-like key or value in config",
			})
			continue
		}
		for _, field := range strings.Fields(trimmed) {
			if hex64Pattern.MatchString(strings.Trim(field, `"':`)) {
				violations = append(violations, Violation{
					Source: "config",
					Name:   fmt.Sprintf("%s:%d", path, i+1),
					Reason: "value looks like a 32-byte hex key",
				})
				break
			}
		}
	}
	return violations
}

// Preflight runs both checks and returns every violation found across the
// environment and the given config file path. An empty result means it is
// safe to proceed.
func Preflight(configPath string) []Violation {
	violations := CheckEnvironment()

	if contents, err := os.ReadFile(configPath); err == nil {
		violations = append(violations, CheckConfigBytes(configPath, contents)...)
	}

	return violations
}
