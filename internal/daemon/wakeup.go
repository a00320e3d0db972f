package daemon

import (
	"strings"
)

// MessagePlaceholder is replaced by the undelivered message content in
// configured arguments.
const MessagePlaceholder = "{message}"

// WakeupConfig describes how to start one agent type headlessly.
type WakeupConfig struct {
	Type           string   `mapstructure:"type" yaml:"type"`
	HeadlessWakeup bool     `mapstructure:"headless_wakeup" yaml:"headless_wakeup"`
	Command        string   `mapstructure:"command" yaml:"command"`
	Args           []string `mapstructure:"args" yaml:"args"`
	WorkingDir     string   `mapstructure:"working_dir" yaml:"working_dir,omitempty"`
	// ProcessPattern is matched against running command lines; it defaults
	// to Command.
	ProcessPattern string `mapstructure:"process_pattern" yaml:"process_pattern,omitempty"`
}

func (c WakeupConfig) pattern() string {
	if c.ProcessPattern != "" {
		return c.ProcessPattern
	}
	return c.Command
}

// MatchWakeup resolves a free-form agent name to a configured agent type.
// Exact matches win over substring matches in either direction; within a
// pass the first configured entry wins.
func MatchWakeup(configs []WakeupConfig, agentName string) (WakeupConfig, bool) {
	name := normalizeName(agentName)
	if name == "" {
		return WakeupConfig{}, false
	}

	for _, c := range configs {
		if normalizeName(c.Type) == name {
			return c, true
		}
	}
	for _, c := range configs {
		key := normalizeName(c.Type)
		if key == "" {
			continue
		}
		if strings.Contains(name, key) || strings.Contains(key, name) {
			return c, true
		}
	}
	return WakeupConfig{}, false
}

// normalizeName lowercases and joins words with hyphens so "Claude Code 2"
// compares against a "claude-code" key.
func normalizeName(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == '\t'
	})
	return strings.Join(fields, "-")
}

// RenderArgs substitutes message for every placeholder token.
func RenderArgs(template []string, message string) []string {
	args := make([]string, len(template))
	for i, tok := range template {
		args[i] = strings.ReplaceAll(tok, MessagePlaceholder, message)
	}
	return args
}
