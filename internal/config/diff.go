package config

import "slices"

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied without restarting the process are tracked; realtime
// changes take effect on the next session start.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RealtimeChanged is set when any session parameter differs.
	RealtimeChanged bool
	RealtimeFields  []string

	// RestartRequired lists changed sections that are only read at boot.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.RealtimeChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	o, n := old.Realtime, new.Realtime
	field := func(name string, changed bool) {
		if changed {
			d.RealtimeChanged = true
			d.RealtimeFields = append(d.RealtimeFields, name)
		}
	}
	field("model", o.Model != n.Model)
	field("voice", o.Voice != n.Voice)
	field("instructions", o.Instructions != n.Instructions)
	field("transcription_model", o.TranscriptionModel != n.TranscriptionModel)
	field("language", o.Language != n.Language)
	field("tool_timeout", o.ToolTimeout != n.ToolTimeout)

	if old.Server.ListenAddr != new.Server.ListenAddr || !equalTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if o.Transport != n.Transport || o.Endpoint != n.Endpoint || o.CredentialURL != n.CredentialURL ||
		o.ContextURL != n.ContextURL || o.DisableContext != n.DisableContext || !slices.Equal(o.ICEServers, n.ICEServers) {
		d.RestartRequired = append(d.RestartRequired, "realtime")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Properties != new.Properties {
		d.RestartRequired = append(d.RestartRequired, "properties")
	}
	if old.OpenAI != new.OpenAI {
		d.RestartRequired = append(d.RestartRequired, "openai")
	}
	if !slices.EqualFunc(old.MCP.Servers, new.MCP.Servers, equalMCPServer) {
		d.RestartRequired = append(d.RestartRequired, "mcp")
	}
	return d
}

func equalTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalMCPServer(a, b MCPServerConfig) bool {
	if a.Name != b.Name || a.Transport != b.Transport || a.Command != b.Command || a.URL != b.URL || a.Token != b.Token {
		return false
	}
	if len(a.Env) != len(b.Env) {
		return false
	}
	for k, v := range a.Env {
		if bv, ok := b.Env[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
