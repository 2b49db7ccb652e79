package domains

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_Tables(t *testing.T) {
	table := NewTable()

	tests := []struct {
		name     string
		host     string
		wantKind Kind
		wantTool string
	}{
		{"api exact", "api.openai.com", KindAPI, "OpenAI API"},
		{"api with port", "api.anthropic.com:443", KindAPI, "Anthropic API"},
		{"api uppercase", "API.OPENAI.COM", KindAPI, "OpenAI API"},
		{"web ui exact", "chatgpt.com", KindWebUI, "ChatGPT"},
		{"web ui subdomain", "cdn.chatgpt.com", KindWebUI, "ChatGPT"},
		{"web ui claude", "claude.ai", KindWebUI, "Claude"},
		{"passthrough firebase", "myapp.firebaseapp.com", KindPassthrough, "Firebase"},
		{"passthrough oauth", "accounts.google.com", KindPassthrough, "Google OAuth"},
		{"suffix must be on label boundary", "notchatgpt.com", KindUnknown, "notchatgpt.com"},
		{"unknown host", "example.com", KindUnknown, "example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest := table.Resolve(tt.host)
			assert.Equal(t, tt.wantKind, dest.Kind)
			assert.Equal(t, tt.wantTool, dest.Tool)
		})
	}
}

func TestResolve_PassthroughWinsOverAI(t *testing.T) {
	// identitytoolkit.googleapis.com must stay passthrough even though
	// generativelanguage.googleapis.com shares the public suffix.
	table := NewTable()
	dest := table.Resolve("identitytoolkit.googleapis.com")
	assert.Equal(t, KindPassthrough, dest.Kind)

	dest = table.Resolve("generativelanguage.googleapis.com")
	assert.Equal(t, KindAPI, dest.Kind)
}

func TestNormalizeHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"api.openai.com", "api.openai.com"},
		{"api.openai.com:443", "api.openai.com"},
		{"ChatGPT.com", "chatgpt.com"},
		{"[::1]:8443", "::1"},
		{"[2001:db8::1]", "2001:db8::1"},
		{"example.com.", "example.com"},
		{" api.x.ai ", "api.x.ai"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeHost(tt.in))
		})
	}
}

func TestIsLocal(t *testing.T) {
	assert.True(t, IsLocal("localhost"))
	assert.True(t, IsLocal("localhost:3737"))
	assert.True(t, IsLocal("127.0.0.1"))
	assert.True(t, IsLocal("[::1]:443"))
	assert.True(t, IsLocal("printer.local"))
	assert.False(t, IsLocal("api.openai.com"))
	assert.False(t, IsLocal("10.0.0.5"))
}

func TestIsDesktopAppDomain(t *testing.T) {
	table := NewTable()
	assert.True(t, table.IsDesktopAppDomain("chatgpt.com"))
	assert.True(t, table.IsDesktopAppDomain("claude.ai:443"))
	assert.True(t, table.IsDesktopAppDomain("ws.chatgpt.com"))
	assert.False(t, table.IsDesktopAppDomain("gemini.google.com"))
}

func TestProxiedDomains_SortedAndComplete(t *testing.T) {
	table := NewTable()
	list := table.ProxiedDomains()
	require.NotEmpty(t, list)
	assert.Contains(t, list, "api.openai.com")
	assert.Contains(t, list, "chatgpt.com")
	assert.NotContains(t, list, "accounts.google.com", "passthrough hosts are never proxied")
	assert.IsIncreasing(t, list)
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "domains.yaml")
	content := []byte(`
api_domains:
  - domain: llm.corp.example.com
    tool: Corp LLM
    class: enterprise_approved
web_ui_domains:
  - domain: chat.banned.example.com
    class: banned
remove:
  - api.cohere.ai
  - api.cohere.com
`)
	require.NoError(t, os.WriteFile(path, content, 0644))

	table := NewTable()
	require.NoError(t, LoadOverrides(table, path))

	dest := table.Resolve("llm.corp.example.com")
	assert.Equal(t, KindAPI, dest.Kind)
	assert.Equal(t, "Corp LLM", dest.Tool)
	assert.Equal(t, ClassEnterpriseApproved, dest.Class)

	dest = table.Resolve("chat.banned.example.com")
	assert.Equal(t, KindWebUI, dest.Kind)
	assert.Equal(t, ClassBanned, dest.Class)

	dest = table.Resolve("api.cohere.ai")
	assert.Equal(t, KindUnknown, dest.Kind)
}

func TestLoadOverrides_MissingFileIsFine(t *testing.T) {
	table := NewTable()
	assert.NoError(t, LoadOverrides(table, filepath.Join(t.TempDir(), "absent.yaml")))
}

func TestLoadOverrides_RejectsUnknownClass(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "domains.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_domains:\n  - domain: x.example.com\n    class: nonsense\n"), 0644))

	table := NewTable()
	err := LoadOverrides(table, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown class")
}
