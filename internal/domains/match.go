package domains

import (
	"net"
	"sort"
	"strings"
)

// Destination is the routing view of one CONNECT target.
type Destination struct {
	Host  string
	Kind  Kind
	Tool  string
	Class Class
}

// Table answers destination lookups. Immutable after construction; the
// router shares one instance across all connections.
type Table struct {
	api         map[string]Entry
	webUI       map[string]Entry
	passthrough map[string]Entry
	desktopApps map[string]struct{}
}

// NewTable builds the built-in table.
func NewTable() *Table {
	t := &Table{
		api:         make(map[string]Entry, len(apiDomains)),
		webUI:       make(map[string]Entry, len(webUIDomains)),
		passthrough: make(map[string]Entry, len(passthroughDomains)),
		desktopApps: make(map[string]struct{}, len(desktopAppDomains)),
	}
	for _, e := range apiDomains {
		t.api[e.Domain] = e
	}
	for _, e := range webUIDomains {
		t.webUI[e.Domain] = e
	}
	for _, e := range passthroughDomains {
		t.passthrough[e.Domain] = e
	}
	for _, d := range desktopAppDomains {
		t.desktopApps[d] = struct{}{}
	}
	return t
}

// Resolve classifies a hostname. Matching is exact or dot-suffix:
// "sub.chatgpt.com" matches "chatgpt.com", "notchatgpt.com" does not.
func (t *Table) Resolve(host string) Destination {
	h := NormalizeHost(host)

	if e, ok := lookup(t.passthrough, h); ok {
		return Destination{Host: h, Kind: KindPassthrough, Tool: e.Tool, Class: e.Class}
	}
	if e, ok := lookup(t.api, h); ok {
		return Destination{Host: h, Kind: KindAPI, Tool: e.Tool, Class: e.Class}
	}
	if e, ok := lookup(t.webUI, h); ok {
		return Destination{Host: h, Kind: KindWebUI, Tool: e.Tool, Class: e.Class}
	}
	return Destination{Host: h, Kind: KindUnknown, Tool: h, Class: ClassUnknown}
}

// IsAIDomain reports whether the host is in the api or web-UI table.
func (t *Table) IsAIDomain(host string) bool {
	k := t.Resolve(host).Kind
	return k == KindAPI || k == KindWebUI
}

// IsDesktopAppDomain reports whether the host belongs to a web UI that also
// ships a pinning desktop client.
func (t *Table) IsDesktopAppDomain(host string) bool {
	h := NormalizeHost(host)
	for {
		if _, ok := t.desktopApps[h]; ok {
			return true
		}
		idx := strings.IndexByte(h, '.')
		if idx < 0 {
			return false
		}
		h = h[idx+1:]
	}
}

// ProxiedDomains returns every domain the PAC script should direct at the
// proxy, sorted for stable output.
func (t *Table) ProxiedDomains() []string {
	out := make([]string, 0, len(t.api)+len(t.webUI))
	for d := range t.api {
		out = append(out, d)
	}
	for d := range t.webUI {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// lookup walks the host label by label so "a.b.example.com" hits a table row
// for "example.com" without scanning the whole table.
func lookup(m map[string]Entry, host string) (Entry, bool) {
	h := host
	for {
		if e, ok := m[h]; ok {
			return e, true
		}
		idx := strings.IndexByte(h, '.')
		if idx < 0 {
			return Entry{}, false
		}
		h = h[idx+1:]
	}
}

// NormalizeHost lowercases and strips an optional port and IPv6 brackets.
func NormalizeHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	if stripped, _, err := net.SplitHostPort(h); err == nil {
		h = stripped
	}
	h = strings.TrimPrefix(h, "[")
	h = strings.TrimSuffix(h, "]")
	return strings.TrimSuffix(h, ".")
}

// IsLocal reports whether the host is loopback or a mDNS-style .local name;
// those always take the plain tunnel.
func IsLocal(host string) bool {
	h := NormalizeHost(host)
	if h == "localhost" || strings.HasSuffix(h, ".localhost") || strings.HasSuffix(h, ".local") {
		return true
	}
	if ip := net.ParseIP(h); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
