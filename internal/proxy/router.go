package proxy

import (
	"net"
	"net/http"
	"strings"

	"github.com/complyze/complyze-proxy/internal/config"
	"github.com/complyze/complyze-proxy/internal/domains"
)

// route is the dispatch decision for one CONNECT.
type route int

const (
	routePlain route = iota
	routeMetadata
	routeInspect
)

func (r route) String() string {
	switch r {
	case routeMetadata:
		return "metadata"
	case routeInspect:
		return "inspect"
	default:
		return "plain"
	}
}

// handleConnect is the entry point for every CONNECT request. The settings
// snapshot is taken exactly once here so the decision is stable even if a
// poll lands mid-dispatch.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	s.telemetry.Counters().ConnectsTotal.Add(1)
	s.obs.Metrics().ConnectionOpened()
	defer s.obs.Metrics().ConnectionClosed()

	host, port := splitAuthority(r.Host)
	dest := s.table.Resolve(host)
	settings := s.settingsSnapshot()

	decision := s.routeFor(dest, settings, r.UserAgent())
	s.obs.RecordConnect(decision.String())

	ctx, span := s.obs.SpanConnect(r.Context(), dest.Host, decision.String())
	defer span.End()
	r = r.WithContext(ctx)

	s.logger.Debugw("CONNECT",
		"host", dest.Host,
		"port", port,
		"kind", dest.Kind.String(),
		"route", decision.String())

	switch decision {
	case routeInspect:
		s.serveMITM(w, r, dest, port)
	case routeMetadata:
		s.tunnel(w, dest, port, true)
	default:
		s.tunnel(w, dest, port, false)
	}
}

// routeFor applies the dispatch rules in order: local and passthrough
// destinations are never touched; a disabled proxy still accounts for AI
// traffic; API hosts are inspected unless pinning or the desktop-app
// bypass demotes them; web UIs get metadata tunnels; everything else
// passes through untouched.
func (s *Server) routeFor(dest domains.Destination, settings *config.Settings, userAgent string) route {
	if domains.IsLocal(dest.Host) || dest.Kind == domains.KindPassthrough {
		return routePlain
	}

	if !settings.ProxyEnabled {
		if dest.Kind == domains.KindAPI || dest.Kind == domains.KindWebUI {
			return routeMetadata
		}
		return routePlain
	}

	switch dest.Kind {
	case domains.KindAPI:
		if !s.tracker.ShouldInspect(dest.Host) {
			return routeMetadata
		}
		if settings.DesktopBypass && !isBrowserUA(userAgent) && s.table.IsDesktopAppDomain(dest.Host) {
			return routeMetadata
		}
		return routeInspect
	case domains.KindWebUI:
		return routeMetadata
	default:
		return routePlain
	}
}

// splitAuthority parses a CONNECT authority into host and port. A missing
// port defaults to 443; anything unparseable falls back to the raw value
// so the connection still tunnels instead of failing closed.
func splitAuthority(authority string) (host, port string) {
	host, port, err := net.SplitHostPort(authority)
	if err != nil {
		h := strings.TrimSuffix(strings.TrimPrefix(authority, "["), "]")
		return h, "443"
	}
	if port == "" {
		port = "443"
	}
	return host, port
}

// isBrowserUA distinguishes real browsers from Electron shells that embed
// a Chromium UA. Desktop AI apps pin their API certificates, so only
// genuine browser traffic is safe to intercept on those hosts.
func isBrowserUA(ua string) bool {
	l := strings.ToLower(ua)
	if strings.Contains(l, "electron") {
		return false
	}
	return strings.Contains(l, "mozilla/")
}
