package proxy

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/complyze/complyze-proxy/internal/config"
	"github.com/complyze/complyze-proxy/internal/domains"
	"github.com/complyze/complyze-proxy/internal/telemetry"
)

// forwardBuffered re-sends a fully buffered request upstream. body is the
// bytes to send, which differ from the client's original only when the
// redactor rewrote them; ContentLength is recomputed either way.
func (s *Server) forwardBuffered(tlsConn net.Conn, req *http.Request, body []byte, dest domains.Destination, port string) bool {
	prepareUpstream(req, dest, port)
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	req.Header.Del("Content-Length")
	req.Header.Del("Transfer-Encoding")
	req.TransferEncoding = nil

	return s.roundTrip(tlsConn, req, dest)
}

// forwardStreaming pipes a multipart body that exceeded the inspection cap
// straight through without reading it. The skip is visible in telemetry
// and as a log-only activity event, so oversized uploads never vanish
// from the audit trail.
func (s *Server) forwardStreaming(tlsConn net.Conn, req *http.Request, dest domains.Destination, port string, settings *config.Settings, declared int64) bool {
	s.recordSizeLimit(telemetry.SizeLimitAttachment, dest.Host, declared, s.cfg.InspectionCapBytes())
	s.reporter.ReportAttachmentSkip(dest, req.Method, req.URL.Path, req.Header, declared, settings.InspectAttachments)

	prepareUpstream(req, dest, port)
	s.telemetry.Counters().RequestsForwarded.Add(1)
	return s.roundTrip(tlsConn, req, dest)
}

// prepareUpstream rewrites a decrypted proxy request into a client request
// the shared transport can send. Headers other than the proxy-internal
// ones pass through untouched.
func prepareUpstream(req *http.Request, dest domains.Destination, port string) {
	req.URL.Scheme = "https"
	if port == "" || port == "443" {
		req.URL.Host = dest.Host
	} else {
		req.URL.Host = net.JoinHostPort(dest.Host, port)
	}
	req.RequestURI = ""

	req.Header.Del("Proxy-Connection")
	req.Header.Del("Proxy-Authorization")
	req.Header.Del("Proxy-Authenticate")
}

// roundTrip sends the prepared request and streams the response back over
// the intercepted connection. Upstream failures answer 502 and keep the
// client connection alive; a failed write back to the client ends it.
func (s *Server) roundTrip(tlsConn net.Conn, req *http.Request, dest domains.Destination) bool {
	resp, err := s.transport.RoundTrip(req)
	if err != nil {
		s.logger.Debugw("Upstream round trip failed", "host", dest.Host, "error", err)
		writeRawResponse(tlsConn, http.StatusBadGateway, `{"error":"upstream unreachable"}`)
		return true
	}
	defer resp.Body.Close()

	// resp.Write streams the body through an internal copy, so chunked
	// responses (SSE included) reach the client as upstream produces them.
	if err := resp.Write(tlsConn); err != nil {
		s.logger.Debugw("Response write failed", "host", dest.Host, "error", err)
		return false
	}

	return !resp.Close && !req.Close
}

// writeRawResponse emits a minimal HTTP/1.1 response on a hijacked
// connection, for statuses the proxy synthesizes itself (413, 502, 503).
func writeRawResponse(conn net.Conn, status int, jsonBody string) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	buf.WriteString("Content-Type: application/json\r\n")
	fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(jsonBody))
	buf.WriteString("Connection: keep-alive\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(jsonBody)

	_, err := conn.Write(buf.Bytes())
	return err
}
