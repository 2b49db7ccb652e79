package proxy

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/complyze/complyze-proxy/internal/attachments"
	"github.com/complyze/complyze-proxy/internal/domains"
	"github.com/complyze/complyze-proxy/internal/telemetry"
)

// prefixConn replays bytes the hijacked bufio reader already consumed
// before handing reads to the raw connection. The TLS ClientHello often
// arrives pipelined behind the CONNECT.
type prefixConn struct {
	net.Conn
	reader io.Reader
}

func (c *prefixConn) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}

// serveMITM terminates TLS with a minted certificate and serves the
// decrypted HTTP/1.1 request loop. A failed handshake is fed to the
// pinning tracker; everything after a successful handshake goes through
// the inspection pipeline.
func (s *Server) serveMITM(w http.ResponseWriter, r *http.Request, dest domains.Destination, port string) {
	tlsConfig, err := s.minter.ServerTLSConfig(dest.Host)
	if err != nil {
		s.logger.Errorw("Failed to mint certificate", "host", dest.Host, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	clientConn, bufrw, err := hijacker.Hijack()
	if err != nil {
		s.logger.Debugw("Hijack failed", "host", dest.Host, "error", err)
		return
	}
	defer clientConn.Close()

	if _, err := clientConn.Write([]byte(connectEstablished)); err != nil {
		return
	}

	var conn net.Conn = clientConn
	if n := bufrw.Reader.Buffered(); n > 0 {
		pending, _ := bufrw.Reader.Peek(n)
		buffered := append([]byte(nil), pending...)
		bufrw.Reader.Discard(n)
		conn = &prefixConn{
			Conn:   clientConn,
			reader: io.MultiReader(bytes.NewReader(buffered), clientConn),
		}
	}

	tlsConn := tls.Server(conn, tlsConfig)
	defer tlsConn.Close()

	tlsConn.SetDeadline(time.Now().Add(handshakeTimeout))
	if err := tlsConn.HandshakeContext(r.Context()); err != nil {
		s.recordHandshakeFailure(dest, err)
		return
	}
	tlsConn.SetDeadline(time.Time{})

	// No idle deadline once interception starts: chat responses stream
	// over SSE for minutes and clients park connections between prompts.
	reader := bufio.NewReader(tlsConn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			// io.EOF is the client closing a kept-alive connection.
			if err != io.EOF {
				s.logger.Debugw("Intercepted read failed", "host", dest.Host, "error", err)
			}
			return
		}

		if !s.handleIntercepted(r.Context(), tlsConn, req, dest, port) {
			return
		}
	}
}

// recordHandshakeFailure classifies a TLS handshake error and demotes the
// host when it matches a pinning signature. The telemetry entry fires once
// per host; metrics count every detection.
func (s *Server) recordHandshakeFailure(dest domains.Destination, err error) {
	signature, firstDetection := s.tracker.RecordFailure(dest.Host, dest.Tool, err)
	if signature == "" {
		s.logger.Debugw("Handshake failed", "host", dest.Host, "error", err)
		return
	}

	s.obs.Metrics().RecordPinningDetection(dest.Host)
	if firstDetection {
		// PinningDetected bumps the counter along with the entry.
		s.telemetry.PinningDetected(dest.Host, signature, s.cfg.StrictPinMode)
		return
	}
	s.telemetry.Counters().PinningDetections.Add(1)
}

// handleIntercepted chooses the body handling mode for one decrypted
// request and runs it. The return value says whether the connection can
// serve another request.
func (s *Server) handleIntercepted(ctx context.Context, tlsConn net.Conn, req *http.Request, dest domains.Destination, port string) bool {
	settings := s.settingsSnapshot()
	s.telemetry.Counters().RequestsInspected.Add(1)

	declared := req.ContentLength
	bodyCap := s.cfg.BodyCapBytes()
	inspectionCap := s.cfg.InspectionCapBytes()
	boundary := attachments.Boundary(req.Header.Get("Content-Type"))

	// Oversized declared bodies are refused before buffering a byte: the
	// 413 goes out immediately, then the body is drained so the next
	// request on the connection still parses.
	if declared > bodyCap {
		s.recordSizeLimit(telemetry.SizeLimitBody, dest.Host, declared, bodyCap)
		err := writeRawResponse(tlsConn, http.StatusRequestEntityTooLarge,
			`{"error":"request body exceeds proxy limit"}`)
		io.Copy(io.Discard, req.Body)
		req.Body.Close()
		return err == nil
	}

	// Multipart uploads above the inspection cap stream through unread.
	if boundary != "" && declared > inspectionCap {
		return s.forwardStreaming(tlsConn, req, dest, port, settings, declared)
	}

	body, overflow, err := readBody(req, declared, bodyCap)
	if err != nil {
		s.logger.Debugw("Body read failed", "host", dest.Host, "error", err)
		return false
	}
	if overflow {
		// A chunked body blew the cap mid-read; the framing is gone, so
		// the connection cannot be reused.
		s.recordSizeLimit(telemetry.SizeLimitBody, dest.Host, declared, bodyCap)
		writeRawResponse(tlsConn, http.StatusRequestEntityTooLarge,
			`{"error":"request body exceeds proxy limit"}`)
		return false
	}

	return s.inspectAndForward(ctx, tlsConn, req, body, dest, port, settings, boundary)
}

func (s *Server) recordSizeLimit(kind, host string, declared, limit int64) {
	s.obs.Metrics().RecordSizeLimitHit(kind)
	if kind == telemetry.SizeLimitAttachment {
		s.telemetry.AttachmentSizeLimit(host, declared, limit)
		return
	}
	s.telemetry.BodyTooLarge(host, declared, limit)
}

// readBody buffers the request body up to the hard cap. overflow reports
// a chunked body that exceeded the cap; declared lengths were already
// screened by the caller.
func readBody(req *http.Request, declared, limit int64) (body []byte, overflow bool, err error) {
	defer req.Body.Close()

	var buf bytes.Buffer
	if declared > 0 {
		buf.Grow(int(declared))
	}
	n, err := io.Copy(&buf, io.LimitReader(req.Body, limit+1))
	if err != nil {
		return nil, false, err
	}
	if n > limit {
		return nil, true, nil
	}
	return buf.Bytes(), false, nil
}
