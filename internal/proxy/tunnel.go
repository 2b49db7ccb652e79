package proxy

import (
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/complyze/complyze-proxy/internal/domains"
)

// connectEstablished is written to the client before any tunneled or
// intercepted bytes.
const connectEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"

// idleConn refreshes the read deadline on every Read so a tunnel whose
// peer silently disappears is torn down instead of leaking.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

// tunnel pipes the client and the destination byte for byte. The upstream
// dial happens before the hijack so a failure can still be answered with a
// regular 502. In metadata mode the tunnel additionally accounts bytes and
// emits one activity event when the connection closes.
func (s *Server) tunnel(w http.ResponseWriter, dest domains.Destination, port string, metadata bool) {
	upstream, err := s.dialUpstream("tcp", net.JoinHostPort(dest.Host, port))
	if err != nil {
		s.logger.Debugw("Tunnel dial failed", "host", dest.Host, "port", port, "error", err)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		upstream.Close()
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	clientConn, bufrw, err := hijacker.Hijack()
	if err != nil {
		upstream.Close()
		s.logger.Debugw("Hijack failed", "host", dest.Host, "error", err)
		return
	}

	if _, err := clientConn.Write([]byte(connectEstablished)); err != nil {
		clientConn.Close()
		upstream.Close()
		return
	}

	var upBytes, downBytes atomic.Int64

	// The hijacked reader may already hold client bytes (TLS ClientHello
	// pipelined behind the CONNECT). Flush them before the raw copy.
	if n := bufrw.Reader.Buffered(); n > 0 {
		pending, _ := bufrw.Reader.Peek(n)
		if _, err := upstream.Write(pending); err != nil {
			clientConn.Close()
			upstream.Close()
			return
		}
		bufrw.Reader.Discard(n)
		upBytes.Add(int64(n))
	}

	var once sync.Once
	teardown := func() {
		clientConn.Close()
		upstream.Close()
	}

	done := make(chan struct{}, 2)
	go func() {
		n, _ := io.Copy(upstream, &idleConn{Conn: clientConn, timeout: tunnelIdleTimeout})
		upBytes.Add(n)
		once.Do(teardown)
		done <- struct{}{}
	}()
	go func() {
		n, _ := io.Copy(clientConn, &idleConn{Conn: upstream, timeout: tunnelIdleTimeout})
		downBytes.Add(n)
		once.Do(teardown)
		done <- struct{}{}
	}()
	<-done
	<-done

	up, down := upBytes.Load(), downBytes.Load()
	s.telemetry.Counters().TunnelBytesUp.Add(uint64(up))
	s.telemetry.Counters().TunnelBytesDown.Add(uint64(down))
	s.obs.Metrics().AddTunnelBytes(up, down)

	if metadata {
		s.telemetry.Counters().TunnelsMetadata.Add(1)
		s.reporter.ReportMetadata(dest, up, down)
	} else {
		s.telemetry.Counters().TunnelsPlain.Add(1)
	}
}
