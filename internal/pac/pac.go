// Package pac renders the proxy auto-config script that steers AI
// domains at the proxy and leaves everything else DIRECT. Browsers and
// OS network settings fetch it from GET /proxy.pac.
package pac

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/complyze/complyze-proxy/internal/domains"
)

// ContentType is the registered media type for PAC scripts.
const ContentType = "application/x-ns-proxy-autoconfig"

// Script renders the PAC body. proxyAddr is the host:port clients
// should CONNECT to, e.g. "127.0.0.1:8080". Matching mirrors the
// router's dot-suffix rule so the PAC file and the proxy agree on
// which hosts are in scope.
func Script(table *domains.Table, proxyAddr string) []byte {
	list := table.ProxiedDomains()

	quoted := make([]string, len(list))
	for i, d := range list {
		quoted[i] = fmt.Sprintf("%q", d)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, `// Complyze proxy auto-config. Generated; do not edit.
var proxied = [
  %s
];

function FindProxyForURL(url, host) {
  host = host.toLowerCase();
  if (host === "localhost" || shExpMatch(host, "*.local") || shExpMatch(host, "127.*")) {
    return "DIRECT";
  }
  for (var i = 0; i < proxied.length; i++) {
    var d = proxied[i];
    if (host === d || dnsDomainIs(host, "." + d)) {
      return "PROXY %s";
    }
  }
  return "DIRECT";
}
`, strings.Join(quoted, ",\n  "), proxyAddr)
	return buf.Bytes()
}
