package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/complyze/complyze-proxy/internal/classify"
)

// Warning headers. Clients and browser extensions key on these.
const (
	HeaderWarning     = "X-Complyze-Warning"
	HeaderEnforcement = "X-Complyze-Enforcement"
)

// Response is a synthesized HTTP response the proxy writes directly to
// the client instead of contacting the upstream.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// detectionSummary is the stable JSON shape embedded in policy
// responses.
type detectionSummary struct {
	Categories []classify.Category `json:"categories_detected"`
	Score      int                 `json:"sensitivity_score"`
	Risk       classify.Risk       `json:"risk_category"`
}

func summarize(result *classify.Result) detectionSummary {
	return detectionSummary{
		Categories: result.Categories,
		Score:      result.Score,
		Risk:       result.Risk,
	}
}

// blockResponse builds the 403 returned for an applied block.
func blockResponse(result *classify.Result) *Response {
	body, _ := json.Marshal(struct {
		Blocked         bool             `json:"blocked"`
		Reason          string           `json:"reason"`
		EnforcementMode string           `json:"enforcement_mode"`
		Detection       detectionSummary `json:"detection"`
	}{
		Blocked:         true,
		Reason:          "Request blocked by Complyze policy: critical-risk content detected",
		EnforcementMode: "block",
		Detection:       summarize(result),
	})

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set(HeaderEnforcement, "block")

	return &Response{
		StatusCode: http.StatusForbidden,
		Status:     "403 Forbidden",
		Header:     header,
		Body:       body,
	}
}

// warnResponse builds the 299 returned in warn mode. 299 sits outside
// the standard status ranges, so clients see an answered request rather
// than a failure, and the body says a resubmit goes through unchanged.
func warnResponse(result *classify.Result) *Response {
	body, _ := json.Marshal(struct {
		Warning         bool             `json:"warning"`
		EnforcementMode string           `json:"enforcement_mode"`
		Message         string           `json:"message"`
		OverrideAllowed bool             `json:"override_allowed"`
		Detection       detectionSummary `json:"detection"`
	}{
		Warning:         true,
		EnforcementMode: "warn",
		Message:         "Sensitive content detected. Review the detection summary; resubmitting sends the request unchanged.",
		OverrideAllowed: true,
		Detection:       summarize(result),
	})

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set(HeaderWarning, "true")
	header.Set(HeaderEnforcement, "warn")

	return &Response{
		StatusCode: 299,
		Status:     "299 Warning",
		Header:     header,
		Body:       body,
	}
}

// Write serializes the response in HTTP/1.1 wire format. The MITM loop
// owns the raw stream, so this writes status line, headers, and body by
// hand and keeps the connection usable for the next request.
func (r *Response) Write(w io.Writer) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %s\r\n", r.Status)
	fmt.Fprintf(&buf, "Content-Length: %s\r\n", strconv.Itoa(len(r.Body)))
	for key, values := range r.Header {
		for _, v := range values {
			fmt.Fprintf(&buf, "%s: %s\r\n", key, v)
		}
	}
	buf.WriteString("Connection: keep-alive\r\n\r\n")
	buf.Write(r.Body)

	_, err := w.Write(buf.Bytes())
	return err
}
