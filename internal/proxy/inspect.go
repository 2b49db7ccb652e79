package proxy

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/complyze/complyze-proxy/internal/attachments"
	"github.com/complyze/complyze-proxy/internal/classify"
	"github.com/complyze/complyze-proxy/internal/config"
	"github.com/complyze/complyze-proxy/internal/controlplane"
	"github.com/complyze/complyze-proxy/internal/domains"
	"github.com/complyze/complyze-proxy/internal/policy"
	"github.com/complyze/complyze-proxy/internal/telemetry"
	"github.com/complyze/complyze-proxy/internal/tokens"
)

// inspectAndForward classifies a buffered body, applies the resolved
// enforcement mode and either forwards upstream or answers with the
// synthesized policy response.
func (s *Server) inspectAndForward(ctx context.Context, tlsConn net.Conn, req *http.Request, body []byte, dest domains.Destination, port string, settings *config.Settings, boundary string) bool {
	bucket := telemetry.BucketText
	inspectAttachments := boundary != "" && settings.InspectAttachments
	if inspectAttachments {
		bucket = telemetry.BucketAttachment
	}

	ctx, span := s.obs.SpanInspection(ctx, dest.Host, dest.Tool, len(body))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.InspectionTimeout())
	defer cancel()

	start := time.Now()
	var (
		result     *classify.Result
		inspection *attachments.Inspection
		err        error
	)
	if inspectAttachments {
		inspection, err = s.inspector.Inspect(ctx, body, boundary)
		if err == nil {
			result = inspection.Merged
		}
	} else {
		result, err = s.classifier.Classify(ctx, string(body))
	}
	elapsed := time.Since(start)
	s.telemetry.ObserveInspection(bucket, elapsed)

	if err != nil {
		return s.handleInspectionError(ctx, tlsConn, req, body, dest, port, bucket, elapsed, err)
	}

	if !inspectAttachments && s.counter.IsEnabled() {
		if n, cerr := s.counter.CountForModel(string(body), tokens.ModelFromBody(body)); cerr == nil {
			s.telemetry.Counters().PreciseTokens.Add(uint64(n))
		}
	}

	mode := settings.ResolveEnforcementMode()
	decision := policy.Evaluate(mode, result, body)
	s.obs.RecordInspection(ctx, dest.Tool, actionLabel(decision.Action), string(bucket), elapsed, nil)

	hasAttachment := inspection != nil && inspection.HasFiles()
	maxTextLen := 0
	if inspection != nil {
		maxTextLen = inspection.MaxTextLen
	}
	exposure := policy.ExposureFor(decision.Blocked, hasAttachment, maxTextLen)
	reu := policy.REU(result, exposure, dest.Class)

	if result.Sensitive() {
		s.telemetry.EnforcementDecision(dest.Host, req.URL.Path, result, reu, string(mode), string(decision.Action))
	}
	switch decision.Action {
	case policy.ActionBlock:
		s.telemetry.Counters().RequestsBlocked.Add(1)
	case policy.ActionWarn:
		s.telemetry.Counters().RequestsWarned.Add(1)
	case policy.ActionRedact:
		if decision.Redaction != nil && decision.Redaction.Changed {
			s.telemetry.Counters().RequestsRedacted.Add(1)
		}
	}

	s.reporter.Report(controlplane.EventInput{
		Dest:                 dest,
		Method:               req.Method,
		Path:                 req.URL.Path,
		Headers:              req.Header,
		Body:                 string(body),
		Result:               result,
		REUScore:             reu,
		Action:               decision.Action,
		Blocked:              decision.Blocked,
		AttachmentInspection: inspectAttachments,
		FullAudit:            settings.FullAuditMode,
	})

	if !decision.Forward {
		if decision.Blocked {
			s.notifier.Blocked(dest.Tool, dest.Host, categoryNames(result.Categories))
		}
		if err := decision.Response.Write(tlsConn); err != nil {
			return false
		}
		return true
	}

	s.telemetry.Counters().RequestsForwarded.Add(1)
	_, fspan := s.obs.SpanForward(ctx, dest.Host, req.Method, req.URL.Path)
	ok := s.forwardBuffered(tlsConn, req, decision.Body, dest, port)
	fspan.End()
	return ok
}

// handleInspectionError applies the fail-open policy: forward the original
// body untouched, or refuse with a 503 when the proxy is configured to
// fail closed.
func (s *Server) handleInspectionError(ctx context.Context, tlsConn net.Conn, req *http.Request, body []byte, dest domains.Destination, port string, bucket telemetry.Bucket, elapsed time.Duration, err error) bool {
	s.obs.RecordInspection(ctx, dest.Tool, "error", string(bucket), elapsed, err)

	action := "forwarded"
	if !s.cfg.FailOpen {
		action = "rejected"
	}
	s.telemetry.InspectionError(ulid.Make().String(), dest.Host, int64(len(body)), err.Error(), elapsed, s.cfg.FailOpen, action)

	if !s.cfg.FailOpen {
		return writeRawResponse(tlsConn, http.StatusServiceUnavailable,
			`{"error":"inspection unavailable"}`) == nil
	}

	s.telemetry.Counters().RequestsForwarded.Add(1)
	return s.forwardBuffered(tlsConn, req, body, dest, port)
}

// actionLabel keeps the metrics label space closed; clean requests land in
// "none".
func actionLabel(action policy.Action) string {
	if action == "" {
		return "none"
	}
	return string(action)
}

func categoryNames(categories []classify.Category) []string {
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		out = append(out, string(c))
	}
	return out
}
