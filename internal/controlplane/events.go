package controlplane

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/complyze/complyze-proxy/internal/classify"
	"github.com/complyze/complyze-proxy/internal/domains"
	"github.com/complyze/complyze-proxy/internal/hash"
	"github.com/complyze/complyze-proxy/internal/policy"
	"github.com/complyze/complyze-proxy/internal/storage"
	"github.com/complyze/complyze-proxy/internal/tokens"
)

// ActivityEvent is the per-request record the dashboard aggregates. Hashes
// stand in for identities so events stay correlatable without carrying the
// user or the prompt.
type ActivityEvent struct {
	ID                    string   `json:"id"`
	Tool                  string   `json:"tool"`
	ToolDomain            string   `json:"tool_domain"`
	UserHash              string   `json:"user_hash"`
	PromptHash            string   `json:"prompt_hash"`
	PromptLength          int      `json:"prompt_length"`
	TokenCountEstimate    int      `json:"token_count_estimate"`
	APIEndpoint           string   `json:"api_endpoint"`
	SensitivityScore      int      `json:"sensitivity_score"`
	SensitivityCategories []string `json:"sensitivity_categories"`
	PolicyViolationFlag   bool     `json:"policy_violation_flag"`
	RiskCategory          string   `json:"risk_category"`
	Timestamp             string   `json:"timestamp"`

	// Blocked is set only for an applied block; EnforcementAction only
	// when the request was sensitive.
	Blocked           bool   `json:"blocked,omitempty"`
	EnforcementAction string `json:"enforcement_action,omitempty"`

	AttachmentInspectionEnabled bool   `json:"attachment_inspection_enabled"`
	FullPrompt                  string `json:"full_prompt,omitempty"`

	// Byte counters are present only on metadata-tunnel events.
	UpstreamBytes   int64 `json:"upstream_bytes,omitempty"`
	DownstreamBytes int64 `json:"downstream_bytes,omitempty"`
}

// DLPRecord bundles the activity event with the raw classification and the
// risk-exposure score.
type DLPRecord struct {
	ActivityEvent
	Classification *classify.Result `json:"classification,omitempty"`
	REUScore       float64          `json:"reu_score"`
}

// interceptPayload is the wire envelope for POST /api/proxy/intercept.
type interceptPayload struct {
	TargetURL   string            `json:"target_url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body,omitempty"`
	UserID      string            `json:"user_id"`
	LogOnly     bool              `json:"log_only"`
	DLP         *DLPRecord        `json:"dlp"`
	WorkspaceID string            `json:"workspace_id"`
}

// EventInput carries everything the proxy knows about one inspected request.
type EventInput struct {
	Dest    domains.Destination
	Method  string
	Path    string
	Headers http.Header
	Body    string

	Result   *classify.Result
	REUScore float64
	Action   policy.Action
	Blocked  bool

	AttachmentInspection bool
	FullAudit            bool
}

// Reporter posts activity events to the control plane. Report is
// fire-and-forget: it spawns a goroutine and returns before the post
// completes, so the forwarding path never waits on the dashboard.
type Reporter struct {
	client   *Client
	userHash string
	logger   *zap.SugaredLogger
	wg       sync.WaitGroup

	// Outcome hook, "ok" or "failed" per post. Nil until SetObserver.
	observe func(result string)
}

// NewReporter derives the stable user hash from the persisted device
// identity.
func NewReporter(client *Client, device *storage.DeviceRecord, logger *zap.SugaredLogger) *Reporter {
	return &Reporter{
		client:   client,
		userHash: hash.Correlation(device.ID),
		logger:   logger,
	}
}

// Report posts one inspected-request event.
func (r *Reporter) Report(in EventInput) {
	event := r.buildEvent(in)

	payload := &interceptPayload{
		TargetURL:   "https://" + in.Dest.Host + in.Path,
		Method:      in.Method,
		Headers:     StripAuthHeaders(in.Headers),
		UserID:      r.userHash,
		LogOnly:     in.Action == "" || in.Action == policy.ActionMonitor,
		WorkspaceID: r.client.workspaceID,
		DLP: &DLPRecord{
			ActivityEvent:  event,
			Classification: in.Result,
			REUScore:       in.REUScore,
		},
	}
	if in.FullAudit {
		payload.Body = in.Body
	}

	r.post(payload, event.Tool)
}

// ReportMetadata posts the single CONNECT accounting event emitted when a
// metadata-only tunnel closes.
func (r *Reporter) ReportMetadata(dest domains.Destination, upstreamBytes, downstreamBytes int64) {
	body := fmt.Sprintf("[metadata-only: %s]", dest.Host)

	event := ActivityEvent{
		ID:                    ulid.Make().String(),
		Tool:                  toolName(dest),
		ToolDomain:            dest.Host,
		UserHash:              r.userHash,
		PromptHash:            hash.Correlation(body),
		PromptLength:          len(body),
		TokenCountEstimate:    tokens.Estimate(body),
		SensitivityScore:      0,
		SensitivityCategories: []string{string(classify.CategoryNone)},
		RiskCategory:          string(classify.RiskLow),
		Timestamp:             time.Now().UTC().Format(time.RFC3339),
		UpstreamBytes:         upstreamBytes,
		DownstreamBytes:       downstreamBytes,
	}

	payload := &interceptPayload{
		TargetURL:   "https://" + dest.Host,
		Method:      http.MethodConnect,
		Body:        body,
		UserID:      r.userHash,
		LogOnly:     true,
		WorkspaceID: r.client.workspaceID,
		DLP:         &DLPRecord{ActivityEvent: event},
	}

	r.post(payload, event.Tool)
}

// ReportAttachmentSkip posts the log-only event for a multipart body that
// streamed through above the inspection cap. The placeholder body records
// the size without ever buffering the upload.
func (r *Reporter) ReportAttachmentSkip(dest domains.Destination, method, path string, headers http.Header, declaredBytes int64, inspectAttachments bool) {
	body := fmt.Sprintf("[attachment: %d bytes — skipped]", declaredBytes)

	event := ActivityEvent{
		ID:                          ulid.Make().String(),
		Tool:                        toolName(dest),
		ToolDomain:                  dest.Host,
		UserHash:                    r.userHash,
		PromptHash:                  hash.Correlation(body),
		PromptLength:                len(body),
		TokenCountEstimate:          tokens.Estimate(body),
		APIEndpoint:                 path,
		SensitivityScore:            0,
		SensitivityCategories:       []string{string(classify.CategoryNone)},
		RiskCategory:                string(classify.RiskLow),
		Timestamp:                   time.Now().UTC().Format(time.RFC3339),
		AttachmentInspectionEnabled: inspectAttachments,
	}

	payload := &interceptPayload{
		TargetURL:   "https://" + dest.Host + path,
		Method:      method,
		Headers:     StripAuthHeaders(headers),
		Body:        body,
		UserID:      r.userHash,
		LogOnly:     true,
		WorkspaceID: r.client.workspaceID,
		DLP:         &DLPRecord{ActivityEvent: event},
	}

	r.post(payload, event.Tool)
}

// SetObserver registers a hook called with "ok" or "failed" after every
// post. Must be set before the first Report.
func (r *Reporter) SetObserver(fn func(result string)) {
	r.observe = fn
}

// Drain waits for in-flight posts. Called at shutdown so the last events
// still reach the dashboard.
func (r *Reporter) Drain() {
	r.wg.Wait()
}

func (r *Reporter) post(payload *interceptPayload, tool string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		defer cancel()

		if err := r.client.postJSON(ctx, r.client.endpoint(interceptPath, true), payload); err != nil {
			r.logger.Debugw("Activity event post failed", "tool", tool, "error", err)
			r.observed("failed")
			return
		}
		r.observed("ok")
	}()
}

func (r *Reporter) observed(result string) {
	if r.observe != nil {
		r.observe(result)
	}
}

func (r *Reporter) buildEvent(in EventInput) ActivityEvent {
	event := ActivityEvent{
		ID:                          ulid.Make().String(),
		Tool:                        toolName(in.Dest),
		ToolDomain:                  in.Dest.Host,
		UserHash:                    r.userHash,
		PromptHash:                  hash.Correlation(in.Body),
		PromptLength:                len(in.Body),
		TokenCountEstimate:          tokens.Estimate(in.Body),
		APIEndpoint:                 in.Path,
		Timestamp:                   time.Now().UTC().Format(time.RFC3339),
		Blocked:                     in.Blocked,
		EnforcementAction:           string(in.Action),
		AttachmentInspectionEnabled: in.AttachmentInspection,
	}

	if in.Result != nil {
		event.SensitivityScore = in.Result.Score
		event.SensitivityCategories = categoryStrings(in.Result.Categories)
		event.PolicyViolationFlag = in.Result.PolicyViolation
		event.RiskCategory = string(in.Result.Risk)
	}

	if in.FullAudit {
		event.FullPrompt = in.Body
	}

	return event
}

// toolName prefers the domain-table name and falls back to the hostname for
// destinations the table does not know.
func toolName(dest domains.Destination) string {
	if dest.Tool != "" {
		return dest.Tool
	}
	return dest.Host
}

func categoryStrings(categories []classify.Category) []string {
	out := make([]string, len(categories))
	for i, c := range categories {
		out[i] = string(c)
	}
	return out
}
