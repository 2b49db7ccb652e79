package attachments

import (
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"go.uber.org/zap"

	"github.com/complyze/complyze-proxy/internal/classify"
	"github.com/complyze/complyze-proxy/internal/hash"
)

// FileResult is the inspection outcome for one uploaded file.
type FileResult struct {
	Filename string `json:"filename"`
	Size     int    `json:"size"`
	SHA256   string `json:"sha256"`

	// TextLen is the extracted-text length; Bulk marks files whose
	// extracted text exceeds the bulk threshold (5000 chars).
	TextLen int  `json:"text_len"`
	Bulk    bool `json:"bulk"`

	// Result is the per-file classification. On extraction failure it
	// is the baseline empty result and ExtractError carries the cause.
	Result       *classify.Result `json:"result,omitempty"`
	ExtractError string           `json:"extract_error,omitempty"`
}

// Inspection aggregates one multipart body's worth of files.
type Inspection struct {
	Files []FileResult

	// Merged is the request-level classification: text fields plus
	// every file, categories unioned, most sensitive file's score.
	Merged *classify.Result

	// MaxTextLen is the longest extracted text across files, used for
	// the bulk exposure decision.
	MaxTextLen int
}

// HasFiles reports whether any part carried a filename.
func (i *Inspection) HasFiles() bool {
	return len(i.Files) > 0
}

// bulkThreshold mirrors the policy package's bulk rule.
const bulkThreshold = 5000

// Inspector walks multipart bodies and classifies each file.
type Inspector struct {
	classifier *classify.Classifier
	logger     *zap.SugaredLogger
}

// NewInspector creates an Inspector.
func NewInspector(classifier *classify.Classifier, logger *zap.SugaredLogger) *Inspector {
	return &Inspector{classifier: classifier, logger: logger}
}

// Boundary extracts the multipart boundary from a Content-Type value,
// or "" when the body is not multipart.
func Boundary(contentType string) string {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return ""
	}
	return params["boundary"]
}

// Inspect walks the multipart body and classifies every part. File
// parts are hashed and text-extracted; plain form fields are
// concatenated and classified as one text. A broken part ends the walk
// with whatever was collected so far; the request is still forwarded.
func (ins *Inspector) Inspect(ctx context.Context, body []byte, boundary string) (*Inspection, error) {
	inspection := &Inspection{}

	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	var textFields strings.Builder

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			ins.logger.Warnw("Malformed multipart body, stopping walk", "error", err)
			break
		}

		data, err := io.ReadAll(part)
		if err != nil {
			ins.logger.Warnw("Failed to read multipart part", "error", err)
			break
		}

		filename := part.FileName()
		if filename == "" {
			textFields.Write(data)
			textFields.WriteByte('\n')
			continue
		}

		file, err := ins.inspectFile(ctx, filename, data)
		if err != nil {
			return nil, err
		}
		inspection.Files = append(inspection.Files, file)
	}

	results := make([]*classify.Result, 0, len(inspection.Files)+1)
	if textFields.Len() > 0 {
		fieldResult, err := ins.classifier.Classify(ctx, textFields.String())
		if err != nil {
			return nil, err
		}
		results = append(results, fieldResult)
	}
	for i := range inspection.Files {
		if inspection.Files[i].TextLen > inspection.MaxTextLen {
			inspection.MaxTextLen = inspection.Files[i].TextLen
		}
		if inspection.Files[i].Result != nil {
			results = append(results, inspection.Files[i].Result)
		}
	}

	inspection.Merged = classify.Merge(results...)
	return inspection, nil
}

// inspectFile hashes, extracts, and classifies one uploaded file.
// Extraction failures return baseline metadata so the caller still has
// the filename and hash for the audit trail; only a blown inspection
// deadline is a hard error.
func (ins *Inspector) inspectFile(ctx context.Context, filename string, data []byte) (FileResult, error) {
	file := FileResult{
		Filename: filename,
		Size:     len(data),
		SHA256:   hash.BytesHash(data),
	}

	text, err := ExtractText(filename, data)
	if err != nil {
		ins.logger.Warnw("Attachment text extraction failed",
			"filename", filename,
			"size", len(data),
			"error", err)
		file.ExtractError = err.Error()
		file.Result = baselineResult()
		return file, nil
	}

	file.TextLen = len(text)
	file.Bulk = len(text) > bulkThreshold

	result, err := ins.classifier.Classify(ctx, text)
	if err != nil {
		return file, err
	}
	file.Result = result
	return file, nil
}

// baselineResult is the empty classification attached to files whose
// text could not be extracted.
func baselineResult() *classify.Result {
	return &classify.Result{
		Categories:    []classify.Category{classify.CategoryNone},
		Risk:          classify.RiskLow,
		PatternCounts: map[classify.Category]int{},
	}
}
