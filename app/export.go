package app

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shawngo/netlify-forms/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// CsvExporter renders stored submissions as CSV. Small result sets are
// rendered in one pass; larger ones are folded chunk by chunk into the
// export buffer and handed back as a one-shot download token.
type CsvExporter struct {
	log       *zap.Logger
	buffer    *ExportBuffer
	chunkSize int
}

func NewCsvExporter(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, buffer *ExportBuffer) *CsvExporter {
	chunkSize := cfg.ExportChunkSize
	if chunkSize <= 0 {
		chunkSize = 500
	}
	return &CsvExporter{log, buffer, chunkSize}
}

// ExportOutput is either inline CSV data or a token redeemable once against
// the export buffer.
type ExportOutput struct {
	Data     []byte
	Filename string
	Token    string
}

func (out ExportOutput) Batched() bool {
	return out.Token != ""
}

// Export dispatches between direct and chunked generation based on volume.
func (ex *CsvExporter) Export(submissions []Submission, formName string) ExportOutput {
	filename := ExportFilename(formName, time.Now().UTC())

	if len(submissions) <= ex.chunkSize {
		return ExportOutput{Data: RenderCSV(submissions, true), Filename: filename}
	}
	return ex.batchExport(submissions, filename)
}

// batchExport folds fixed-size chunks into one accumulated document. Chunks
// run sequentially; only the first one emits the header row. The assembled
// CSV is parked in the export buffer under a fresh token.
func (ex *CsvExporter) batchExport(submissions []Submission, filename string) ExportOutput {
	total := (len(submissions) + ex.chunkSize - 1) / ex.chunkSize

	var out []byte
	for i := 0; i < len(submissions); i += ex.chunkSize {
		end := i + ex.chunkSize
		if end > len(submissions) {
			end = len(submissions)
		}
		out = append(out, RenderCSV(submissions[i:end], i == 0)...)

		ex.log.Sugar().Infow("Processed export chunk",
			"chunk", i/ex.chunkSize+1, "total_chunks", total)
	}

	token := ex.buffer.Put(out, filename)
	ex.log.Sugar().Infow("Batched export ready",
		"token", token, "rows", len(submissions), "bytes", len(out))
	return ExportOutput{Filename: filename, Token: token}
}

// RenderCSV produces CSV for a slice of submissions. Columns are the four
// fixed fields followed by every distinct payload-data key in first-observed
// order. Every value is double-quoted with embedded quotes doubled.
func RenderCSV(submissions []Submission, includeHeaders bool) []byte {
	if len(submissions) == 0 {
		return nil
	}

	fields := []string{"id", "created_at", "email", "name"}
	seen := map[string]bool{"id": true, "created_at": true, "email": true, "name": true}
	for i := range submissions {
		for _, key := range dataKeys(submissions[i].SubmissionData) {
			if !seen[key] {
				seen[key] = true
				fields = append(fields, key)
			}
		}
	}

	var b strings.Builder

	if includeHeaders {
		writeRow(&b, fields)
	}

	for i := range submissions {
		sub := &submissions[i]
		data := sub.Data()

		row := make([]string, 0, len(fields))
		for _, field := range fields {
			switch field {
			case "id":
				row = append(row, sub.NetlifySubmissionID)
			case "created_at":
				row = append(row, sub.CreatedAt.Format("2006-01-02 15:04:05"))
			case "email":
				row = append(row, sub.Email)
			case "name":
				row = append(row, sub.SubmissionName)
			default:
				row = append(row, renderValue(data[field]))
			}
		}
		writeRow(&b, row)
	}

	return []byte(b.String())
}

func writeRow(b *strings.Builder, fields []string) {
	for i, field := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(field, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
}

// dataKeys lists the payload-data keys of one submission document in their
// original order. json.Unmarshal into a map loses ordering, so the keys are
// scanned off the raw document instead.
func dataKeys(raw string) []string {
	var doc struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil || doc.Data == nil {
		return nil
	}

	dec := json.NewDecoder(strings.NewReader(string(doc.Data)))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil
	}

	var keys []string
	depth := 0
	for dec.More() || depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		case string:
			if depth == 0 {
				keys = append(keys, t)
				// Skip this key's value so nested object keys are not
				// mistaken for top-level ones.
				var discard json.RawMessage
				if err := dec.Decode(&discard); err != nil {
					return keys
				}
			}
		}
	}
	return keys
}

func renderValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = renderValue(item)
		}
		return strings.Join(parts, "; ")
	case float64:
		// JSON numbers decode as float64; render integers without a
		// trailing ".0".
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// ExportFilename derives the download filename from a form's display name.
func ExportFilename(formName string, date time.Time) string {
	sanitized := unsafeFilenameChars.ReplaceAllString(formName, "_")
	return fmt.Sprintf("%s_submissions_%s.csv", sanitized, date.Format("2006-01-02"))
}

// ExportBuffer parks completed batched exports until their one permitted
// download. The first read of a token wins and deletes the entry.
type ExportBuffer struct {
	mu      sync.Mutex
	exports map[string]bufferedExport
}

type bufferedExport struct {
	data     []byte
	filename string
}

func NewExportBuffer(lc fx.Lifecycle) *ExportBuffer {
	return &ExportBuffer{exports: make(map[string]bufferedExport)}
}

// Put stores an assembled export and returns its retrieval token.
func (buf *ExportBuffer) Put(data []byte, filename string) string {
	token := uuid.NewString()

	buf.mu.Lock()
	defer buf.mu.Unlock()
	buf.exports[token] = bufferedExport{data, filename}
	return token
}

// Take redeems a token. Unknown or already-consumed tokens return
// ErrExportNotFound; concurrent readers race for a single winner.
func (buf *ExportBuffer) Take(token string) ([]byte, string, error) {
	buf.mu.Lock()
	defer buf.mu.Unlock()

	export, ok := buf.exports[token]
	if !ok {
		return nil, "", ErrExportNotFound
	}
	delete(buf.exports, token)
	return export.data, export.filename, nil
}
