package document

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"go-identity-verifier/images"
)

// TextRecognizer is a text recognition provider. It may return empty or garbage text.
type TextRecognizer interface {
	Recognize(ctx context.Context, jpeg []byte) (string, error)
}

// Result is the outcome of matching a claim against extracted text.
type Result struct {
	AllMatched bool            `json:"all_matched"`
	Fields     map[string]bool `json:"fields"`
}

// FailedFields lists the fields that did not match, in display order.
func (r Result) FailedFields() []string {
	var failed []string
	for _, f := range VerifiedFields {
		if matched, ok := r.Fields[f]; ok && !matched {
			failed = append(failed, f)
		}
	}
	return failed
}

type Verifier struct {
	recognizer TextRecognizer
}

func NewVerifier(recognizer TextRecognizer) *Verifier {
	return &Verifier{recognizer: recognizer}
}

// ExtractText returns the lowercased, whitespace-collapsed document text.
// Recognition failures are logged and yield an empty string.
func (v *Verifier) ExtractText(ctx context.Context, img *images.Normalized) string {
	if img == nil {
		return ""
	}

	raw, err := v.recognizer.Recognize(ctx, img.JPEG)
	if err != nil {
		slog.Warn("Text recognition failed", "error", err)
		return ""
	}

	text := NormalizeText(raw)
	slog.Debug("Extracted document text", "length", len(text))
	return text
}

var lower = cases.Lower(language.Und)

// NormalizeText lowercases s and collapses all whitespace runs into single spaces.
func NormalizeText(s string) string {
	s = lower.String(norm.NFKC.String(s))
	return strings.Join(strings.Fields(s), " ")
}

// VerifyClaims checks that every verified claim field appears in text at a word boundary.
func VerifyClaims(text string, c Claim) Result {
	text = NormalizeText(text)

	res := Result{AllMatched: true, Fields: make(map[string]bool, len(VerifiedFields))}
	for _, f := range VerifiedFields {
		matched := matchField(text, f, c.value(f))
		res.Fields[f] = matched
		if !matched {
			res.AllMatched = false
		}
	}
	return res
}

func matchField(text, field, value string) bool {
	value = NormalizeText(value)
	if text == "" || value == "" {
		return false
	}

	var pattern string
	if field == FieldIDNumber {
		// spacing inside ID numbers varies between cards and OCR output
		parts := strings.Fields(value)
		for i, p := range parts {
			parts[i] = regexp.QuoteMeta(p)
		}
		pattern = strings.Join(parts, `\s*`)
	} else {
		pattern = regexp.QuoteMeta(value)
	}

	re, err := regexp.Compile(`(?:^|[^\p{L}\p{N}_])` + pattern + `(?:[^\p{L}\p{N}_]|$)`)
	if err != nil {
		slog.Warn("Invalid claim pattern", "field", field, "error", err)
		return false
	}
	return re.MatchString(text)
}
