package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// Bundled default prompts. They are the last tier of the resolution chain
// and always available.
const (
	defaultClassifyPrompt = `You are a medical document classification assistant. You are shown a scanned claim document and a list of candidate document types. Pick the single best matching type.

Respond with a JSON object only, no surrounding text:
{"document_type_code": "<code of the best matching candidate>", "confidence": <0.0-1.0>, "language": "<ISO 639-1 code of the document language, if identifiable>", "reasoning": "<one short sentence>"}

If none of the candidates fit, pick the closest one and lower the confidence accordingly.`

	defaultExtractPrompt = `You are a medical claim data extraction assistant. You are shown a scanned claim document and a field template. Extract the value of every template field from the document.

Respond with a JSON object only, no surrounding text:
{"fields": {"<field name>": {"value": <extracted value>, "confidence": <0.0-1.0>}}, "aggregate_confidence": <0.0-1.0>}

For array fields, "value" is a JSON array of objects following the item schema. Use null for fields not present in the document and set their confidence to 0.`
)

// PromptResolver supplies the system prompt text for engine calls. The
// resolution chain is opaque to adapters; they ask for text and embed it.
type PromptResolver interface {
	// ClassifyPrompt returns the classification system prompt.
	ClassifyPrompt() string
	// ExtractPrompt returns the extraction system prompt for the given
	// document type code. An empty code requests the generic prompt.
	ExtractPrompt(documentTypeCode string) string
}

// filePrompts resolves prompts through the three-tier chain: a
// per-document-type override file, then a global override file, then the
// bundled default. Files are read per call so operator edits take effect
// without a restart.
type filePrompts struct {
	dir string
}

// NewFilePrompts creates a resolver that looks for override files under
// dir: classify.txt and extract.txt at the top level, and
// <documentTypeCode>/extract.txt for per-type extraction overrides. An
// empty dir serves only the bundled defaults.
func NewFilePrompts(dir string) PromptResolver {
	return &filePrompts{dir: dir}
}

// DefaultPrompts returns a resolver serving only the bundled prompts.
func DefaultPrompts() PromptResolver {
	return &filePrompts{}
}

func (p *filePrompts) ClassifyPrompt() string {
	if text, ok := p.readOverride("classify.txt"); ok {
		return text
	}
	return defaultClassifyPrompt
}

func (p *filePrompts) ExtractPrompt(documentTypeCode string) string {
	if documentTypeCode != "" {
		if text, ok := p.readOverride(filepath.Join(sanitizeCode(documentTypeCode), "extract.txt")); ok {
			return text
		}
	}
	if text, ok := p.readOverride("extract.txt"); ok {
		return text
	}
	return defaultExtractPrompt
}

func (p *filePrompts) readOverride(rel string) (string, bool) {
	if p.dir == "" {
		return "", false
	}
	data, err := os.ReadFile(filepath.Join(p.dir, rel))
	if err != nil {
		return "", false
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", false
	}
	return text, true
}

// sanitizeCode keeps document type codes from escaping the prompt
// directory.
func sanitizeCode(code string) string {
	code = strings.ReplaceAll(code, "/", "_")
	code = strings.ReplaceAll(code, "\\", "_")
	return strings.ReplaceAll(code, "..", "_")
}

// buildClassifyUserPrompt renders the candidate type catalog into the user
// message accompanying the document image.
func buildClassifyUserPrompt(candidates []domain.DocumentType) string {
	var sb strings.Builder
	sb.WriteString("Candidate document types:\n")
	for _, c := range candidates {
		sb.WriteString(fmt.Sprintf("- code: %s, name: %s", c.Code, c.Name))
		if c.ClassificationHints != "" {
			sb.WriteString(fmt.Sprintf(" (hints: %s)", c.ClassificationHints))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nClassify the attached document against these candidates.")
	return sb.String()
}

// buildExtractUserPrompt renders the extraction template into the user
// message accompanying the document image.
func buildExtractUserPrompt(template domain.ExtractionTemplate) string {
	if len(template) == 0 {
		return "No field template is available for this document type. Extract every clearly labeled field you can identify."
	}
	spec, err := json.Marshal(template)
	if err != nil {
		// A template is plain data; marshal failure means a programming
		// error upstream.
		spec = []byte("{}")
	}
	return fmt.Sprintf("Field template (name -> {type, required, items?}):\n%s\n\nExtract every template field from the attached document.", spec)
}
