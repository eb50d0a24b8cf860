// Package preprocess analyzes uploaded document files and derives the
// numeric metadata the pipeline records before classification: pixel
// dimensions, an estimated scan DPI, a quality score, and page counts
// for PDFs.
package preprocess

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// Reference values for the DPI estimate and quality score. Scanned
// claim forms are letter/A4 sized, so the page width in inches gives a
// usable DPI approximation from pixel width alone.
const (
	assumedPageWidthInches = 8.27
	targetDPI              = 300
	minUsableDPI           = 72
)

// Analyzer computes PreprocessingMetadata from raw file bytes.
type Analyzer struct {
	logger zerolog.Logger
}

// NewAnalyzer creates a file analyzer.
func NewAnalyzer(logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		logger: logger.With().Str("component", "preprocess-analyzer").Logger(),
	}
}

// Analyze derives metadata for the given file content. Empty content or
// a MIME type outside the supported set is a ValidationError; callers
// treat those as permanent failures rather than retrying.
func (a *Analyzer) Analyze(data []byte, mimeType string) (*domain.PreprocessingMetadata, error) {
	if len(data) == 0 {
		return nil, domain.NewValidationError("file", "file content is empty")
	}

	normalized := normalizeMIME(mimeType)
	switch normalized {
	case "application/pdf":
		return a.analyzePDF(data)
	case "image/png", "image/jpeg", "image/tiff", "image/bmp":
		return a.analyzeImage(data, normalized)
	default:
		return nil, domain.NewValidationError("mime_type", fmt.Sprintf("unsupported MIME type: %s", mimeType))
	}
}

func (a *Analyzer) analyzeImage(data []byte, mimeType string) (*domain.PreprocessingMetadata, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, domain.NewValidationError("file", fmt.Sprintf("cannot decode %s image: %v", mimeType, err))
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	dpi := estimateDPI(width, height)

	meta := &domain.PreprocessingMetadata{
		Width:        width,
		Height:       height,
		DPI:          dpi,
		QualityScore: qualityScore(dpi),
		PageCount:    1,
		Format:       strings.TrimPrefix(mimeType, "image/"),
	}

	a.logger.Debug().
		Int("width", width).
		Int("height", height).
		Int("dpi", dpi).
		Float64("quality_score", meta.QualityScore).
		Msg("Analyzed image")

	return meta, nil
}

func (a *Analyzer) analyzePDF(data []byte) (meta *domain.PreprocessingMetadata, err error) {
	// The PDF parser panics on some malformed inputs instead of
	// returning an error.
	defer func() {
		if r := recover(); r != nil {
			meta = nil
			err = domain.NewValidationError("file", fmt.Sprintf("cannot parse PDF: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, domain.NewValidationError("file", fmt.Sprintf("cannot parse PDF: %v", err))
	}

	pages := reader.NumPage()
	if pages < 1 {
		return nil, domain.NewValidationError("file", "PDF has no pages")
	}

	// Native PDFs carry no raster dimensions; pages render at the
	// engine's own resolution, so the quality score reflects only
	// that the file parsed cleanly.
	meta = &domain.PreprocessingMetadata{
		QualityScore: 1.0,
		PageCount:    pages,
		Format:       "pdf",
	}

	a.logger.Debug().
		Int("page_count", pages).
		Msg("Analyzed PDF")

	return meta, nil
}

// estimateDPI approximates the scan resolution from the pixel width of
// the longer-in-portrait dimension, assuming an A4-sized source page.
func estimateDPI(width, height int) int {
	shorter := width
	if height < width {
		shorter = height
	}
	return int(float64(shorter)/assumedPageWidthInches + 0.5)
}

// qualityScore maps an estimated DPI onto [0,1]. Resolutions at or
// above the target scan DPI score 1.0; anything below the minimum
// usable resolution scores 0.
func qualityScore(dpi int) float64 {
	if dpi >= targetDPI {
		return 1.0
	}
	if dpi <= minUsableDPI {
		return 0.0
	}
	return float64(dpi-minUsableDPI) / float64(targetDPI-minUsableDPI)
}

func normalizeMIME(mimeType string) string {
	normalized := strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.Index(normalized, ";"); idx >= 0 {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	switch normalized {
	case "image/jpg":
		return "image/jpeg"
	case "image/x-png":
		return "image/png"
	}
	return normalized
}
