package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimsight/document-processing-service/internal/domain"
)

func testAnalyzer() *Analyzer {
	return NewAnalyzer(zerolog.Nop())
}

// encodeTestImage produces an encoded image of the given pixel size.
func encodeTestImage(t *testing.T, width, height int, format imaging.Format) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x += 10 {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.Gray{Y: 40})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, format))
	return buf.Bytes()
}

// minimalPDF builds a syntactically valid single-generation PDF with
// the given number of pages, computing xref offsets as it goes.
func minimalPDF(t *testing.T, pages int) []byte {
	t.Helper()

	kids := ""
	for i := 0; i < pages; i++ {
		kids += fmt.Sprintf("%d 0 R ", 3+i)
	}

	objects := []string{
		"1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n",
		fmt.Sprintf("2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n", kids, pages),
	}
	for i := 0; i < pages; i++ {
		objects = append(objects, fmt.Sprintf(
			"%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>\nendobj\n", 3+i))
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, 0, len(objects))
	for _, obj := range objects {
		offsets = append(offsets, buf.Len())
		buf.WriteString(obj)
	}

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, xrefStart)

	return buf.Bytes()
}

func TestAnalyzeImage(t *testing.T) {
	analyzer := testAnalyzer()

	t.Run("high resolution scan", func(t *testing.T) {
		// A4 at 300 DPI.
		data := encodeTestImage(t, 2480, 3508, imaging.PNG)

		meta, err := analyzer.Analyze(data, "image/png")
		require.NoError(t, err)

		assert.Equal(t, 2480, meta.Width)
		assert.Equal(t, 3508, meta.Height)
		assert.Equal(t, 300, meta.DPI)
		assert.Equal(t, 1.0, meta.QualityScore)
		assert.Equal(t, 1, meta.PageCount)
		assert.Equal(t, "png", meta.Format)
	})

	t.Run("low resolution scan scores below one", func(t *testing.T) {
		data := encodeTestImage(t, 827, 1169, imaging.JPEG)

		meta, err := analyzer.Analyze(data, "image/jpeg")
		require.NoError(t, err)

		assert.Equal(t, 100, meta.DPI)
		assert.Greater(t, meta.QualityScore, 0.0)
		assert.Less(t, meta.QualityScore, 1.0)
		assert.Equal(t, "jpeg", meta.Format)
	})

	t.Run("tiny image scores zero", func(t *testing.T) {
		data := encodeTestImage(t, 400, 300, imaging.PNG)

		meta, err := analyzer.Analyze(data, "image/png")
		require.NoError(t, err)

		assert.Equal(t, 0.0, meta.QualityScore)
	})

	t.Run("landscape uses shorter side for dpi", func(t *testing.T) {
		data := encodeTestImage(t, 3508, 2480, imaging.PNG)

		meta, err := analyzer.Analyze(data, "image/png")
		require.NoError(t, err)

		assert.Equal(t, 300, meta.DPI)
	})

	t.Run("normalizes legacy jpg mime", func(t *testing.T) {
		data := encodeTestImage(t, 1000, 1400, imaging.JPEG)

		meta, err := analyzer.Analyze(data, "image/jpg; charset=binary")
		require.NoError(t, err)
		assert.Equal(t, "jpeg", meta.Format)
	})

	t.Run("corrupt image bytes", func(t *testing.T) {
		_, err := analyzer.Analyze([]byte("not an image"), "image/png")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestAnalyzePDF(t *testing.T) {
	analyzer := testAnalyzer()

	t.Run("single page", func(t *testing.T) {
		meta, err := analyzer.Analyze(minimalPDF(t, 1), "application/pdf")
		require.NoError(t, err)

		assert.Equal(t, 1, meta.PageCount)
		assert.Equal(t, "pdf", meta.Format)
		assert.Equal(t, 1.0, meta.QualityScore)
		assert.Zero(t, meta.Width)
		assert.Zero(t, meta.Height)
	})

	t.Run("multi page", func(t *testing.T) {
		meta, err := analyzer.Analyze(minimalPDF(t, 4), "application/pdf")
		require.NoError(t, err)

		assert.Equal(t, 4, meta.PageCount)
	})

	t.Run("corrupt pdf bytes", func(t *testing.T) {
		_, err := analyzer.Analyze([]byte("%PDF-1.4 truncated"), "application/pdf")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestAnalyzeRejections(t *testing.T) {
	analyzer := testAnalyzer()

	t.Run("empty content", func(t *testing.T) {
		_, err := analyzer.Analyze(nil, "image/png")
		require.Error(t, err)

		var validationErr *domain.ValidationError
		require.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "file", validationErr.Field)
	})

	t.Run("unsupported mime type", func(t *testing.T) {
		_, err := analyzer.Analyze([]byte("hello"), "text/plain")
		require.Error(t, err)

		var validationErr *domain.ValidationError
		require.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "mime_type", validationErr.Field)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}
