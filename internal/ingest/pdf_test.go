package ingest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildImagePDF assembles a PDF with one page per image, each page
// carrying the image as an embedded object.
func buildImagePDF(t *testing.T, images ...[]byte) []byte {
	t.Helper()
	readers := make([]io.Reader, 0, len(images))
	for _, img := range images {
		readers = append(readers, bytes.NewReader(img))
	}
	var buf bytes.Buffer
	require.NoError(t, api.ImportImages(nil, &buf, readers, nil, model.NewDefaultConfiguration()))
	return buf.Bytes()
}

// buildEmptyPagePDF writes a single blank page with no embedded images,
// computing xref offsets so the document is well formed.
func buildEmptyPagePDF() []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	objects := []string{
		"1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n",
		"2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n",
		"3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] >>\nendobj\n",
	}
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		buf.WriteString(obj)
	}
	xrefStart := buf.Len()
	buf.WriteString("xref\n0 4\n0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size 4 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xrefStart)
	return buf.Bytes()
}

func decodeDims(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	return cfg.Width, cfg.Height
}

func TestExtractPDFEmbeddedImages(t *testing.T) {
	pdf := buildImagePDF(t, testJPEG(t, 60, 40), testJPEG(t, 40, 60))

	entries, err := New(0).IngestFiles(context.Background(), []File{{Name: "catalog.pdf", Data: pdf}})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Entries come out in page order.
	w, h := decodeDims(t, entries[0].Preview)
	assert.Equal(t, [2]int{60, 40}, [2]int{w, h})
	w, h = decodeDims(t, entries[1].Preview)
	assert.Equal(t, [2]int{40, 60}, [2]int{w, h})
}

func TestExtractPDFRasterFallback(t *testing.T) {
	pdf := buildEmptyPagePDF()
	require.True(t, isPDF(pdf))

	entries, err := New(0).IngestFiles(context.Background(), []File{{Name: "blank.pdf", Data: pdf}})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// The blank page has no embedded images, so the whole page gets
	// rendered and re-encoded as JPEG.
	w, h := decodeDims(t, entries[0].Preview)
	assert.Positive(t, w)
	assert.Positive(t, h)
}

func TestExtractPDFMixedPages(t *testing.T) {
	withImage := buildImagePDF(t, testJPEG(t, 60, 40))
	blank := buildEmptyPagePDF()

	entries, err := New(0).IngestFiles(context.Background(), []File{
		{Name: "photos.pdf", Data: withImage},
		{Name: "cover.pdf", Data: blank},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestIngestRejectsBrokenPDF(t *testing.T) {
	_, err := New(0).IngestFiles(context.Background(), []File{
		{Name: "broken.pdf", Data: []byte("%PDF-1.4 truncated mid-object")},
	})
	require.ErrorIs(t, err, ErrUnsupportedInput)
}
