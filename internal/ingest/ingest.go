// Package ingest normalizes heterogeneous inputs (images, HEIC/HEIF,
// multi-page PDFs, remote URLs) into uniform entries the pipeline can
// consume directly: original encoded bytes plus a JPEG preview.
package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jdeng/goheif"
	"github.com/rs/zerolog/log"

	"github.com/AdamLam-AI/TaobaoLens/internal/crop"
	"github.com/AdamLam-AI/TaobaoLens/internal/pipeline"
)

// DefaultMaxBatchItems caps how many entries one submission may produce.
const DefaultMaxBatchItems = 20

var (
	ErrBatchTooLarge    = errors.New("batch exceeds maximum item count")
	ErrUnsupportedInput = errors.New("unsupported input format")
)

// File is one named input as received from the upload surface.
type File struct {
	Name string
	Data []byte
}

// Ingestor turns raw uploads into pipeline entries.
type Ingestor struct {
	maxBatch int
}

// New creates an ingestor with the given batch cap (0 means the default).
func New(maxBatch int) *Ingestor {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatchItems
	}
	return &Ingestor{maxBatch: maxBatch}
}

// IngestFiles normalizes a batch of uploads. Files that cannot be decoded
// are skipped with a log line, mirroring the file-picker's filter; the
// batch fails only when the cap is exceeded or nothing usable remains.
// Every yielded entry is already in a format the crop engine and the
// analysis client consume without further transcoding.
func (g *Ingestor) IngestFiles(ctx context.Context, files []File) ([]pipeline.Entry, error) {
	if len(files) > g.maxBatch {
		return nil, fmt.Errorf("%w: %d files, limit %d", ErrBatchTooLarge, len(files), g.maxBatch)
	}

	var entries []pipeline.Entry
	for _, f := range files {
		got, err := g.ingestOne(ctx, f)
		if err != nil {
			log.Warn().Err(err).Str("file", f.Name).Msg("skipping input")
			continue
		}
		entries = append(entries, got...)
		if len(entries) > g.maxBatch {
			return nil, fmt.Errorf("%w: %d entries, limit %d", ErrBatchTooLarge, len(entries), g.maxBatch)
		}
	}

	if len(entries) == 0 {
		return nil, ErrUnsupportedInput
	}
	return entries, nil
}

func (g *Ingestor) ingestOne(ctx context.Context, f File) ([]pipeline.Entry, error) {
	data := decodeDataURI(f.Data)
	if len(data) == 0 {
		return nil, ErrUnsupportedInput
	}

	switch {
	case isPDF(data):
		return g.extractPDF(ctx, data)
	case isHEIC(f.Name, data):
		entry, err := transcodeHEIC(data)
		if err != nil {
			return nil, err
		}
		return []pipeline.Entry{entry}, nil
	default:
		entry, err := normalizeImage(data)
		if err != nil {
			return nil, err
		}
		return []pipeline.Entry{entry}, nil
	}
}

// normalizeImage passes standard encodings through, keeping the original
// bytes raw (the vision service accepts them as-is) and ensuring the
// preview is JPEG. Formats the upstream service does not accept are
// re-encoded entirely.
func normalizeImage(data []byte) (pipeline.Entry, error) {
	mime := http.DetectContentType(data)
	switch mime {
	case "image/jpeg":
		return pipeline.Entry{Raw: data, Preview: data}, nil
	case "image/png", "image/webp", "image/gif":
		preview, err := reencodeJPEG(data)
		if err != nil {
			return pipeline.Entry{}, err
		}
		return pipeline.Entry{Raw: data, Preview: preview}, nil
	case "image/bmp", "image/tiff":
		jpg, err := reencodeJPEG(data)
		if err != nil {
			return pipeline.Entry{}, err
		}
		return pipeline.Entry{Raw: jpg, Preview: jpg}, nil
	default:
		return pipeline.Entry{}, fmt.Errorf("%w: %s", ErrUnsupportedInput, mime)
	}
}

func reencodeJPEG(data []byte) ([]byte, error) {
	img, err := crop.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedInput, err)
	}
	return crop.EncodeJPEG(img)
}

// transcodeHEIC converts an HEIC/HEIF camera image to JPEG for both raw
// and preview use.
func transcodeHEIC(data []byte) (pipeline.Entry, error) {
	img, err := goheif.Decode(bytes.NewReader(data))
	if err != nil {
		return pipeline.Entry{}, fmt.Errorf("failed to decode HEIC: %w", err)
	}
	jpg, err := crop.EncodeJPEG(img)
	if err != nil {
		return pipeline.Entry{}, fmt.Errorf("failed to transcode HEIC: %w", err)
	}
	return pipeline.Entry{Raw: jpg, Preview: jpg}, nil
}

// decodeDataURI unwraps browser data URIs (the clipboard paste surface
// sends them); raw bytes pass through untouched.
func decodeDataURI(data []byte) []byte {
	if !bytes.HasPrefix(data, []byte("data:")) {
		return data
	}
	comma := bytes.IndexByte(data, ',')
	if comma == -1 {
		return nil
	}
	decoded, err := base64.StdEncoding.DecodeString(string(data[comma+1:]))
	if err != nil {
		return nil
	}
	return decoded
}

func isPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF"))
}

// isHEIC sniffs the ISO BMFF ftyp box brands used by HEIC/HEIF files,
// falling back to the filename extension.
func isHEIC(name string, data []byte) bool {
	if len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")) {
		switch string(data[8:12]) {
		case "heic", "heix", "hevc", "heif", "mif1", "msf1":
			return true
		}
	}
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".heic") || strings.HasSuffix(lower, ".heif")
}
