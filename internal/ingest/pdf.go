package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/AdamLam-AI/TaobaoLens/internal/crop"
	"github.com/AdamLam-AI/TaobaoLens/internal/pipeline"
)

// pdfDecodeConcurrency bounds parallel decode/re-encode work per document.
const pdfDecodeConcurrency = 4

// extractPDF turns a multi-page PDF into one entry per embedded product
// photo. Pages carrying no embedded images are rasterized whole as an
// explicit fallback, so a vector-only catalog page still yields something
// to analyze.
func (g *Ingestor) extractPDF(ctx context.Context, data []byte) ([]pipeline.Entry, error) {
	conf := model.NewDefaultConfiguration()

	pageCount, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}

	// First pass, in page order: pull raw embedded image bytes out of
	// each page, remembering which pages need the raster fallback.
	raw := make([][][]byte, pageCount)
	var fallbackPages []int
	for page := 1; page <= pageCount; page++ {
		images := extractPageImages(data, page, conf)
		if len(images) == 0 {
			fallbackPages = append(fallbackPages, page)
			continue
		}
		raw[page-1] = images
	}

	if len(fallbackPages) > 0 {
		if err := rasterizePages(data, fallbackPages, raw); err != nil {
			log.Warn().Err(err).Ints("pages", fallbackPages).Msg("page rasterization fallback failed")
		}
	}

	// Second pass: normalize every extracted image concurrently while
	// preserving page/object order in the result.
	entries := make([][]pipeline.Entry, pageCount)
	eg, _ := errgroup.WithContext(ctx)
	eg.SetLimit(pdfDecodeConcurrency)
	for i := range raw {
		eg.Go(func() error {
			for _, imgData := range raw[i] {
				entry, err := normalizeImage(imgData)
				if err != nil {
					log.Warn().Err(err).Int("page", i+1).Msg("skipping undecodable PDF image")
					continue
				}
				entries[i] = append(entries[i], entry)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var out []pipeline.Entry
	for _, pageEntries := range entries {
		out = append(out, pageEntries...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no images in PDF", ErrUnsupportedInput)
	}
	return out, nil
}

// extractPageImages returns the embedded images of one page, ordered by
// object number for determinism. Extraction errors degrade to an empty
// result so the raster fallback can take over.
func extractPageImages(data []byte, page int, conf *model.Configuration) [][]byte {
	pageImages, err := api.ExtractImagesRaw(bytes.NewReader(data), []string{strconv.Itoa(page)}, conf)
	if err != nil {
		log.Warn().Err(err).Int("page", page).Msg("embedded image extraction failed")
		return nil
	}

	var out [][]byte
	for _, byObj := range pageImages {
		objNrs := make([]int, 0, len(byObj))
		for objNr := range byObj {
			objNrs = append(objNrs, objNr)
		}
		sort.Ints(objNrs)
		for _, objNr := range objNrs {
			img := byObj[objNr]
			b, err := io.ReadAll(img)
			if err != nil {
				log.Warn().Err(err).Int("page", page).Int("obj", objNr).Msg("failed to read embedded image")
				continue
			}
			out = append(out, b)
		}
	}
	return out
}

// rasterizePages renders whole pages to JPEG for pages without embedded
// images, writing results into raw at the page's slot.
func rasterizePages(data []byte, pages []int, raw [][][]byte) error {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return fmt.Errorf("failed to open PDF for rasterization: %w", err)
	}
	defer doc.Close()

	for _, page := range pages {
		img, err := doc.Image(page - 1)
		if err != nil {
			log.Warn().Err(err).Int("page", page).Msg("failed to rasterize page")
			continue
		}
		jpg, err := crop.EncodeJPEG(img)
		if err != nil {
			log.Warn().Err(err).Int("page", page).Msg("failed to encode rasterized page")
			continue
		}
		raw[page-1] = [][]byte{jpg}
	}
	return nil
}
