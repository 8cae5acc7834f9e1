package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// fetchTimeout bounds one remote image download.
	fetchTimeout = 30 * time.Second
	// maxFetchSize caps a remote download at 10MB.
	maxFetchSize = 10 * 1024 * 1024
)

// Fetcher downloads remote images for ingestion.
type Fetcher struct {
	client *resty.Client
}

// NewFetcher creates a fetcher with sane timeouts. Responses stay
// unbuffered so the size cap applies while reading, not after.
func NewFetcher() *Fetcher {
	return &Fetcher{
		client: resty.New().
			SetTimeout(fetchTimeout).
			SetDoNotParseResponse(true).
			SetHeader("Accept", "image/*"),
	}
}

// Fetch downloads the image at imageURL. Non-image responses are
// rejected on the header alone, and reading stops at the size cap so
// an oversized response never gets buffered whole.
func (f *Fetcher) Fetch(ctx context.Context, imageURL string) ([]byte, error) {
	if !strings.HasPrefix(imageURL, "http://") && !strings.HasPrefix(imageURL, "https://") {
		return nil, fmt.Errorf("%w: url must be http(s)", ErrUnsupportedInput)
	}

	resp, err := f.client.R().
		SetContext(ctx).
		Get(imageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.RawBody().Close()

	if resp.IsError() {
		return nil, fmt.Errorf("failed to fetch image: status %d", resp.StatusCode())
	}

	contentType := resp.Header().Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") && !strings.HasPrefix(contentType, "application/pdf") {
		return nil, fmt.Errorf("%w: content type %s", ErrUnsupportedInput, contentType)
	}

	if cl := resp.RawResponse.ContentLength; cl > maxFetchSize {
		return nil, fmt.Errorf("image too large: %d bytes (limit %d)", cl, maxFetchSize)
	}

	body, err := io.ReadAll(io.LimitReader(resp.RawBody(), maxFetchSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(body) > maxFetchSize {
		return nil, fmt.Errorf("image too large: response exceeds %d bytes", maxFetchSize)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrUnsupportedInput)
	}

	return body, nil
}
