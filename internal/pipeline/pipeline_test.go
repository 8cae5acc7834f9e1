package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdamLam-AI/TaobaoLens/internal/analysis"
	"github.com/AdamLam-AI/TaobaoLens/internal/crop"
)

// fakeAnalyzer returns canned responses keyed by image content.
type fakeAnalyzer struct {
	mu        sync.Mutex
	responses map[string][]analysis.ProductAnalysis
	errs      map[string]error
	calls     int

	// When set, Analyze blocks until the channel is closed.
	gate chan struct{}
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, imageData []byte) ([]analysis.ProductAnalysis, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[string(imageData)]; err != nil {
		return nil, err
	}
	return f.responses[string(imageData)], nil
}

func record(name string, box *crop.Box) analysis.ProductAnalysis {
	return analysis.ProductAnalysis{
		ProductName:      name,
		Category:         "家居",
		SubCategory:      "杯具",
		GoldenTitle:      "北欧简约" + name,
		Attributes:       map[string]string{"Color": "白色"},
		ShortDescription: name,
		BoundingBox:      box,
	}
}

func entry(content string) Entry {
	return Entry{Raw: []byte(content), Preview: []byte("preview-" + content)}
}

func TestSubmitBatchSingleProduct(t *testing.T) {
	fake := &fakeAnalyzer{responses: map[string][]analysis.ProductAnalysis{
		"img": {record("杯子", nil)},
	}}
	p := New(fake)

	ids := p.SubmitBatch(context.Background(), []Entry{entry("img")})
	require.Len(t, ids, 1)

	items := p.Items()
	require.Len(t, items, 1)
	assert.Equal(t, ids[0], items[0].ID)
	assert.Equal(t, StatusSuccess, items[0].Status)
	require.NotNil(t, items[0].Result)
	assert.Equal(t, "杯子", items[0].Result.ProductName)
	assert.Equal(t, StateFinished, p.State())
}

func TestSubmitBatchEmptyResultIsError(t *testing.T) {
	fake := &fakeAnalyzer{responses: map[string][]analysis.ProductAnalysis{}}
	p := New(fake)

	ids := p.SubmitBatch(context.Background(), []Entry{entry("img")})

	items := p.Items()
	require.Len(t, items, 1)
	assert.Equal(t, ids[0], items[0].ID)
	assert.Equal(t, StatusError, items[0].Status)
	assert.NotEmpty(t, items[0].ErrorDetail)
	assert.Nil(t, items[0].Result)
	assert.Equal(t, StateFinished, p.State())
}

func TestSubmitBatchAnalyzerErrorIsLocalToItem(t *testing.T) {
	fake := &fakeAnalyzer{
		responses: map[string][]analysis.ProductAnalysis{
			"good": {record("杯子", nil)},
		},
		errs: map[string]error{"bad": errors.New("upstream 500")},
	}
	p := New(fake)

	p.SubmitBatch(context.Background(), []Entry{entry("bad"), entry("good")})

	items := p.Items()
	require.Len(t, items, 2)
	assert.Equal(t, StatusError, items[0].Status)
	assert.Equal(t, StatusSuccess, items[1].Status)
}

func TestFanOutDeterminism(t *testing.T) {
	box := crop.Box{0, 0, 500, 500}
	fake := &fakeAnalyzer{responses: map[string][]analysis.ProductAnalysis{
		"multi": {
			record("杯子", &box),
			record("盘子", &box),
			record("勺子", nil),
		},
	}}
	p := New(fake)

	// Surrounding items to verify relative ordering is preserved.
	before := p.Enqueue([]Entry{entry("before")})
	ids := p.Enqueue([]Entry{entry("multi")})
	after := p.Enqueue([]Entry{entry("after")})

	p.Process(context.Background(), ids)

	items := p.Items()
	require.Len(t, items, 5)

	// Prior neighbors unchanged, siblings spliced contiguously in
	// response order at the parent's position.
	assert.Equal(t, before[0], items[0].ID)
	assert.Equal(t, ids[0], items[1].ID, "first record keeps the parent id")
	assert.Equal(t, "杯子", items[1].Result.ProductName)
	assert.Equal(t, "盘子", items[2].Result.ProductName)
	assert.Equal(t, "勺子", items[3].Result.ProductName)
	assert.Equal(t, after[0], items[4].ID)

	// Fresh distinct ids for siblings.
	seen := map[string]bool{}
	for _, it := range items {
		assert.False(t, seen[it.ID], "duplicate id %s", it.ID)
		seen[it.ID] = true
	}

	// The no-bounding-box record reuses the parent's preview.
	assert.Equal(t, []byte("preview-multi"), items[3].Preview)
}

func TestFanOutGrowsCollectionFromOneToThree(t *testing.T) {
	fake := &fakeAnalyzer{responses: map[string][]analysis.ProductAnalysis{
		"img": {record("a", nil), record("b", nil), record("c", nil)},
	}}
	p := New(fake)

	p.SubmitBatch(context.Background(), []Entry{entry("img")})

	success, total := p.Progress()
	assert.Equal(t, 3, success)
	assert.Equal(t, 3, total)
	assert.Equal(t, StateFinished, p.State())
}

func TestStateDerivation(t *testing.T) {
	fake := &fakeAnalyzer{responses: map[string][]analysis.ProductAnalysis{
		"img": {record("杯子", nil)},
	}}
	p := New(fake)
	assert.Equal(t, StateIdle, p.State())

	ids := p.Enqueue([]Entry{entry("img")})
	assert.Equal(t, StateProcessing, p.State())

	p.Process(context.Background(), ids)
	assert.Equal(t, StateFinished, p.State())
}

func TestResetReturnsToIdle(t *testing.T) {
	fake := &fakeAnalyzer{responses: map[string][]analysis.ProductAnalysis{
		"img": {record("杯子", nil)},
	}}
	p := New(fake)
	p.SubmitBatch(context.Background(), []Entry{entry("img"), entry("img")})

	p.Reset()

	assert.Empty(t, p.Items())
	assert.Equal(t, StateIdle, p.State())

	// Reset is idempotent.
	p.Reset()
	assert.Equal(t, StateIdle, p.State())
}

func TestStaleCompletionAfterResetIsDropped(t *testing.T) {
	fake := &fakeAnalyzer{
		responses: map[string][]analysis.ProductAnalysis{
			"img": {record("杯子", nil)},
		},
		gate: make(chan struct{}),
	}
	p := New(fake)

	ids := p.Enqueue([]Entry{entry("img")})
	done := make(chan struct{})
	go func() {
		p.Process(context.Background(), ids)
		close(done)
	}()

	// Wait until the item is in-flight, then reset while the analyzer
	// still holds the call.
	require.Eventually(t, func() bool {
		items := p.Items()
		return len(items) == 1 && items[0].Status == StatusAnalyzing
	}, time.Second, time.Millisecond)

	p.Reset()
	close(fake.gate)
	<-done

	// The late completion must not revive the reset collection.
	assert.Empty(t, p.Items())
	assert.Equal(t, StateIdle, p.State())
}

func TestConcurrentBatchesInterleaveSafely(t *testing.T) {
	fake := &fakeAnalyzer{responses: map[string][]analysis.ProductAnalysis{
		"a": {record("a", nil)},
		"b": {record("b1", nil), record("b2", nil)},
	}}
	p := New(fake)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.SubmitBatch(context.Background(), []Entry{entry("a"), entry("b")})
		}()
	}
	wg.Wait()

	// 5 batches x (1 + 2 fan-out) items, all terminal.
	success, total := p.Progress()
	assert.Equal(t, 15, success)
	assert.Equal(t, 15, total)
	assert.Equal(t, StateFinished, p.State())
}

func TestCroppedPreviewForBoundedRecord(t *testing.T) {
	box := crop.Box{0, 0, 500, 500}
	fake := &fakeAnalyzer{responses: map[string][]analysis.ProductAnalysis{
		"img": {record("杯子", &box)},
	}}
	p := New(fake)

	p.SubmitBatch(context.Background(), []Entry{entry("img")})

	items := p.Items()
	require.Len(t, items, 1)
	// Raw bytes here are not a decodable image, so the crop engine falls
	// back to the full source. Either way the preview is non-empty and
	// the pipeline did not error.
	assert.Equal(t, StatusSuccess, items[0].Status)
	assert.NotEmpty(t, items[0].Preview)
}
