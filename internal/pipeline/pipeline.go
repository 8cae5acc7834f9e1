package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/AdamLam-AI/TaobaoLens/internal/analysis"
	"github.com/AdamLam-AI/TaobaoLens/internal/crop"
)

// Error details surfaced on failed items.
const (
	errDetailAnalysisFailed = "separation failed"
	errDetailNoProducts     = "no products detected"
)

// Pipeline drives items through pending -> analyzing -> success/error and
// fans one analyzed item out into per-product siblings.
//
// Concurrency model: a single mutex guards the collection; every
// transition re-reads the latest collection state at commit time (lookup
// by item id under the lock), so overlapping batches interleave without
// lost updates. A generation counter is bumped on Reset; completions
// carrying a stale generation are silently dropped, which keeps results
// arriving after a reset from reviving a discarded collection.
type Pipeline struct {
	analyzer analysis.Analyzer

	mu         sync.Mutex
	items      []*item
	generation uint64
}

// New creates a pipeline using the given analyzer.
func New(analyzer analysis.Analyzer) *Pipeline {
	return &Pipeline{analyzer: analyzer}
}

// Enqueue materializes one pending item per entry, appended in input
// order, and returns their ids. Analysis does not start until Process is
// called with the returned ids.
func (p *Pipeline) Enqueue(entries []Entry) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		it := &item{
			id:      uuid.NewString(),
			raw:     e.Raw,
			preview: e.Preview,
			status:  StatusPending,
		}
		p.items = append(p.items, it)
		ids = append(ids, it.id)
	}
	return ids
}

// Process drives the given items through analysis, strictly one at a time
// in the order given. Sequential execution bounds concurrent load on the
// upstream API and keeps progress reporting monotonic. A failure is local
// to its item; the rest of the batch continues.
func (p *Pipeline) Process(ctx context.Context, ids []string) {
	gen := p.currentGeneration()
	for _, id := range ids {
		p.processItem(ctx, gen, id)
	}
}

// SubmitBatch is Enqueue followed by Process: it blocks until every
// submitted item reaches a terminal state.
func (p *Pipeline) SubmitBatch(ctx context.Context, entries []Entry) []string {
	ids := p.Enqueue(entries)
	p.Process(ctx, ids)
	return ids
}

func (p *Pipeline) currentGeneration() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// processItem runs one item to a terminal state. The raw bytes are copied
// out under the lock; the analysis call itself runs unlocked so unrelated
// reads and submissions are never blocked on the network.
func (p *Pipeline) processItem(ctx context.Context, gen uint64, id string) {
	raw, parentPreview, ok := p.beginAnalysis(gen, id)
	if !ok {
		return
	}

	records, err := p.analyzer.Analyze(ctx, raw)
	switch {
	case err != nil:
		log.Error().Err(err).Str("itemID", id).Msg("analysis failed")
		p.commitFailure(gen, id, errDetailAnalysisFailed)
	case len(records) == 0:
		// The upstream call succeeded but found nothing; from the
		// user's point of view that is a failure.
		log.Warn().Str("itemID", id).Msg("analysis returned no products")
		p.commitFailure(gen, id, errDetailNoProducts)
	default:
		replacements := buildFanOut(id, raw, parentPreview, records)
		p.commitFanOut(gen, id, replacements)
	}
}

// beginAnalysis transitions the item to analyzing and returns its image
// data. Returns ok=false when the item vanished (reset) or is not pending.
func (p *Pipeline) beginAnalysis(gen uint64, id string) (raw, preview []byte, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.generation != gen {
		return nil, nil, false
	}
	it := p.find(id)
	if it == nil || it.status != StatusPending {
		return nil, nil, false
	}
	it.markAnalyzing()
	return it.raw, it.preview, true
}

// buildFanOut materializes one success item per record. The first record
// keeps the parent's identity; every subsequent record becomes a new
// sibling. Records with a bounding box get a cropped preview; the rest
// reuse the parent's preview.
func buildFanOut(parentID string, raw, parentPreview []byte, records []analysis.ProductAnalysis) []*item {
	out := make([]*item, 0, len(records))
	for i := range records {
		rec := records[i]

		preview := parentPreview
		if rec.BoundingBox != nil {
			preview = crop.Crop(raw, *rec.BoundingBox)
		}

		id := parentID
		if i > 0 {
			id = uuid.NewString()
		}

		out = append(out, &item{
			id:      id,
			raw:     raw,
			preview: preview,
			status:  StatusSuccess,
			result:  &rec,
		})
	}
	return out
}

// commitFanOut splices the replacement items into the position the parent
// occupies in the collection's latest state. Dropped silently when the
// collection was reset or the parent id no longer exists.
func (p *Pipeline) commitFanOut(gen uint64, parentID string, replacements []*item) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.generation != gen {
		log.Info().Str("itemID", parentID).Msg("collection reset during analysis, discarding result")
		return
	}
	idx := p.indexOf(parentID)
	if idx == -1 {
		log.Info().Str("itemID", parentID).Msg("item gone during analysis, discarding result")
		return
	}

	next := make([]*item, 0, len(p.items)-1+len(replacements))
	next = append(next, p.items[:idx]...)
	next = append(next, replacements...)
	next = append(next, p.items[idx+1:]...)
	p.items = next

	log.Info().
		Str("itemID", parentID).
		Int("products", len(replacements)).
		Msg("item analyzed")
}

func (p *Pipeline) commitFailure(gen uint64, id, detail string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.generation != gen {
		return
	}
	it := p.find(id)
	if it == nil {
		return
	}
	it.fail(detail)
}

// find returns the item with the given id, or nil. Caller holds the lock.
func (p *Pipeline) find(id string) *item {
	if idx := p.indexOf(id); idx != -1 {
		return p.items[idx]
	}
	return nil
}

func (p *Pipeline) indexOf(id string) int {
	for i, it := range p.items {
		if it.id == id {
			return i
		}
	}
	return -1
}

// Items returns a consistent snapshot of the collection in display order.
func (p *Pipeline) Items() []ItemView {
	p.mu.Lock()
	defer p.mu.Unlock()

	views := make([]ItemView, 0, len(p.items))
	for _, it := range p.items {
		views = append(views, it.view())
	}
	return views
}

// State derives the collection-level state from the item statuses.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.items) == 0 {
		return StateIdle
	}
	for _, it := range p.items {
		if !it.status.Terminal() {
			return StateProcessing
		}
	}
	return StateFinished
}

// Progress returns the success count and total item count.
func (p *Pipeline) Progress() (success, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, it := range p.items {
		if it.status == StatusSuccess {
			success++
		}
	}
	return success, len(p.items)
}

// Reset discards every item and returns the collection to idle. In-flight
// analysis calls are not aborted; their completions are dropped when they
// try to commit against the new generation.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.items = nil
	p.generation++
	log.Info().Uint64("generation", p.generation).Msg("collection reset")
}
