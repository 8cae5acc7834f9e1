// Package pipeline owns the item collection: one item per uploaded image,
// expanded into one item per detected product after analysis. All mutations
// of the collection go through the Pipeline so concurrent submissions and
// resets can never corrupt each other's view.
package pipeline

import "github.com/AdamLam-AI/TaobaoLens/internal/analysis"

// Status is the per-item analysis status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnalyzing Status = "analyzing"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
)

// Terminal reports whether no further automatic transition occurs.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// State is the derived collection-level state.
type State string

const (
	StateIdle       State = "idle"       // empty collection
	StateProcessing State = "processing" // at least one item not yet terminal
	StateFinished   State = "finished"   // all items terminal
)

// Entry is one normalized input yielded by ingestion: the original encoded
// bytes plus a renderable JPEG preview.
type Entry struct {
	Raw     []byte
	Preview []byte
}

// item is the internal unit of work. Fields stay unexported so a result
// can only ever be attached inside this package, where fan-out builds
// success items and fail clears the result with the error detail.
type item struct {
	id          string
	raw         []byte
	preview     []byte
	status      Status
	result      *analysis.ProductAnalysis
	errorDetail string
}

func (it *item) markAnalyzing() {
	it.status = StatusAnalyzing
}

func (it *item) fail(detail string) {
	it.status = StatusError
	it.result = nil
	it.errorDetail = detail
}

// view snapshots the item for consumers. The result pointer is shared but
// treated as immutable once attached.
func (it *item) view() ItemView {
	return ItemView{
		ID:          it.id,
		Status:      it.status,
		Preview:     it.preview,
		Result:      it.result,
		ErrorDetail: it.errorDetail,
	}
}

// ItemView is an immutable snapshot of one item, safe to hand to the HTTP
// layer and the export sink. Preview marshals as base64 in JSON.
type ItemView struct {
	ID          string                    `json:"id"`
	Status      Status                    `json:"status"`
	Preview     []byte                    `json:"preview,omitempty"`
	Result      *analysis.ProductAnalysis `json:"result,omitempty"`
	ErrorDetail string                    `json:"error,omitempty"`
}
