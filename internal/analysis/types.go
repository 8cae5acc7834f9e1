// Package analysis talks to a vision model and turns one product photo
// into structured Chinese-market sourcing records.
package analysis

import (
	"context"
	"fmt"

	"github.com/AdamLam-AI/TaobaoLens/internal/crop"
)

// AttributeKeys is the fixed attribute vocabulary the model is asked to
// fill. Display and export order follows this slice.
var AttributeKeys = []string{"Category", "Color", "Feature", "Material", "Shape", "Style"}

// maxDisplayTags caps marketing tags shown per product.
const maxDisplayTags = 3

// ProductAnalysis is one detected product as returned by the model.
type ProductAnalysis struct {
	ProductName      string            `json:"productName"`
	Category         string            `json:"category"`
	SubCategory      string            `json:"subCategory"`
	GoldenTitle      string            `json:"goldenTitle"`
	MarketingTags    []string          `json:"marketingTags,omitempty"`
	DetectedText     string            `json:"detectedText,omitempty"`
	BoundingBox      *crop.Box         `json:"boundingBox,omitempty"`
	Attributes       map[string]string `json:"attributes"`
	ShortDescription string            `json:"shortDescription"`
}

// Attribute returns the display value for one of the fixed attribute keys.
// Absent keys and the model's "N/A" placeholder both come back empty.
func (p *ProductAnalysis) Attribute(key string) string {
	v := p.Attributes[key]
	if v == "N/A" {
		return ""
	}
	return v
}

// DisplayTags returns the marketing tags truncated for display.
func (p *ProductAnalysis) DisplayTags() []string {
	if len(p.MarketingTags) <= maxDisplayTags {
		return p.MarketingTags
	}
	return p.MarketingTags[:maxDisplayTags]
}

// validate enforces the mandatory response fields. A record that passes
// either has no bounding box or a usable one.
func (p *ProductAnalysis) validate() error {
	switch {
	case p.ProductName == "":
		return fmt.Errorf("missing productName")
	case p.Category == "":
		return fmt.Errorf("missing category")
	case p.SubCategory == "":
		return fmt.Errorf("missing subCategory")
	case p.GoldenTitle == "":
		return fmt.Errorf("missing goldenTitle")
	case p.Attributes == nil:
		return fmt.Errorf("missing attributes")
	case p.ShortDescription == "":
		return fmt.Errorf("missing shortDescription")
	}
	if p.BoundingBox != nil && !p.BoundingBox.Valid() {
		return fmt.Errorf("bounding box %v outside [0,%d]", *p.BoundingBox, crop.BoxScale)
	}
	return nil
}

// Analyzer identifies every product in one image. An empty slice means the
// model saw no products; callers decide how to surface that.
type Analyzer interface {
	Analyze(ctx context.Context, imageData []byte) ([]ProductAnalysis, error)
}

// Usage tracks token consumption for a single model call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	CostUSD      float64
}
