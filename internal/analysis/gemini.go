package analysis

import (
	"context"
	"fmt"
	"net/http"

	"github.com/lithammer/dedent"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const geminiModel = "gemini-2.5-flash"

// Gemini pricing (per million tokens)
const (
	geminiInputPricePerMillion  = 0.30 // text/image input
	geminiOutputPricePerMillion = 2.50 // output including thinking
)

// sourcingPrompt instructs the model to enumerate every distinct product
// and emit Simplified-Chinese sourcing metadata for each. The golden title
// ordering (style, fit/shape, material, distinguishing feature, category)
// is a prompt-level contract; the client does not re-order it.
var sourcingPrompt = dedent.Dedent(`
	You are a professional Sourcing Agent for Taobao.

	**MISSION**:
	Identify EVERY product in the image. Return a raw JSON array.

	**STRICT JSON FORMAT REQUIRED**:
	Return ONLY a valid JSON array. Do not write markdown, do not write
	code fences, do not write any intro text.

	The JSON structure for each item must be:
	{
	  "productName": "String (Simplified Chinese)",
	  "category": "String (Simplified Chinese)",
	  "subCategory": "String (Simplified Chinese)",
	  "goldenTitle": "String (search optimized title in Chinese)",
	  "marketingTags": ["Tag1", "Tag2"],
	  "detectedText": "String or null",
	  "boundingBox": [ymin, xmin, ymax, xmax],
	  "attributes": {
	    "Category": "String",
	    "Color": "String",
	    "Feature": "String",
	    "Material": "String",
	    "Shape": "String",
	    "Style": "String"
	  },
	  "shortDescription": "String"
	}

	**IMPORTANT**:
	- All text values must be in Simplified Chinese.
	- Bounding box coordinates must be normalized (0-1000).
	- If multiple items, return multiple objects in the array.
	- Build goldenTitle by concatenating, in priority order: style,
	  fit/shape, material, the most distinguishing feature, category.
	- Use "N/A" for attributes you cannot determine.
	- detectedText is for visible model numbers or printed text; use null
	  when there is none.
`)

// GeminiAnalyzer identifies products with Google's Gemini API.
type GeminiAnalyzer struct {
	client *genai.Client
}

// NewGeminiAnalyzer creates a Gemini-backed analyzer. The API key comes
// from configuration (ultimately the GEMINI_API_KEY environment variable).
func NewGeminiAnalyzer(ctx context.Context, apiKey string) (*GeminiAnalyzer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiAnalyzer{client: client}, nil
}

// Analyze implements the Analyzer interface using Gemini. One request per
// image; no retries, a failure is the caller's to surface.
func (g *GeminiAnalyzer) Analyze(ctx context.Context, imageData []byte) ([]ProductAnalysis, error) {
	if len(imageData) == 0 {
		return nil, fmt.Errorf("no image data provided")
	}

	imageData = stripDataURI(imageData)

	parts := []*genai.Part{
		genai.NewPartFromText(sourcingPrompt),
		{InlineData: &genai.Blob{Data: imageData, MIMEType: sniffImageMIME(imageData)}},
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   recordListSchema(),
	}

	result, err := g.client.Models.GenerateContent(ctx, geminiModel, contents, config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from Gemini")
	}

	records, err := parseRecords(result.Text())
	if err != nil {
		return nil, err
	}

	usage := Usage{}
	if result.UsageMetadata != nil {
		usage.InputTokens = int64(result.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int64(result.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int64(result.UsageMetadata.TotalTokenCount)
		usage.CostUSD = calculateGeminiCost(usage.InputTokens, usage.OutputTokens)
	}

	log.Info().
		Str("model", geminiModel).
		Int("products", len(records)).
		Int64("inputTokens", usage.InputTokens).
		Int64("outputTokens", usage.OutputTokens).
		Float64("costUSD", usage.CostUSD).
		Msg("vision llm call")

	return records, nil
}

// recordListSchema constrains the response to a JSON array of product
// records with the mandatory fields present.
func recordListSchema() *genai.Schema {
	attributeProps := make(map[string]*genai.Schema, len(AttributeKeys))
	for _, key := range AttributeKeys {
		attributeProps[key] = &genai.Schema{Type: genai.TypeString}
	}

	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"productName":   {Type: genai.TypeString},
				"category":      {Type: genai.TypeString},
				"subCategory":   {Type: genai.TypeString},
				"goldenTitle":   {Type: genai.TypeString},
				"marketingTags": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
				"detectedText":  {Type: genai.TypeString},
				"boundingBox": {
					Type:  genai.TypeArray,
					Items: &genai.Schema{Type: genai.TypeNumber},
				},
				"attributes": {
					Type:       genai.TypeObject,
					Properties: attributeProps,
				},
				"shortDescription": {Type: genai.TypeString},
			},
			Required: []string{
				"productName", "category", "subCategory", "goldenTitle",
				"attributes", "shortDescription", "boundingBox",
			},
		},
	}
}

func calculateGeminiCost(inputTokens, outputTokens int64) float64 {
	inputCost := float64(inputTokens) / 1_000_000 * geminiInputPricePerMillion
	outputCost := float64(outputTokens) / 1_000_000 * geminiOutputPricePerMillion
	return inputCost + outputCost
}

// sniffImageMIME declares the payload's MIME type for the upstream API.
func sniffImageMIME(data []byte) string {
	mime := http.DetectContentType(data)
	if mime == "application/octet-stream" {
		// Upstream rejects unknown types; JPEG is what ingestion
		// normalizes exotic formats to.
		return "image/jpeg"
	}
	return mime
}
