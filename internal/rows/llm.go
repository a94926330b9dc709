package rows

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Kurai777/Alda-oficial-sub004/internal/llm"
)

const rowSystemPrompt = `You extract one product variant from one row of a Brazilian furniture price list.
You receive the row's mapped cells as JSON plus lastModelBase, the product family of the
previous product row. Respond ONLY with the requested JSON.

- isProduct: false for titles, section headings, notes, legends and totals.
- modelBase: the product family (e.g. "BORA"). When the row has no model of its own and
  reads as a variant of the previous product, use lastModelBase.
- name: a short human-readable product name, modelBase plus the variant qualifier.
- variationDescription: what distinguishes this variant (size, seat, finish), or "".
- dimensions: free-text dimensions, or "".
- priceVariations: one entry per price cell that holds a price, className taken from the
  cell's header, price copied verbatim from the cell.`

var rowSchema = llm.Schema{
	Name: "catalog_row",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"isProduct":            map[string]any{"type": "boolean"},
			"name":                 map[string]any{"type": "string"},
			"modelBase":            map[string]any{"type": "string"},
			"variationDescription": map[string]any{"type": "string"},
			"dimensions":           map[string]any{"type": "string"},
			"priceVariations": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"className": map[string]any{"type": "string"},
						"price":     map[string]any{"type": "string"},
					},
					"required":             []string{"className", "price"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"isProduct", "name", "modelBase", "variationDescription", "dimensions", "priceVariations"},
		"additionalProperties": false,
	},
}

type wireRow struct {
	IsProduct *bool `json:"isProduct"`
	Extraction
}

// LLMService implements Service over a chat-completions client.
type LLMService struct {
	client *llm.Client
}

func NewLLMService(c *llm.Client) *LLMService {
	return &LLMService{client: c}
}

func (s *LLMService) ExtractRow(ctx context.Context, rc Context) (*Extraction, error) {
	payload, err := json.Marshal(rc)
	if err != nil {
		return nil, fmt.Errorf("marshal row: %w", err)
	}

	var w wireRow
	err = s.client.CompleteJSON(ctx, rowSystemPrompt, string(payload), rowSchema, &w)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case llm.IsUnavailable(err):
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if w.IsProduct == nil {
		return nil, fmt.Errorf("%w: missing isProduct", ErrMalformedResponse)
	}
	if !*w.IsProduct {
		return nil, nil
	}
	ext := w.Extraction
	return &ext, nil
}
