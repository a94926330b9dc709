package structure

import (
	"context"

	"github.com/Kurai777/Alda-oficial-sub004/internal/catalog"
	"github.com/Kurai777/Alda-oficial-sub004/internal/llm"
)

const systemPrompt = `You analyse the layout of furniture price-list spreadsheets from Brazilian manufacturers.
You receive a table whose first column "row" is the absolute zero-based row index and whose
other columns c0..cN are the sheet's columns. Respond ONLY with the requested JSON.

- headerRowIndex: the row holding column titles, or null if there is none.
- dataStartRowIndex: the first row holding a product, or null.
- columnRoles: one entry per meaningful column. role is one of code, model, description,
  dimensions, category, price. Every column holding a price for a fabric/finish class is a
  separate "price" entry; header is its class name (e.g. "CLASSE 01").
- classDefinitions: entries of any legend that explains price classes (colour, fabric,
  material). Leave empty when there is no legend.
- error: null unless the table cannot be understood at all.`

var analysisSchema = llm.Schema{
	Name: "catalog_structure",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"headerRowIndex":    map[string]any{"type": []string{"integer", "null"}},
			"dataStartRowIndex": map[string]any{"type": []string{"integer", "null"}},
			"columnRoles": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"index":  map[string]any{"type": "integer"},
						"role":   map[string]any{"type": "string", "enum": []string{"code", "model", "description", "dimensions", "category", "price"}},
						"header": map[string]any{"type": "string"},
					},
					"required":             []string{"index", "role", "header"},
					"additionalProperties": false,
				},
			},
			"classDefinitions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"className": map[string]any{"type": "string"},
						"attributes": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"key":   map[string]any{"type": "string"},
									"value": map[string]any{"type": "string"},
								},
								"required":             []string{"key", "value"},
								"additionalProperties": false,
							},
						},
					},
					"required":             []string{"className", "attributes"},
					"additionalProperties": false,
				},
			},
			"error": map[string]any{"type": []string{"string", "null"}},
		},
		"required":             []string{"headerRowIndex", "dataStartRowIndex", "columnRoles", "classDefinitions", "error"},
		"additionalProperties": false,
	},
}

// wireResponse is the strict-schema shape; attribute maps travel as pairs
// because strict schemas cannot express open objects.
type wireResponse struct {
	HeaderRowIndex    *int         `json:"headerRowIndex"`
	DataStartRowIndex *int         `json:"dataStartRowIndex"`
	ColumnRoles       []ColumnRole `json:"columnRoles"`
	ClassDefinitions  []struct {
		ClassName  string `json:"className"`
		Attributes []struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		} `json:"attributes"`
	} `json:"classDefinitions"`
	Error *string `json:"error"`
}

// LLMService implements Service over a chat-completions client.
type LLMService struct {
	client *llm.Client
}

func NewLLMService(c *llm.Client) *LLMService {
	return &LLMService{client: c}
}

func (s *LLMService) Analyze(ctx context.Context, req Request) (Response, error) {
	user := "Sheet sample:\n\n" + req.SampleText
	if req.LegendSampleText != "" {
		user += "\n\nPossible legend area:\n\n" + req.LegendSampleText
	}

	var w wireResponse
	if err := s.client.CompleteJSON(ctx, systemPrompt, user, analysisSchema, &w); err != nil {
		return Response{}, err
	}

	resp := Response{
		HeaderRowIndex:    w.HeaderRowIndex,
		DataStartRowIndex: w.DataStartRowIndex,
		ColumnRoles:       w.ColumnRoles,
	}
	if w.Error != nil {
		resp.Error = *w.Error
	}
	for _, cd := range w.ClassDefinitions {
		def := catalog.ClassDefinition{ClassName: cd.ClassName, Attributes: map[string]string{}}
		for _, kv := range cd.Attributes {
			if kv.Key != "" {
				def.Attributes[kv.Key] = kv.Value
			}
		}
		resp.ClassDefinitions = append(resp.ClassDefinitions, def)
	}
	return resp, nil
}
