package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// GeminiProvider implements the Provider interface for Google's Gemini API
// via the google.golang.org/genai SDK.
type GeminiProvider struct {
	name        string
	client      *genai.Client
	model       string
	temperature float64
}

// geminiModelContextTokens gives known context windows for Gemini models.
var geminiModelContextTokens = map[string]int{
	"gemini-2.0-flash":      1000000,
	"gemini-2.0-flash-lite": 1000000,
	"gemini-1.5-pro":        2000000,
	"gemini-1.5-flash":      1000000,
	"gemini-1.5-flash-8b":   1000000,
}

const geminiDefaultContextTokens = 1000000

// NewGemini creates a new Gemini provider using the Gemini Developer API
// backend.
func NewGemini(ctx context.Context, name, apiKey, model string, temperature float64) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiProvider{
		name:        name,
		client:      client,
		model:       model,
		temperature: temperature,
	}, nil
}

func (p *GeminiProvider) Name() string {
	return p.name
}

// ContextLimitTokens returns the configured model's known context window.
func (p *GeminiProvider) ContextLimitTokens() int {
	if tokens, ok := geminiModelContextTokens[p.model]; ok {
		return tokens
	}
	return geminiDefaultContextTokens
}

func (p *GeminiProvider) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	system, rest := splitSystem(messages)
	contents := toGeminiContents(rest)
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(p.temperature)),
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if len(tools) > 0 {
		config.Tools = toGeminiTools(tools)
	}

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		p.streamInto(ctx, ch, contents, config)
	}()

	return ch, nil
}

func (p *GeminiProvider) streamInto(ctx context.Context, ch chan<- StreamEvent, contents []*genai.Content, config *genai.GenerateContentConfig) {
	toolCallIdx := 0
	var usage StreamEvent
	haveUsage := false

	for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, config) {
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			trySend(ctx, ch, StreamEvent{Type: EventError, Err: err})
			return
		}
		if resp == nil {
			continue
		}

		if resp.UsageMetadata != nil {
			usage = StreamEvent{
				Type:         EventUsage,
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			}
			haveUsage = true
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					if !trySend(ctx, ch, StreamEvent{Type: EventContentDelta, Content: part.Text}) {
						return
					}
				}
				if part.FunctionCall != nil {
					argsJSON, marshalErr := json.Marshal(part.FunctionCall.Args)
					if marshalErr != nil {
						argsJSON = []byte("{}")
					}
					id := fmt.Sprintf("%s_%s_%s", p.name, part.FunctionCall.Name, uuid.NewString())
					if !trySend(ctx, ch, StreamEvent{
						Type:          EventToolCallBegin,
						ToolCallIndex: toolCallIdx,
						ToolCallID:    id,
						ToolCallName:  part.FunctionCall.Name,
					}) {
						return
					}
					if !trySend(ctx, ch, StreamEvent{
						Type:          EventToolCallDelta,
						ToolCallIndex: toolCallIdx,
						ToolCallArgs:  string(argsJSON),
					}) {
						return
					}
					toolCallIdx++
				}
			}
		}
	}

	if haveUsage {
		trySend(ctx, ch, usage)
	}
	trySend(ctx, ch, StreamEvent{Type: EventDone})
}

// toGeminiContents converts provider-agnostic messages to Gemini Content,
// mapping tool-result messages to FunctionResponse parts (Gemini has no
// "tool" role; results travel back as user-side function responses).
func toGeminiContents(messages []Message) []*genai.Content {
	var result []*genai.Content
	for _, m := range messages {
		content := &genai.Content{}
		switch m.Role {
		case "assistant":
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if m.Content != "" && m.Role != "tool" {
			content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
		}

		for _, tc := range m.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Arguments, &args); err != nil {
				args = map[string]any{}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
			})
		}

		if m.Role == "tool" {
			var response map[string]any
			if err := json.Unmarshal([]byte(m.Content), &response); err != nil {
				response = map[string]any{"result": m.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{Name: m.FunctionName, Response: response},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result
}

func toGeminiTools(tools []Tool) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var schemaMap map[string]any
		if len(t.Parameters) > 0 {
			_ = json.Unmarshal(t.Parameters, &schemaMap)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGeminiSchema(schemaMap),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// toGeminiSchema converts a JSON Schema map (as produced by a tool's
// Parameters field) into Gemini's Schema representation.
func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}
	return schema
}

func (p *GeminiProvider) ListModels(ctx context.Context) ([]Model, error) {
	names := make([]string, 0, len(geminiModelContextTokens))
	for name := range geminiModelContextTokens {
		names = append(names, name)
	}
	models := make([]Model, len(names))
	for i, n := range names {
		models[i] = Model{Name: n, Family: "gemini"}
	}
	return models, nil
}

func (p *GeminiProvider) Close() error {
	return nil
}
