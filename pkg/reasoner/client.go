// Package reasoner drives the model-backed discovery path: given a company
// name and an optional city hint, the model researches the company through a
// small set of place-lookup tools and returns a structured self-report. The
// caller applies its own acceptance gates; nothing here is trusted on its own.
package reasoner

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/baybio/biodex/pkg/places"
)

const (
	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 1024

	// defaultMaxRounds bounds the tool-use loop. A discovery that has not
	// converged after this many rounds is treated as a failed lookup.
	defaultMaxRounds = 8
)

const systemPrompt = `You are a research assistant verifying small biotech companies for a regional directory. Given a company name and an optional city hint, use the provided tools to find the company's official website and street address.

Rules:
- Prefer the company's own website over aggregator or directory pages.
- Cross-check that the place you find actually matches the company name, not a similarly named business.
- Report the city exactly as it appears in the address you found.
- If you cannot find the company with confidence, say so with a low confidence value rather than guessing.

When you are done, respond with ONLY valid JSON, no other text:
{"website": "", "address": "", "city": "", "confidence": 0.0, "validation": {"in_region": false, "brand_matches": false, "is_business": false, "reasoning": ""}}

confidence is your overall certainty in [0.0, 1.0] that this is the right company at the right address. validation.in_region means the address is in or near the target area named in the request. validation.brand_matches means the found place's branding matches the company name. validation.is_business means this is an operating business location, not a residence or a defunct listing.`

// DiscoverRequest identifies the company to research.
type DiscoverRequest struct {
	CompanyName string
	CityHint    string
	Region      string
}

// Validation is the model's self-reported gate assessment.
type Validation struct {
	InRegion     bool   `json:"in_region"`
	BrandMatches bool   `json:"brand_matches"`
	IsBusiness   bool   `json:"is_business"`
	Reasoning    string `json:"reasoning"`
}

// DiscoverResult is the model's structured answer. Confidence is clamped to
// [0, 1] on parse.
type DiscoverResult struct {
	Website    string     `json:"website"`
	Address    string     `json:"address"`
	City       string     `json:"city"`
	Confidence float64    `json:"confidence"`
	Validation Validation `json:"validation"`
}

// Client performs model-backed company discovery.
type Client interface {
	Discover(ctx context.Context, req DiscoverRequest) (*DiscoverResult, error)
}

// Option configures the client.
type Option func(*sdkClient)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *sdkClient) {
		c.model = model
	}
}

// WithMaxRounds overrides the tool-use round budget.
func WithMaxRounds(n int) Option {
	return func(c *sdkClient) {
		c.maxRounds = n
	}
}

// WithSDKOptions passes extra options to the underlying SDK client.
func WithSDKOptions(opts ...option.RequestOption) Option {
	return func(c *sdkClient) {
		c.sdkOpts = append(c.sdkOpts, opts...)
	}
}

type sdkClient struct {
	client    sdk.Client
	lookup    places.Client
	model     string
	maxRounds int
	sdkOpts   []option.RequestOption
}

// NewClient creates a reasoner backed by the Anthropic SDK. The places client
// is exposed to the model as tools; every lookup the model performs goes
// through the same API surface the deterministic path uses.
func NewClient(apiKey string, lookup places.Client, opts ...Option) Client {
	c := &sdkClient{
		lookup:    lookup,
		model:     defaultModel,
		maxRounds: defaultMaxRounds,
	}
	for _, o := range opts {
		o(c)
	}
	sdkOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, c.sdkOpts...)
	c.client = sdk.NewClient(sdkOpts...)
	return c
}

func tools() []sdk.ToolUnionParam {
	return []sdk.ToolUnionParam{
		{
			OfTool: &sdk.ToolParam{
				Name:        "search_places",
				Description: sdk.String("Search for a business by free-text query. Returns candidate places with name, address, website, and business status."),
				InputSchema: sdk.ToolInputSchemaParam{
					Properties: map[string]any{
						"query": map[string]any{
							"type":        "string",
							"description": "Free-text search, e.g. company name plus city",
						},
					},
					Required: []string{"query"},
				},
			},
		},
		{
			OfTool: &sdk.ToolParam{
				Name:        "place_details",
				Description: sdk.String("Fetch full details for one place by its place ID."),
				InputSchema: sdk.ToolInputSchemaParam{
					Properties: map[string]any{
						"place_id": map[string]any{
							"type":        "string",
							"description": "Place ID from a prior search_places result",
						},
					},
					Required: []string{"place_id"},
				},
			},
		},
	}
}

func (c *sdkClient) Discover(ctx context.Context, req DiscoverRequest) (*DiscoverResult, error) {
	if req.CompanyName == "" {
		return nil, eris.New("reasoner: empty company name")
	}

	log := zap.L().With(zap.String("company", req.CompanyName))

	var sb strings.Builder
	sb.WriteString("Company: " + req.CompanyName)
	if req.CityHint != "" {
		sb.WriteString("\nLikely city: " + req.CityHint)
	}
	if req.Region != "" {
		sb.WriteString("\nTarget area: " + req.Region)
	}

	messages := []sdk.MessageParam{
		sdk.NewUserMessage(sdk.NewTextBlock(sb.String())),
	}

	for round := 0; round < c.maxRounds; round++ {
		msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
			Model:     sdk.Model(c.model),
			MaxTokens: defaultMaxTokens,
			System:    []sdk.TextBlockParam{{Text: systemPrompt}},
			Messages:  messages,
			Tools:     tools(),
		})
		if err != nil {
			return nil, eris.Wrap(err, "reasoner: create message")
		}

		if string(msg.StopReason) != "tool_use" {
			return parseResult(msg)
		}

		messages = append(messages, msg.ToParam())
		results := make([]sdk.ContentBlockParamUnion, 0, 2)
		for _, block := range msg.Content {
			variant, ok := block.AsAny().(sdk.ToolUseBlock)
			if !ok {
				continue
			}

			log.Debug("reasoner: tool call",
				zap.Int("round", round),
				zap.String("tool", variant.Name),
			)

			out, toolErr := c.runTool(ctx, variant.Name, []byte(variant.JSON.Input.Raw()))
			if toolErr != nil {
				// Tool failures are fed back to the model so it can adjust;
				// transport errors abort the discovery instead.
				if isTransport(toolErr) {
					return nil, toolErr
				}
				results = append(results, sdk.NewToolResultBlock(variant.ID, toolErr.Error(), true))
				continue
			}
			results = append(results, sdk.NewToolResultBlock(variant.ID, out, false))
		}

		if len(results) == 0 {
			return nil, eris.New("reasoner: tool_use stop with no tool calls")
		}
		messages = append(messages, sdk.NewUserMessage(results...))
	}

	return nil, eris.Errorf("reasoner: no answer after %d tool rounds", c.maxRounds)
}

func (c *sdkClient) runTool(ctx context.Context, name string, input []byte) (string, error) {
	switch name {
	case "search_places":
		var args struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", eris.Wrap(err, "reasoner: parse search_places input")
		}
		candidates, err := c.lookup.TextSearch(ctx, args.Query, nil)
		if err != nil {
			return "", err
		}
		return encodeCandidates(candidates)

	case "place_details":
		var args struct {
			PlaceID string `json:"place_id"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", eris.Wrap(err, "reasoner: parse place_details input")
		}
		cand, err := c.lookup.Details(ctx, args.PlaceID)
		if err != nil {
			return "", err
		}
		return encodeCandidates([]places.Candidate{*cand})

	default:
		return "", eris.Errorf("reasoner: unknown tool %q", name)
	}
}

// candidateView is the compact shape shown to the model.
type candidateView struct {
	PlaceID string `json:"place_id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Website string `json:"website,omitempty"`
	Status  string `json:"business_status,omitempty"`
}

func encodeCandidates(candidates []places.Candidate) (string, error) {
	views := make([]candidateView, 0, len(candidates))
	for _, c := range candidates {
		views = append(views, candidateView{
			PlaceID: c.PlaceID,
			Name:    c.Name,
			Address: c.FormattedAddress,
			Website: c.Website,
			Status:  c.BusinessStatus,
		})
	}
	out, err := json.Marshal(views)
	if err != nil {
		return "", eris.Wrap(err, "reasoner: encode tool result")
	}
	return string(out), nil
}

// parseResult extracts the final JSON answer from a text response. The model
// sometimes wraps the JSON in prose, so the parse scans for the outermost
// braces rather than requiring a clean body.
func parseResult(msg *sdk.Message) (*DiscoverResult, error) {
	var text string
	for _, block := range msg.Content {
		if t, ok := block.AsAny().(sdk.TextBlock); ok {
			text = t.Text
			break
		}
	}
	if text == "" {
		return nil, eris.New("reasoner: empty response")
	}

	jsonStart := strings.Index(text, "{")
	jsonEnd := strings.LastIndex(text, "}")
	if jsonStart < 0 || jsonEnd <= jsonStart {
		return nil, eris.Errorf("reasoner: no JSON in response: %s", text)
	}

	var result DiscoverResult
	if err := json.Unmarshal([]byte(text[jsonStart:jsonEnd+1]), &result); err != nil {
		return nil, eris.Wrap(err, "reasoner: parse response JSON")
	}

	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return &result, nil
}

// isTransport reports whether a tool error came from the lookup transport
// rather than from bad tool arguments. Transport errors propagate so the
// retry layer can handle them.
func isTransport(err error) bool {
	var apiErr *places.APIError
	return eris.As(err, &apiErr) || strings.Contains(err.Error(), "places: send request")
}
