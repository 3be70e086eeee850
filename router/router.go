// Package router classifies a user query into a category, a model tier and
// the tools worth offering. Cheap keyword rules run first; only queries none
// of them recognise cost a short classification call.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/m4xw311/dealgate/errors"
	"github.com/m4xw311/dealgate/llm"
	"github.com/m4xw311/dealgate/session"
)

type Category string

const (
	PipelineAnalytics Category = "PIPELINE_ANALYTICS"
	DealDetail        Category = "DEAL_DETAIL"
	BuyerMatching     Category = "BUYER_MATCHING"
	ContactLookup     Category = "CONTACT_LOOKUP"
	ScoringExplain    Category = "SCORING_EXPLAIN"
	Enrichment        Category = "ENRICHMENT"
	DealUpdate        Category = "DEAL_UPDATE"
	General           Category = "GENERAL"
)

// Categories lists every category in prompt order.
var Categories = []Category{PipelineAnalytics, DealDetail, BuyerMatching, ContactLookup, ScoringExplain, Enrichment, DealUpdate, General}

// Tier selects the model size for the orchestrator.
type Tier string

const (
	Quick    Tier = "QUICK"
	Standard Tier = "STANDARD"
	Deep     Tier = "DEEP"
)

// Result is a routing decision.
type Result struct {
	Category   Category `json:"category"`
	Tier       Tier     `json:"tier"`
	Tools      []string `json:"tools"`
	Confidence float64  `json:"confidence"`
	Bypassed   bool     `json:"bypassed"`
}

// Default is returned whenever classification cannot produce a valid result.
func Default() Result {
	return Result{Category: General, Tier: Standard, Tools: []string{"get_page_context"}, Confidence: 0.3}
}

func (r Result) clone() Result {
	r.Tools = slices.Clone(r.Tools)
	if r.Tools == nil {
		r.Tools = []string{}
	}
	return r
}

// Config wires a Router.
type Config struct {
	// Rules are checked in order; nil means DefaultRules.
	Rules []Rule
	// Model is the QUICK-tier model used for classification.
	Model string
	// Timeout bounds the classification call. Zero means three seconds.
	Timeout time.Duration
	// ToolNames are the registry tools the classifier may choose from.
	ToolNames []string
	Logger    *slog.Logger
}

// Router is safe for concurrent use; it holds no per-request state.
type Router struct {
	rules     []Rule
	client    llm.LLMClient
	model     string
	timeout   time.Duration
	toolNames []string
	logger    *slog.Logger
}

func New(client llm.LLMClient, cfg Config) *Router {
	r := &Router{
		rules:     cfg.Rules,
		client:    client,
		model:     cfg.Model,
		timeout:   cfg.Timeout,
		toolNames: slices.Clone(cfg.ToolNames),
		logger:    cfg.Logger,
	}
	if r.rules == nil {
		r.rules = DefaultRules()
	}
	if r.timeout <= 0 {
		r.timeout = 3 * time.Second
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Route never fails: a rule match wins, then the classifier, then Default.
func (r *Router) Route(ctx context.Context, query string, page *session.PageContext) Result {
	for _, rule := range r.rules {
		if rule.Match(query, page) {
			res := rule.Result.clone()
			res.Bypassed = true
			r.logger.DebugContext(ctx, "route bypassed", "rule", rule.Name, "category", res.Category)
			return res
		}
	}

	if r.client == nil {
		return Default()
	}
	res, err := r.classify(ctx, query, page)
	if err != nil {
		r.logger.WarnContext(ctx, "classification failed, using default route", "error", err)
		return Default()
	}
	return res
}

func (r *Router) classify(ctx context.Context, query string, page *session.PageContext) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	user := query
	if !page.IsZero() {
		user = fmt.Sprintf("%s\n\n(User is viewing page=%q entity_type=%q entity_id=%q)", query, page.Page, page.EntityType, page.EntityID)
	}
	resp, err := r.client.Chat(ctx, llm.Request{
		Model:      r.model,
		System:     classificationPrompt(r.toolNames),
		Messages:   []session.Message{session.UserText(user)},
		ToolChoice: llm.ToolChoiceNone,
		MaxTokens:  256,
	})
	if err != nil {
		return Result{}, errors.Wrapf(err, "classification call")
	}
	return r.parse(resp.Text)
}

func classificationPrompt(toolNames []string) string {
	var b strings.Builder
	b.WriteString("You classify requests to a deal-advisory CRM assistant.\n\nCategories:\n")
	for _, c := range Categories {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	b.WriteString("\nTiers: QUICK (single lookup), STANDARD (a few tool calls), DEEP (multi-step analysis).\n\nTools:\n")
	for _, name := range toolNames {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	b.WriteString("\nReply with only a JSON object: ")
	b.WriteString(`{"category": "...", "tier": "...", "tools": ["..."], "confidence": 0.0}`)
	return b.String()
}

type classification struct {
	Category   string   `json:"category"`
	Tier       string   `json:"tier"`
	Tools      []string `json:"tools"`
	Confidence *float64 `json:"confidence"`
}

// parse validates the classifier reply. An unknown category is a failure;
// an unknown tier degrades to STANDARD; unknown tools are dropped.
func (r *Router) parse(reply string) (Result, error) {
	raw, ok := firstObject(reply)
	if !ok {
		return Result{}, errors.New("no JSON object in classifier reply")
	}
	var c classification
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Result{}, errors.Wrapf(err, "decoding classifier reply")
	}

	category := Category(strings.ToUpper(strings.TrimSpace(c.Category)))
	if !slices.Contains(Categories, category) {
		return Result{}, errors.New("unknown category %q", c.Category)
	}

	res := Result{Category: category, Tier: Tier(strings.ToUpper(strings.TrimSpace(c.Tier))), Tools: []string{}, Confidence: 0.5}
	switch res.Tier {
	case Quick, Standard, Deep:
	default:
		res.Tier = Standard
	}
	for _, name := range c.Tools {
		if slices.Contains(r.toolNames, name) && !slices.Contains(res.Tools, name) {
			res.Tools = append(res.Tools, name)
		}
	}
	if c.Confidence != nil {
		res.Confidence = min(max(*c.Confidence, 0), 1)
	}
	return res, nil
}

// firstObject returns the first balanced {...} in s, ignoring braces inside
// JSON strings.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
