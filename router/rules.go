package router

import (
	"regexp"
	"strings"

	"github.com/m4xw311/dealgate/session"
)

// Rule short-circuits classification when Match reports true.
type Rule struct {
	Name   string
	Match  func(query string, page *session.PageContext) bool
	Result Result
}

// Industries recognised by the industry_deal_count rule.
var Industries = []string{
	"hvac", "plumbing", "roofing", "electrical", "landscaping", "pest control", "pool",
	"janitorial", "dental", "veterinary", "home health", "auto repair", "collision",
	"accounting", "insurance agency", "staffing", "manufacturing", "logistics", "construction",
}

var (
	stageUpdateRe  = regexp.MustCompile(`\b(move|update|change|set|advance|push|bump)\b.*\b(stage|status)\b`)
	dealNoteRe     = regexp.MustCompile(`\b(add|log|leave|write|record)\b.*\bnotes?\b`)
	thisDealRe     = regexp.MustCompile(`\b(this deal|this one|this company|it|here)\b`)
	scoreRe        = regexp.MustCompile(`\bwhy\b.*\bscor(e|ed|ing)\b|\bexplain\b.*\bscor(e|ed|ing)\b|\bscoring\b`)
	dealsRe        = regexp.MustCompile(`\bdeals?\b`)
	buyerRe        = regexp.MustCompile(`\b(buyers?|acquirers?)\b`)
	buyerIntentRe  = regexp.MustCompile(`\b(match|matches|matching|fit|fits|who would|interested|best)\b`)
	contactRe      = regexp.MustCompile(`\b(contacts?|email|phone|reach out|owner'?s)\b`)
	enrichRe       = regexp.MustCompile(`\b(enrich\w*|refresh (the )?data|re-?run enrichment)\b`)
	pipelineRe     = regexp.MustCompile(`\bpipeline\b|\bhow many deals\b|\bdeals by stage\b`)
	smallTalkRe    = regexp.MustCompile(`^(hi|hello|hey|thanks|thank you|thx|cheers|good (morning|afternoon|evening))( there)?[\s!.,]*$`)
	industryRegexp = industryPattern(Industries)
)

func industryPattern(names []string) *regexp.Regexp {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = regexp.QuoteMeta(n)
	}
	return regexp.MustCompile(`\b(` + strings.Join(quoted, "|") + `)\b`)
}

// matches lowercases the query before applying every pattern.
func matches(patterns ...*regexp.Regexp) func(string, *session.PageContext) bool {
	return func(query string, _ *session.PageContext) bool {
		q := strings.ToLower(strings.TrimSpace(query))
		for _, p := range patterns {
			if !p.MatchString(q) {
				return false
			}
		}
		return true
	}
}

// DefaultRules returns the built-in rules in priority order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:   "deal_stage_update",
			Match:  matches(stageUpdateRe),
			Result: Result{Category: DealUpdate, Tier: Standard, Tools: []string{"update_deal_stage", "get_deal_details"}, Confidence: 0.9},
		},
		{
			Name:   "deal_note",
			Match:  matches(dealNoteRe),
			Result: Result{Category: DealUpdate, Tier: Quick, Tools: []string{"add_deal_note", "get_deal_details"}, Confidence: 0.9},
		},
		{
			Name: "viewed_deal",
			Match: func(query string, page *session.PageContext) bool {
				if page == nil || page.EntityType != "deal" {
					return false
				}
				return thisDealRe.MatchString(strings.ToLower(query))
			},
			Result: Result{Category: DealDetail, Tier: Standard, Tools: []string{"get_deal_details", "get_page_context"}, Confidence: 0.85},
		},
		{
			Name:   "score_explanation",
			Match:  matches(scoreRe),
			Result: Result{Category: ScoringExplain, Tier: Standard, Tools: []string{"explain_score", "get_deal_details"}, Confidence: 0.85},
		},
		{
			Name:   "industry_deal_count",
			Match:  matches(industryRegexp, dealsRe),
			Result: Result{Category: PipelineAnalytics, Tier: Quick, Tools: []string{"count_deals_by_industry", "query_deals"}, Confidence: 0.9},
		},
		{
			Name:   "buyer_matching",
			Match:  matches(buyerRe, buyerIntentRe),
			Result: Result{Category: BuyerMatching, Tier: Deep, Tools: []string{"search_buyers", "get_buyer_profile"}, Confidence: 0.8},
		},
		{
			Name:   "contact_lookup",
			Match:  matches(contactRe),
			Result: Result{Category: ContactLookup, Tier: Quick, Tools: []string{"find_contacts"}, Confidence: 0.8},
		},
		{
			Name:   "enrichment",
			Match:  matches(enrichRe),
			Result: Result{Category: Enrichment, Tier: Standard, Tools: []string{"trigger_enrichment", "get_deal_details"}, Confidence: 0.8},
		},
		{
			Name:   "pipeline_summary",
			Match:  matches(pipelineRe),
			Result: Result{Category: PipelineAnalytics, Tier: Standard, Tools: []string{"query_deals", "count_deals_by_industry"}, Confidence: 0.8},
		},
		{
			Name:   "small_talk",
			Match:  matches(smallTalkRe),
			Result: Result{Category: General, Tier: Quick, Tools: []string{}, Confidence: 0.95},
		},
	}
}
