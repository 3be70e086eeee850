package session

import "context"

// PageContext describes what the user is looking at when they ask.
type PageContext struct {
	Page       string `json:"page,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
	Tab        string `json:"tab,omitempty"`
}

// IsZero reports whether no field is set.
func (p *PageContext) IsZero() bool {
	return p == nil || *p == PageContext{}
}

type pageKey struct{}

// WithPageContext attaches the page context to ctx for tool executors.
func WithPageContext(ctx context.Context, page *PageContext) context.Context {
	return context.WithValue(ctx, pageKey{}, page)
}

// PageContextFrom returns the page context attached by WithPageContext, or nil.
func PageContextFrom(ctx context.Context) *PageContext {
	page, _ := ctx.Value(pageKey{}).(*PageContext)
	return page
}

// Caller identifies the authenticated user on whose behalf tools run.
type Caller struct {
	UserID string `json:"user_id"`
}
