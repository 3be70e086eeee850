package tools

import (
	"bytes"
	"text/template"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/m4xw311/dealgate/config"
	"github.com/m4xw311/dealgate/errors"
)

// confirmTool forces confirmation on a wrapped tool and renders its prompt
// from a template over the call arguments.
type confirmTool struct {
	Tool
	description *template.Template
}

func (c *confirmTool) RequiresConfirmation() bool { return true }

func (c *confirmTool) DescribeAction(args map[string]any) string {
	if c.description == nil {
		if d, ok := c.Tool.(Describer); ok {
			return d.DescribeAction(args)
		}
		return ""
	}
	var buf bytes.Buffer
	if err := c.description.Execute(&buf, args); err != nil {
		return ""
	}
	return buf.String()
}

// ApplyConfirmPolicy returns a registry in which every tool matching a rule
// requires confirmation. The first matching rule supplies the description.
func ApplyConfirmPolicy(r *Registry, rules []config.ConfirmTool) (*Registry, error) {
	if len(rules) == 0 {
		return r, nil
	}
	templates := make([]*template.Template, len(rules))
	for i, rule := range rules {
		if rule.Description == "" {
			continue
		}
		tmpl, err := template.New(rule.Pattern).Option("missingkey=zero").Parse(rule.Description)
		if err != nil {
			return nil, errors.Wrapf(err, "confirm_tools %q: bad description template", rule.Pattern)
		}
		templates[i] = tmpl
	}

	out := make([]Tool, 0, r.Len())
	for _, t := range r.Tools() {
		wrapped := t
		for i, rule := range rules {
			ok, err := doublestar.Match(rule.Pattern, t.Name())
			if err != nil {
				return nil, errors.Wrapf(err, "confirm_tools: invalid pattern %q", rule.Pattern)
			}
			if ok {
				wrapped = &confirmTool{Tool: t, description: templates[i]}
				break
			}
		}
		out = append(out, wrapped)
	}
	return NewRegistry(out...)
}
