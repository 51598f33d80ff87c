// Package anchor picks the anchor text suggested for a link opportunity.
package anchor

import (
	"context"

	"github.com/elonfeng/linkscout/pkg/opportunity"
)

// Suggester fills SuggestedAnchorText on a batch of opportunities. It never
// reorders or rescores them.
type Suggester interface {
	Suggest(ctx context.Context, opps []opportunity.Opportunity) ([]opportunity.Opportunity, error)
}

// Template is the default suggester.
type Template struct{}

func (Template) Suggest(_ context.Context, opps []opportunity.Opportunity) ([]opportunity.Opportunity, error) {
	out := make([]opportunity.Opportunity, len(opps))
	for i, o := range opps {
		o.SuggestedAnchorText = opportunity.AnchorText(o.Keyword)
		out[i] = o
	}
	return out, nil
}
