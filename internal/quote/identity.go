package quote

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
)

// IdentityFunc maps a quote to the key used to find it again after a refresh.
type IdentityFunc func(model.QuoteResponse) string

const (
	ContinuityIdentity    = "identity"
	ContinuityFingerprint = "fingerprint"
)

// IdentityFor returns the identity strategy named by mode.
func IdentityFor(mode string) (IdentityFunc, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ContinuityIdentity:
		return Identity, nil
	case ContinuityFingerprint:
		return RouteFingerprint, nil
	default:
		return nil, fmt.Errorf("continuity must be one of: identity,fingerprint")
	}
}

// Identity is bridge id, first bridge and step count joined by dashes. Two
// distinct routes can share it.
func Identity(resp model.QuoteResponse) string {
	first := ""
	if len(resp.Quote.Bridges) > 0 {
		first = resp.Quote.Bridges[0]
	}
	return fmt.Sprintf("%s-%s-%d", resp.Quote.BridgeID, first, len(resp.Quote.Steps))
}

// RouteFingerprint hashes every hop of the route together with the amount
// sent. The received amount is left out because it moves between refreshes
// of the same request.
func RouteFingerprint(resp model.QuoteResponse) string {
	q := resp.Quote
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|", q.Provider, q.BridgeID, strings.Join(q.Bridges, ","))
	for _, step := range q.Steps {
		fmt.Fprintf(h, "%s:%s:%d:%s:%d:%s|",
			step.Action, step.Protocol,
			step.SrcChainID, id.NormalizeAddress(step.SrcAsset.Address),
			step.DestChainID, id.NormalizeAddress(step.DestAsset.Address))
	}
	fmt.Fprintf(h, "%s", q.SrcTokenAmount)
	return hex.EncodeToString(h.Sum(nil))
}

// TrackSelection re-associates selected with its counterpart in sorted.
// Until the first refresh has replaced the initial batch the selection is
// returned as is. Afterwards the match by identity is returned, or nil when
// the route disappeared.
func TrackSelection(refreshCount int, selected *model.EnrichedQuote, sorted []model.EnrichedQuote, identity IdentityFunc) *model.EnrichedQuote {
	if refreshCount <= 1 {
		return selected
	}
	if selected == nil {
		return nil
	}
	if identity == nil {
		identity = Identity
	}
	want := identity(selected.QuoteResponse)
	for i := range sorted {
		if identity(sorted[i].QuoteResponse) == want {
			return &sorted[i]
		}
	}
	return nil
}

// Active is the selection when present, otherwise the recommendation.
func Active(selected, recommended *model.EnrichedQuote) *model.EnrichedQuote {
	if selected != nil {
		return selected
	}
	return recommended
}

// FindByKey looks up a quote by either identity or fingerprint. It backs the
// --select-quote flag.
func FindByKey(quotes []model.EnrichedQuote, key string) *model.EnrichedQuote {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	for i := range quotes {
		if Identity(quotes[i].QuoteResponse) == key || RouteFingerprint(quotes[i].QuoteResponse) == key {
			return &quotes[i]
		}
	}
	return nil
}
