package quote

import (
	"testing"

	"github.com/ggonzalez94/xbridge/internal/model"
)

func enriched(resp model.QuoteResponse) model.EnrichedQuote {
	return model.EnrichedQuote{QuoteResponse: resp}
}

func TestIdentity(t *testing.T) {
	resp := tokenQuote("lifi", []string{"across", "hop"}, 2, "1", "1")
	if got := Identity(resp); got != "lifi-across-2" {
		t.Fatalf("unexpected identity: %s", got)
	}
	resp.Quote.Bridges = nil
	resp.Quote.Steps = nil
	if got := Identity(resp); got != "lifi--0" {
		t.Fatalf("unexpected identity without bridges: %s", got)
	}
}

func TestTrackSelectionBeforeFirstRefresh(t *testing.T) {
	selected := enriched(tokenQuote("lifi", []string{"across"}, 1, "1", "1"))
	for _, count := range []int{0, 1} {
		if got := TrackSelection(count, &selected, nil, Identity); got != &selected {
			t.Fatalf("refresh count %d: expected raw selection", count)
		}
	}
}

func TestTrackSelectionFindsMovedQuote(t *testing.T) {
	selected := enriched(tokenQuote("lifi", []string{"across"}, 1, "100", "99"))
	next := []model.EnrichedQuote{
		enriched(tokenQuote("lifi", []string{"hop"}, 1, "100", "99")),
		enriched(tokenQuote("lifi", []string{"stargate"}, 1, "100", "99")),
		enriched(tokenQuote("lifi", []string{"across"}, 1, "100", "97")),
	}
	got := TrackSelection(3, &selected, next, Identity)
	if got != &next[2] {
		t.Fatalf("expected match at new position, got %+v", got)
	}
	if got.Quote.DestTokenAmount != "97" {
		t.Fatal("expected the refreshed quote, not the stale selection")
	}
}

func TestTrackSelectionMissingRoute(t *testing.T) {
	selected := enriched(tokenQuote("lifi", []string{"across"}, 1, "100", "99"))
	next := []model.EnrichedQuote{enriched(tokenQuote("lifi", []string{"across"}, 2, "100", "99"))}
	if got := TrackSelection(2, &selected, next, Identity); got != nil {
		t.Fatalf("expected no match when step count changed, got %+v", got)
	}
	if got := TrackSelection(2, nil, next, Identity); got != nil {
		t.Fatal("expected nil without a selection")
	}
}

func TestRouteFingerprintDistinguishesIntermediateHops(t *testing.T) {
	a := tokenQuote("lifi", []string{"across", "uniswap"}, 2, "100", "99")
	b := tokenQuote("lifi", []string{"across", "uniswap"}, 2, "100", "99")
	b.Quote.Steps[1].Protocol = "sushiswap"
	if Identity(a) != Identity(b) {
		t.Fatal("weak identity should collide for these routes")
	}
	if RouteFingerprint(a) == RouteFingerprint(b) {
		t.Fatal("fingerprint should separate routes with different hops")
	}

	refreshed := a
	refreshed.Quote.DestTokenAmount = "98"
	if RouteFingerprint(a) != RouteFingerprint(refreshed) {
		t.Fatal("fingerprint must survive a change in received amount")
	}
}

func TestIdentityForAndFindByKey(t *testing.T) {
	if _, err := IdentityFor("bogus"); err == nil {
		t.Fatal("expected unknown continuity mode error")
	}
	fn, err := IdentityFor("fingerprint")
	if err != nil || fn == nil {
		t.Fatalf("expected fingerprint func, err=%v", err)
	}
	quotes := []model.EnrichedQuote{
		enriched(tokenQuote("lifi", []string{"hop"}, 1, "100", "99")),
		enriched(tokenQuote("lifi", []string{"across"}, 1, "100", "99")),
	}
	if got := FindByKey(quotes, "lifi-across-1"); got != &quotes[1] {
		t.Fatalf("expected identity lookup to match, got %+v", got)
	}
	if got := FindByKey(quotes, fn(quotes[0].QuoteResponse)); got != &quotes[0] {
		t.Fatal("expected fingerprint lookup to match")
	}
	if Active(nil, &quotes[0]) != &quotes[0] || Active(&quotes[1], &quotes[0]) != &quotes[1] {
		t.Fatal("unexpected active quote resolution")
	}
}
