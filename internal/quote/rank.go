package quote

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/xbridge/internal/model"
)

type SortOrder string

const (
	SortCostAsc SortOrder = "cost_asc"
	SortETAAsc  SortOrder = "eta_asc"
)

func ParseSortOrder(raw string) (SortOrder, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(SortCostAsc), "cost":
		return SortCostAsc, nil
	case string(SortETAAsc), "eta", "time":
		return SortETAAsc, nil
	default:
		return "", fmt.Errorf("sort order must be one of: cost_asc,eta_asc")
	}
}

// RankConfig holds the thresholds of the recommendation heuristic.
type RankConfig struct {
	ReturnTolerance decimal.Decimal
	MaxETASeconds   int64
}

// Sort returns a stably sorted copy of quotes. Under cost ordering, quotes
// whose cost is unknown keep their relative order after all known costs.
func Sort(quotes []model.EnrichedQuote, order SortOrder) []model.EnrichedQuote {
	out := slices.Clone(quotes)
	switch order {
	case SortETAAsc:
		slices.SortStableFunc(out, func(a, b model.EnrichedQuote) int {
			return compareInt64(a.EstimatedProcessingTimeInSeconds, b.EstimatedProcessingTimeInSeconds)
		})
	default:
		slices.SortStableFunc(out, func(a, b model.EnrichedQuote) int {
			return compareNull(a.Cost.ValueInCurrency, b.Cost.ValueInCurrency)
		})
	}
	return out
}

// Recommend picks the best quote on the preferred axis that is still
// reasonable on the other one. Under ETA ordering that is the fastest quote
// returning at least ReturnTolerance of the best return; under cost ordering
// it is the cheapest quote faster than MaxETASeconds. When nothing qualifies
// the head of sorted is returned. sorted must already be ordered by order.
func Recommend(sorted []model.EnrichedQuote, order SortOrder, cfg RankConfig) *model.EnrichedQuote {
	if len(sorted) == 0 {
		return nil
	}
	switch order {
	case SortETAAsc:
		best, ok := BestReturn(sorted)
		for i := range sorted {
			if !ok || returnAcceptable(sorted[i], best, cfg.ReturnTolerance) {
				return &sorted[i]
			}
		}
	default:
		for i := range sorted {
			if sorted[i].EstimatedProcessingTimeInSeconds < cfg.MaxETASeconds {
				return &sorted[i]
			}
		}
	}
	return &sorted[0]
}

// BestReturn is the maximum known adjusted return. ok is false when no quote
// has a known return or the best one is not positive.
func BestReturn(quotes []model.EnrichedQuote) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for _, q := range quotes {
		v := q.AdjustedReturn.ValueInCurrency
		if !v.Valid {
			continue
		}
		if !found || v.Decimal.GreaterThan(best) {
			best = v.Decimal
			found = true
		}
	}
	if !found || !best.IsPositive() {
		return decimal.Zero, false
	}
	return best, true
}

func returnAcceptable(q model.EnrichedQuote, best, tolerance decimal.Decimal) bool {
	v := q.AdjustedReturn.ValueInCurrency
	if !v.Valid {
		return true
	}
	return v.Decimal.Div(best).GreaterThanOrEqual(tolerance)
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareNull(a, b decimal.NullDecimal) int {
	switch {
	case !a.Valid && !b.Valid:
		return 0
	case !a.Valid:
		return 1
	case !b.Valid:
		return -1
	default:
		return a.Decimal.Cmp(b.Decimal)
	}
}
