// Package tokens orders the selectable tokens of a chain.
package tokens

import (
	"iter"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
)

// Owned is a token the account holds together with its balance.
type Owned struct {
	Token   model.Token
	Balance decimal.Decimal
}

type Sources struct {
	ChainID int64
	// Requested is the token named by the caller, if any.
	Requested *model.Token
	Owned     []Owned
	Top       []model.Token
	All       []model.Token
	// Query filters by symbol prefix or exact address when set.
	Query string
}

// Candidate is one yielded token with the group it came from.
type Candidate struct {
	Token   model.Token         `json:"token"`
	Source  string              `json:"source"`
	Balance decimal.NullDecimal `json:"balance"`
}

const (
	SourceRequested = "requested"
	SourceOwned     = "owned"
	SourceTop       = "top"
	SourceOther     = "other"
)

// Candidates yields the requested token, owned tokens with a positive
// balance, top tokens, then the remaining list. Each address is yielded once
// and the gas token is reported under the zero address.
func Candidates(src Sources) iter.Seq[Candidate] {
	return func(yield func(Candidate) bool) {
		seen := map[string]bool{}
		balances := map[string]decimal.Decimal{}
		for _, o := range src.Owned {
			balances[id.NormalizeAddress(o.Token.Address)] = o.Balance
		}
		emit := func(t model.Token, source string) bool {
			t = normalize(t, src.ChainID)
			if t.ChainID != src.ChainID || seen[t.Address] || !matches(t, src.Query) {
				return true
			}
			seen[t.Address] = true
			c := Candidate{Token: t, Source: source}
			if bal, ok := balances[t.Address]; ok {
				c.Balance = decimal.NullDecimal{Decimal: bal, Valid: true}
			}
			return yield(c)
		}

		if src.Requested != nil {
			if !emit(*src.Requested, SourceRequested) {
				return
			}
		}
		for _, o := range src.Owned {
			if !o.Balance.IsPositive() {
				continue
			}
			if !emit(o.Token, SourceOwned) {
				return
			}
		}
		for _, t := range src.Top {
			if !emit(t, SourceTop) {
				return
			}
		}
		for _, t := range src.All {
			if !emit(t, SourceOther) {
				return
			}
		}
	}
}

func normalize(t model.Token, chainID int64) model.Token {
	if t.ChainID == 0 {
		t.ChainID = chainID
	}
	t.Address = id.NormalizeAddress(t.Address)
	if t.Address == id.NativeAddress {
		native := id.NativeAsset(id.ChainByID(t.ChainID)).Token()
		native.IconURL = t.IconURL
		return native
	}
	return t
}

func matches(t model.Token, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	if strings.HasPrefix(q, "0x") {
		return t.Address == id.NormalizeAddress(q)
	}
	return strings.HasPrefix(strings.ToLower(t.Symbol), q)
}
