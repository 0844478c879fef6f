package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/tokens"
)

const tokenListTTL = 5 * time.Minute

func (s *runtimeState) newTokensCommand() *cobra.Command {
	root := &cobra.Command{Use: "tokens", Short: "Token commands"}

	var chainArg, assetArg, query, account string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List selectable tokens: requested, owned, top, then the rest",
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := id.ParseChain(chainArg)
			if err != nil {
				return err
			}
			var requested *model.Token
			if strings.TrimSpace(assetArg) != "" {
				asset, err := id.ParseAsset(assetArg, chain)
				if err != nil {
					return err
				}
				t := asset.Token()
				requested = &t
			}
			account = strings.TrimSpace(account)
			if account != "" && !common.IsHexAddress(account) {
				return clierr.New(clierr.CodeUsage, "--account must be an EVM address")
			}
			if limit < 0 {
				return clierr.New(clierr.CodeUsage, "--limit must be >= 0")
			}

			key := cacheKey(trimRootPath(cmd.CommandPath()), map[string]any{
				"chain":   chain.EVMChainID,
				"asset":   assetArg,
				"query":   strings.ToLower(query),
				"account": strings.ToLower(account),
				"limit":   limit,
			})
			return s.runCachedCommand(trimRootPath(cmd.CommandPath()), key, tokenListTTL, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
				return s.listTokens(ctx, tokens.Sources{
					ChainID:   chain.EVMChainID,
					Requested: requested,
					Top:       id.RegistryTokens(chain.EVMChainID),
					Query:     query,
				}, account, limit)
			})
		},
	}
	list.Flags().StringVar(&chainArg, "chain", "", "Chain identifier")
	list.Flags().StringVar(&assetArg, "asset", "", "Token to list first")
	list.Flags().StringVar(&query, "query", "", "Filter by symbol prefix or exact address")
	list.Flags().StringVar(&account, "account", "", "Account whose held tokens are listed ahead of the rest")
	list.Flags().IntVar(&limit, "limit", 50, "Maximum tokens to return (0 for all)")
	_ = list.MarkFlagRequired("chain")
	root.AddCommand(list)
	return root
}

// listTokens completes src with the provider token list and the account's
// holdings of the top tokens, then collects the ordered candidates.
func (s *runtimeState) listTokens(ctx context.Context, src tokens.Sources, account string, limit int) ([]tokens.Candidate, []model.ProviderStatus, []string, bool, error) {
	var (
		statuses []model.ProviderStatus
		warnings []string
		partial  bool
	)
	if s.tokenLister != nil {
		start := time.Now()
		all, err := s.tokenLister.Tokens(ctx, src.ChainID)
		statuses = append(statuses, model.ProviderStatus{
			Name:      s.tokenLister.Info().Name,
			Status:    statusFromErr(err),
			LatencyMS: time.Since(start).Milliseconds(),
		})
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("token list unavailable: %v", err))
			partial = true
		} else {
			src.All = all
		}
	}

	if account != "" && s.balances != nil {
		src.Owned = s.ownedTokens(ctx, account, src.Top)
	}

	out := []tokens.Candidate{}
	for c := range tokens.Candidates(src) {
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, statuses, warnings, partial, nil
}

// ownedTokens reads the account's balance of each token concurrently.
// Unreadable balances are skipped.
func (s *runtimeState) ownedTokens(ctx context.Context, account string, candidates []model.Token) []tokens.Owned {
	owned := make([]tokens.Owned, len(candidates))
	found := make([]bool, len(candidates))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, t := range candidates {
		g.Go(func() error {
			bal, err := s.balances.Balance(gctx, account, t)
			if err != nil {
				s.logger().WithError(err).WithField("token", t.Symbol).Debug("balance read failed")
				return nil
			}
			mu.Lock()
			owned[i] = tokens.Owned{Token: t, Balance: bal}
			found[i] = true
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	out := make([]tokens.Owned, 0, len(candidates))
	for i := range owned {
		if found[i] {
			out = append(out, owned[i])
		}
	}
	return out
}
