package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ggonzalez94/xbridge/internal/engine"
	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/fetch"
	"github.com/ggonzalez94/xbridge/internal/validation"
)

// session is the outcome of one fetch cycle for a command invocation.
type session struct {
	engine   *engine.Engine
	viewer   viewer
	cycle    fetch.Cycle
	balances validation.Balances
}

// runSession fetches quotes for the request and reads the account balances
// concurrently. Balances set in overrides replace the on-chain values; when
// both are set nothing is read.
func (s *runtimeState) runSession(cmd *cobra.Command, a quoteArgs, selectKey string, overrides validation.Balances) (*session, error) {
	s.resetCommandDiagnostics()
	ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
	defer cancel()

	req, err := s.resolveQuoteRequest(ctx, a)
	if err != nil {
		return nil, err
	}
	cfg, err := s.engineConfig(a.sort)
	if err != nil {
		return nil, err
	}
	fetcher, err := s.newFetcher(a.providers)
	if err != nil {
		return nil, err
	}
	eng := engine.New(cfg)
	loop := fetch.NewLoop(fetcher, eng, s.loopConfig(nil))
	sess := &session{
		engine: eng,
		viewer: viewer{identity: cfg.Identity, refreshRate: s.settings.Bridge.RefreshRate, insufficientBal: s.settings.Bridge.InsufficientBal},
	}

	var g errgroup.Group
	g.Go(func() error {
		sess.cycle = loop.Once(ctx, req)
		return nil
	})
	if req.Quote.Sender != "" && !(overrides.Token.Valid && overrides.Native.Valid) {
		g.Go(func() error {
			sess.balances = fetch.Balances(ctx, s.balances, req.Quote.Sender, req.Model.SrcToken, s.logger())
			return nil
		})
	}
	_ = g.Wait()
	if overrides.Token.Valid {
		sess.balances.Token = overrides.Token
	}
	if overrides.Native.Valid {
		sess.balances.Native = overrides.Native
	}

	batch := sess.cycle.Batch
	s.captureCommandDiagnostics(batch.Warnings, batch.Providers, batch.Partial)
	if sess.cycle.Err != nil {
		return nil, sess.cycle.Err
	}
	if batch.Partial && s.settings.Strict {
		return nil, clierr.New(clierr.CodePartialStrict, "partial results returned in strict mode")
	}
	if selectKey != "" && !eng.SelectByKey(selectKey) {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("no quote matches %q", selectKey))
	}
	return sess, nil
}

func (sess *session) cacheStatus() string {
	if sess.cycle.Batch.Cache.Status == "" {
		return "bypass"
	}
	return sess.cycle.Batch.Cache.Status
}

func (s *runtimeState) newQuotesCommand() *cobra.Command {
	var a quoteArgs
	var selectKey string
	cmd := &cobra.Command{
		Use:   "quotes",
		Short: "Fetch, enrich and rank bridge quotes",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := s.runSession(cmd, a, selectKey, validation.Balances{})
			if err != nil {
				return err
			}
			snap := sess.engine.Snapshot()
			decision := snap.Decide(sess.balances)
			if !decision.Submittable {
				s.metrics.RecordBlocked(string(decision.Reason))
			}
			batch := sess.cycle.Batch
			cache := batch.Cache
			cache.Status = sess.cacheStatus()
			view := sess.viewer.session(snap, &decision, s.runner.now())
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), view, batch.Warnings, cache, batch.Providers, batch.Partial)
		},
	}
	addQuoteFlags(cmd, &a)
	cmd.Flags().StringVar(&selectKey, "select-quote", "", "Select a quote by id or fingerprint instead of the recommendation")
	return cmd
}

func (s *runtimeState) newValidateCommand() *cobra.Command {
	var a quoteArgs
	var selectKey, balanceOverride, nativeOverride string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Evaluate the submission checks for the active quote",
		RunE: func(cmd *cobra.Command, args []string) error {
			tokenBal, err := parseBalanceFlag("--balance", balanceOverride)
			if err != nil {
				return err
			}
			nativeBal, err := parseBalanceFlag("--native-balance", nativeOverride)
			if err != nil {
				return err
			}
			sess, err := s.runSession(cmd, a, selectKey, validation.Balances{Token: tokenBal, Native: nativeBal})
			if err != nil {
				return err
			}

			view := sess.viewer.validate(sess.engine.Snapshot(), sess.balances)
			if !view.Submittable {
				s.metrics.RecordBlocked(string(view.Reason))
				s.logger().WithField("reason", view.Reason).Info("submission blocked")
				if s.settings.Strict {
					return clierr.New(clierr.CodeValidation, fmt.Sprintf("submission blocked: %s", view.Reason))
				}
			}
			batch := sess.cycle.Batch
			cache := batch.Cache
			cache.Status = sess.cacheStatus()
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), view, batch.Warnings, cache, batch.Providers, batch.Partial)
		},
	}
	addQuoteFlags(cmd, &a)
	cmd.Flags().StringVar(&selectKey, "select-quote", "", "Validate the quote with this id or fingerprint")
	cmd.Flags().StringVar(&balanceOverride, "balance", "", "Source token balance in token units, used instead of the on-chain read")
	cmd.Flags().StringVar(&nativeOverride, "native-balance", "", "Gas token balance in token units, used instead of the on-chain read")
	return cmd
}

func parseBalanceFlag(name, raw string) (decimal.NullDecimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return decimal.NullDecimal{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s must be a non-negative decimal", name))
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}
