package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/xbridge/internal/engine"
	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/fetch"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/out"
	"github.com/ggonzalez94/xbridge/internal/quote"
	"github.com/ggonzalez94/xbridge/internal/refresh"
	"github.com/ggonzalez94/xbridge/internal/validation"
)

const watchLongHelp = `Stream the quote session as NDJSON envelopes, one per refresh or edit.

Edits are read from stdin, one key=value per line:
  amount=<base units>        amount-decimal=<decimal>
  asset=<asset>              to-asset=<asset>
  from=<chain>               to=<chain>
  account=<address>          slippage-bps=<bps>
  sort=<cost_asc|eta_asc>    select=<id or fingerprint>

Request edits are debounced and restart the refresh cycle. sort and select
apply immediately. The session ends when stdin closes and the last request
has used up its refreshes, or on interrupt.`

func (s *runtimeState) newWatchCommand() *cobra.Command {
	var a quoteArgs
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream refreshed quotes and apply edits read from stdin",
		Long:  watchLongHelp,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runWatch(cmd, a, metricsAddr)
		},
	}
	addQuoteFlags(cmd, &a)
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while watching")
	return cmd
}

// watchSession serializes output and balance state of one watch run.
type watchSession struct {
	state  *runtimeState
	path   string
	engine *engine.Engine
	viewer viewer
	log    logrus.FieldLogger

	outMu sync.Mutex

	balMu    sync.Mutex
	balances validation.Balances

	reqMu    sync.Mutex
	closed   bool
	requests chan fetch.Request
}

func (s *runtimeState) runWatch(cmd *cobra.Command, a quoteArgs, metricsAddr string) error {
	s.resetCommandDiagnostics()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolveCtx, cancel := context.WithTimeout(ctx, s.settings.Timeout)
	req, err := s.resolveQuoteRequest(resolveCtx, a)
	cancel()
	if err != nil {
		return err
	}
	cfg, err := s.engineConfig(a.sort)
	if err != nil {
		return err
	}
	fetcher, err := s.newFetcher(a.providers)
	if err != nil {
		return err
	}

	w := &watchSession{
		state:    s,
		path:     trimRootPath(cmd.CommandPath()),
		engine:   engine.New(cfg),
		viewer:   viewer{identity: cfg.Identity, refreshRate: s.settings.Bridge.RefreshRate, insufficientBal: s.settings.Bridge.InsufficientBal},
		log:      s.logger(),
		requests: make(chan fetch.Request),
	}

	if metricsAddr != "" {
		shutdown, err := s.serveMetrics(metricsAddr)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	loop := fetch.NewLoop(fetcher, w.engine, s.loopConfig(func(c fetch.Cycle) { w.onCycle(ctx, c) }))
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx, w.requests) }()

	current := a
	debouncer := refresh.NewDebouncer(s.settings.Bridge.Debounce, func(next quoteArgs) {
		resolveCtx, cancel := context.WithTimeout(ctx, s.settings.Timeout)
		defer cancel()
		r, err := s.resolveQuoteRequest(resolveCtx, next)
		if err != nil {
			w.emitError(err)
			return
		}
		w.send(ctx, r)
	})
	defer debouncer.Cancel()

	w.send(ctx, req)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.runner.stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case err := <-done:
			w.close()
			return watchExit(err)
		case line, ok := <-lines:
			if !ok {
				// Flush also waits out a forward already in progress.
				debouncer.Flush()
				w.close()
				lines = nil
				continue
			}
			key, value, found := strings.Cut(strings.TrimSpace(line), "=")
			if !found {
				if strings.TrimSpace(line) != "" {
					w.emitError(clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid edit %q; expected key=value", line)))
				}
				continue
			}
			key, value = strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(value)
			switch key {
			case "sort":
				order, err := quote.ParseSortOrder(value)
				if err != nil {
					w.emitError(clierr.Wrap(clierr.CodeUsage, "parse sort order", err))
					continue
				}
				w.engine.SetSortOrder(order)
				w.emit(nil, nil, false, cacheMetaBypass())
			case "select":
				if value == "" {
					w.engine.SelectQuote(nil)
				} else if !w.engine.SelectByKey(value) {
					w.emitError(clierr.New(clierr.CodeUsage, fmt.Sprintf("no quote matches %q", value)))
					continue
				}
				w.emit(nil, nil, false, cacheMetaBypass())
			default:
				if err := applyEdit(&current, key, value); err != nil {
					w.emitError(err)
					continue
				}
				debouncer.Push(current)
			}
		}
	}
}

// applyEdit updates one request field. Amount edits replace the other amount
// form so the two never conflict.
func applyEdit(a *quoteArgs, key, value string) error {
	switch key {
	case "amount":
		a.amount, a.amountDecimal = value, ""
	case "amount-decimal":
		a.amount, a.amountDecimal = "", value
	case "asset":
		a.asset = value
	case "to-asset":
		a.toAsset = value
	case "from":
		a.fromChain = value
	case "to":
		a.toChain = value
	case "account":
		a.account = value
	case "slippage-bps":
		bps, err := strconv.ParseInt(value, 10, 64)
		if err != nil || bps < 0 {
			return clierr.New(clierr.CodeUsage, "slippage-bps must be a non-negative integer")
		}
		a.slippageBps = bps
	default:
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown edit key %q", key))
	}
	return nil
}

func (w *watchSession) send(ctx context.Context, r fetch.Request) {
	w.reqMu.Lock()
	defer w.reqMu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.requests <- r:
	case <-ctx.Done():
	}
}

func (w *watchSession) close() {
	w.reqMu.Lock()
	defer w.reqMu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.requests)
	}
}

func (w *watchSession) onCycle(ctx context.Context, c fetch.Cycle) {
	if sender := c.Request.Quote.Sender; sender != "" {
		balCtx, cancel := context.WithTimeout(ctx, w.state.settings.Timeout)
		b := fetch.Balances(balCtx, w.state.balances, sender, c.Request.Model.SrcToken, w.log)
		cancel()
		w.balMu.Lock()
		w.balances = b
		w.balMu.Unlock()
	} else {
		w.balMu.Lock()
		w.balances = validation.Balances{}
		w.balMu.Unlock()
	}
	warnings := append([]string(nil), c.Batch.Warnings...)
	if c.Err != nil {
		warnings = append(warnings, c.Err.Error())
	}
	cache := c.Batch.Cache
	if cache.Status == "" {
		cache = cacheMetaBypass()
	}
	w.emit(warnings, c.Batch.Providers, c.Batch.Partial, cache)
}

func (w *watchSession) emit(warnings []string, providers []model.ProviderStatus, partial bool, cache model.CacheStatus) {
	snap := w.engine.Snapshot()
	w.balMu.Lock()
	b := w.balances
	w.balMu.Unlock()
	decision := snap.Decide(b)
	if !decision.Submittable {
		w.state.metrics.RecordBlocked(string(decision.Reason))
	}
	view := w.viewer.session(snap, &decision, w.state.runner.now())
	env := w.state.successEnvelope(w.path, view, warnings, cache, providers, partial)

	w.outMu.Lock()
	defer w.outMu.Unlock()
	if err := out.RenderLine(w.state.runner.stdout, env, w.state.settings); err != nil {
		w.log.WithError(err).Error("write session update")
	}
}

// emitError reports a rejected edit on stderr and keeps the session alive.
func (w *watchSession) emitError(err error) {
	w.outMu.Lock()
	defer w.outMu.Unlock()
	w.state.renderError(w.path, err, nil, nil, false)
}

func (s *runtimeState) serveMetrics(addr string) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "listen for metrics", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger().WithError(err).Error("metrics server stopped")
		}
	}()
	s.logger().WithField("addr", ln.Addr().String()).Info("serving metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func watchExit(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
