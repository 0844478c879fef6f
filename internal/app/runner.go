package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/xbridge/internal/balance"
	"github.com/ggonzalez94/xbridge/internal/cache"
	"github.com/ggonzalez94/xbridge/internal/config"
	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/gas"
	"github.com/ggonzalez94/xbridge/internal/httpx"
	"github.com/ggonzalez94/xbridge/internal/logx"
	"github.com/ggonzalez94/xbridge/internal/metrics"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/out"
	"github.com/ggonzalez94/xbridge/internal/policy"
	"github.com/ggonzalez94/xbridge/internal/providers"
	"github.com/ggonzalez94/xbridge/internal/providers/across"
	"github.com/ggonzalez94/xbridge/internal/providers/bungee"
	"github.com/ggonzalez94/xbridge/internal/providers/defillama"
	"github.com/ggonzalez94/xbridge/internal/providers/lifi"
	"github.com/ggonzalez94/xbridge/internal/schema"
	"github.com/ggonzalez94/xbridge/internal/version"
)

type Runner struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithIO(os.Stdin, os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return NewRunnerWithIO(strings.NewReader(""), stdout, stderr)
}

func NewRunnerWithIO(stdin io.Reader, stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

// balanceReader reads balances and resolves metadata of tokens missing from
// the bootstrap registry.
type balanceReader interface {
	providers.BalanceProvider
	TokenMetadata(ctx context.Context, chainID int64, address string) (model.Token, error)
}

type runtimeState struct {
	runner        *Runner
	flags         config.GlobalFlags
	settings      config.Settings
	cache         *cache.Store
	root          *cobra.Command
	log           *logrus.Logger
	metrics       *metrics.Metrics
	networks      policy.Networks
	lastCommand   string
	lastWarnings  []string
	lastProviders []model.ProviderStatus
	lastPartial   bool

	quoteProviders map[string]providers.QuoteProvider
	quoteOrder     []string
	priceProvider  providers.PriceProvider
	gasProvider    providers.GasProvider
	balances       balanceReader
	tokenLister    providers.TokenLister
	providerInfos  []model.ProviderInfo
}

func (r *Runner) Run(args []string) int {
	return r.execute(&runtimeState{runner: r}, args)
}

func (r *Runner) execute(state *runtimeState, args []string) int {
	root := state.newRootCommand()
	state.root = root
	state.resetCommandDiagnostics()
	root.SetArgs(args)
	root.SetIn(r.stdin)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := normalizeRunError(root.Execute())
	if state.cache != nil {
		_ = state.cache.Close()
	}
	if err == nil {
		return 0
	}
	state.renderError("", err, state.lastWarnings, state.lastProviders, state.lastPartial)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Cross-chain bridge quote ranking and validation CLI",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			if err := policy.CheckCommandAllowed(settings.EnableCommands, path); err != nil {
				return err
			}
			if s.networks, err = loadNetworks(settings.Bridge); err != nil {
				return err
			}

			if s.log == nil {
				logger, err := logx.New(settings.LogLevel, settings.LogFormat, s.runner.stderr)
				if err != nil {
					return clierr.Wrap(clierr.CodeUsage, "configure logging", err)
				}
				s.log = logger
			}
			if s.metrics == nil {
				s.metrics = metrics.New()
			}
			if s.quoteProviders == nil {
				s.initProviders()
			}

			if settings.CacheEnabled && shouldOpenCache(path) && s.cache == nil {
				cacheStore, err := cache.Open(settings.CachePath, settings.CacheLockPath)
				if err != nil {
					return clierr.Wrap(clierr.CodeInternal, "open cache", err)
				}
				s.cache = cacheStore
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated, dotted paths allowed)")
	cmd.PersistentFlags().BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	cmd.PersistentFlags().StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	cmd.PersistentFlags().BoolVar(&s.flags.Strict, "strict", false, "Fail on partial results and unknown balances")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Provider request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per provider request")
	cmd.PersistentFlags().StringVar(&s.flags.MaxStale, "max-stale", "", "Maximum stale fallback window after TTL expiry")
	cmd.PersistentFlags().BoolVar(&s.flags.NoStale, "no-stale", false, "Reject stale cache entries")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable cache reads and writes")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&s.flags.LogFormat, "log-format", "", "Log format (text|json)")

	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(s.newProvidersCommand())
	cmd.AddCommand(s.newChainsCommand())
	cmd.AddCommand(s.newTokensCommand())
	cmd.AddCommand(s.newQuotesCommand())
	cmd.AddCommand(s.newValidateCommand())
	cmd.AddCommand(s.newWatchCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func (s *runtimeState) initProviders() {
	httpClient := httpx.New(s.settings.Timeout, s.settings.Retries).WithObserver(s.metrics.ObserveHTTP)
	urls := s.settings.ProviderURLs
	lifiProvider := lifi.New(httpClient, s.settings.LiFiAPIKey).WithBaseURL(urls["lifi"])
	acrossProvider := across.New(httpClient).WithBaseURL(urls["across"])
	bungeeProvider := bungee.New(httpClient, s.settings.BungeeAPIKey, s.settings.BungeeAffiliate).WithBaseURL(urls["bungee"])
	llama := defillama.New(httpClient).WithBaseURL(urls["defillama"])
	gasSource := gas.NewRPCSource(s.settings.RPCURLs)
	reader := balance.NewRPCReader(s.settings.RPCURLs)

	s.quoteProviders = map[string]providers.QuoteProvider{
		"lifi":   lifiProvider,
		"across": acrossProvider,
		"bungee": bungeeProvider,
	}
	s.quoteOrder = []string{"lifi", "across", "bungee"}
	s.priceProvider = llama
	s.gasProvider = gasSource
	s.balances = reader
	s.tokenLister = lifiProvider
	s.providerInfos = []model.ProviderInfo{
		lifiProvider.Info(),
		acrossProvider.Info(),
		bungeeProvider.Info(),
		llama.Info(),
		gasSource.Info(),
		reader.Info(),
	}
}

func loadNetworks(b config.Bridge) (policy.Networks, error) {
	src, err := policy.ParseNetworks(b.SrcNetworks)
	if err != nil {
		return policy.Networks{}, clierr.Wrap(clierr.CodeUsage, "parse bridge.src_networks", err)
	}
	dst, err := policy.ParseNetworks(b.DestNetworks)
	if err != nil {
		return policy.Networks{}, clierr.Wrap(clierr.CodeUsage, "parse bridge.dest_networks", err)
	}
	return policy.Networks{Source: src, Destination: dst}, nil
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), nil, false)
		},
	}
}

func (s *runtimeState) newProvidersCommand() *cobra.Command {
	root := &cobra.Command{Use: "providers", Short: "Provider commands"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List quote, price, gas and balance sources with API key metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), s.providerInfos, nil, cacheMetaBypass(), nil, false)
		},
	}
	root.AddCommand(list)
	return root
}

func (s *runtimeState) newChainsCommand() *cobra.Command {
	root := &cobra.Command{Use: "chains", Short: "Chain commands"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List supported chains and whether they are allowed as source or destination",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := s.networks.Chains()
			data := make([]model.ChainInfo, 0, len(entries))
			for _, e := range entries {
				data = append(data, model.ChainInfo{
					ChainID:      e.Chain.EVMChainID,
					CAIP2:        e.Chain.CAIP2,
					Name:         e.Chain.Name,
					Slug:         e.Chain.Slug,
					NativeSymbol: e.Chain.NativeSymbol,
					Source:       e.Source,
					Destination:  e.Destination,
				})
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), nil, false)
		},
	}
	root.AddCommand(list)
	return root
}

type fetchFn func(ctx context.Context) (data any, providerStatus []model.ProviderStatus, warnings []string, partial bool, err error)

func (s *runtimeState) runCachedCommand(commandPath, key string, ttl time.Duration, fetch fetchFn) error {
	s.resetCommandDiagnostics()
	cacheStatus := cacheMetaMiss()
	warnings := []string{}
	var staleData any
	staleAvailable := false
	staleObservedAge := time.Duration(0)
	staleObservedAt := time.Time{}
	staleCacheStatus := cacheMetaMiss()

	if s.settings.CacheEnabled && s.cache != nil {
		cached, err := s.cache.Get(key, s.settings.MaxStale)
		if err == nil && cached.Hit {
			entryStatus := model.CacheStatus{Status: "hit", AgeMS: cached.Age.Milliseconds(), Stale: cached.Stale}
			var data any
			if err := json.Unmarshal(cached.Value, &data); err == nil {
				if !cached.Stale {
					s.captureCommandDiagnostics(warnings, nil, false)
					return s.emitSuccess(commandPath, data, warnings, entryStatus, nil, false)
				}
				staleData = data
				staleAvailable = true
				staleObservedAge = cached.Age
				staleObservedAt = time.Now()
				staleCacheStatus = entryStatus
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
	defer cancel()
	data, providerStatus, providerWarnings, partial, err := fetch(ctx)
	warnings = append(warnings, providerWarnings...)
	s.captureCommandDiagnostics(warnings, providerStatus, partial)
	if err != nil {
		if !staleAvailable || !staleFallbackAllowed(err) {
			return err
		}
		currentStaleAge := staleObservedAge + time.Since(staleObservedAt)
		staleCacheStatus.AgeMS = currentStaleAge.Milliseconds()
		if s.settings.NoStale {
			return clierr.Wrap(clierr.CodeStale, "fresh provider fetch failed and stale fallback is disabled (--no-stale)", err)
		}
		if staleExceedsBudget(currentStaleAge, ttl, s.settings.MaxStale) {
			return clierr.Wrap(clierr.CodeStale, "fresh provider fetch failed and cached data exceeded stale budget", err)
		}
		warnings = append(warnings, "provider fetch failed; serving stale data within max-stale budget")
		s.captureCommandDiagnostics(warnings, providerStatus, false)
		return s.emitSuccess(commandPath, staleData, warnings, staleCacheStatus, providerStatus, false)
	}

	if partial && s.settings.Strict {
		return clierr.New(clierr.CodePartialStrict, "partial results returned in strict mode")
	}

	if s.settings.CacheEnabled && s.cache != nil {
		if payload, err := json.Marshal(data); err == nil {
			if err := s.cache.Set(key, payload, ttl); err == nil {
				cacheStatus = model.CacheStatus{Status: "write"}
			}
		}
	}

	return s.emitSuccess(commandPath, data, warnings, cacheStatus, providerStatus, partial)
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, cacheStatus model.CacheStatus, providers []model.ProviderStatus, partial bool) error {
	return out.Render(s.runner.stdout, s.successEnvelope(commandPath, data, warnings, cacheStatus, providers, partial), s.settings)
}

func (s *runtimeState) successEnvelope(commandPath string, data any, warnings []string, cacheStatus model.CacheStatus, providers []model.ProviderStatus, partial bool) model.Envelope {
	return model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Providers: providers,
			Cache:     cacheStatus,
			Partial:   partial,
		},
	}
}

func (s *runtimeState) renderError(commandPath string, err error, warnings []string, providers []model.ProviderStatus, partial bool) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := clierr.CodeInternal.Type()
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		typ = cErr.Code.Type()
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Providers: providers,
			Cache:     cacheMetaBypass(),
			Partial:   partial,
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func (s *runtimeState) logger() logrus.FieldLogger {
	if s.log == nil {
		return logx.Discard()
	}
	return s.log.WithField("command", s.lastCommand)
}

func cacheKey(commandPath string, req any) string {
	buf, _ := json.Marshal(req)
	sum := sha256.Sum256(append([]byte(commandPath+"|"), buf...))
	return hex.EncodeToString(sum[:])
}

func newRequestID() string {
	return uuid.NewString()
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		norm := strings.ToLower(strings.TrimSpace(part))
		if norm != "" {
			out = append(out, norm)
		}
	}
	return out
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func statusFromErr(err error) string {
	if err == nil {
		return "ok"
	}
	if cErr, ok := clierr.As(err); ok {
		switch cErr.Code {
		case clierr.CodeAuth:
			return "auth_error"
		case clierr.CodeRateLimited:
			return "rate_limited"
		case clierr.CodeUnavailable:
			return "unavailable"
		}
	}
	return "error"
}

func cacheMetaBypass() model.CacheStatus {
	return model.CacheStatus{Status: "bypass"}
}

func cacheMetaMiss() model.CacheStatus {
	return model.CacheStatus{Status: "miss"}
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func staleExceedsBudget(age, ttl, maxStale time.Duration) bool {
	if age <= ttl || maxStale < 0 {
		return false
	}
	return age > ttl+maxStale
}

func staleFallbackAllowed(err error) bool {
	cErr, ok := clierr.As(err)
	if !ok {
		return false
	}
	return cErr.Code == clierr.CodeUnavailable || cErr.Code == clierr.CodeRateLimited
}

func shouldOpenCache(commandPath string) bool {
	switch normalizeCommandPath(commandPath) {
	case "", "version", "schema", "providers", "providers list", "chains", "chains list":
		return false
	default:
		return true
	}
}

func normalizeCommandPath(commandPath string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(commandPath))), " ")
}

func (s *runtimeState) resetCommandDiagnostics() {
	s.lastWarnings = nil
	s.lastProviders = nil
	s.lastPartial = false
}

func (s *runtimeState) captureCommandDiagnostics(warnings []string, providers []model.ProviderStatus, partial bool) {
	if len(warnings) == 0 {
		s.lastWarnings = nil
	} else {
		s.lastWarnings = append([]string(nil), warnings...)
	}
	if len(providers) == 0 {
		s.lastProviders = nil
	} else {
		s.lastProviders = append([]model.ProviderStatus(nil), providers...)
	}
	s.lastPartial = partial
}
