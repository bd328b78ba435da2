package safety

import (
	"context"
	"strings"
	"time"

	"github.com/GoPolymarket/polypilot/internal/config"
	"github.com/GoPolymarket/polypilot/internal/pkg/logger"
)

// Mode is the trading mode a worker instance runs in.
type Mode string

const (
	ModeMock    Mode = "mock"    // no real orders, synthetic fills
	ModeGamma   Mode = "gamma"   // sandbox live API
	ModeMainnet Mode = "mainnet" // real money
)

func ParseMode(raw string) Mode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeGamma):
		return ModeGamma
	case string(ModeMainnet):
		return ModeMainnet
	default:
		return ModeMock
	}
}

// Diagnostics is the wallet/API health report gathered before live mode
// is allowed to engage.
type Diagnostics struct {
	WalletAddress string
	BalanceUSDC   float64
	NetworkOK     bool
	APIKeysOK     bool
	CheckedAt     time.Time
	Err           string
}

func (d Diagnostics) Healthy() bool {
	return d.NetworkOK && d.APIKeysOK && d.Err == ""
}

// Diagnoser runs the wallet diagnostics. Injected so tests can fake it.
type Diagnoser interface {
	Check(ctx context.Context) Diagnostics
}

// Controller holds the effective trading mode for the life of the process.
// It is computed exactly once at startup and read-only afterward; signal
// processing never mutates it. Any diagnostic failure forces mock:
// fail-safe, never fail-open.
type Controller struct {
	configured Mode
	effective  Mode
	confirmed  bool
	diag       Diagnostics
}

// New computes the effective mode. Leaving mock requires both an explicit
// operator confirmation flag and passing wallet diagnostics.
func New(ctx context.Context, cfg config.SafetyConfig, diagnoser Diagnoser) *Controller {
	log := logger.Component("safety")
	configured := ParseMode(cfg.Mode)

	c := &Controller{
		configured: configured,
		effective:  ModeMock,
	}

	if configured == ModeMock {
		log.Info("trading mode mock (configured)")
		return c
	}

	if !cfg.ConfirmLive {
		log.Warn("live mode configured but not confirmed, forcing mock",
			"configured", string(configured))
		return c
	}

	if diagnoser == nil {
		log.Warn("live mode configured but no diagnoser wired, forcing mock")
		return c
	}

	timeout := time.Duration(cfg.DiagTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	diagCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	diag := diagnoser.Check(diagCtx)
	c.diag = diag

	if !diag.Healthy() {
		log.Warn("wallet diagnostics failed, forcing mock",
			"configured", string(configured),
			"network_ok", diag.NetworkOK,
			"api_keys_ok", diag.APIKeysOK,
			"error", diag.Err)
		return c
	}

	if cfg.MinBalanceUSDC > 0 && diag.BalanceUSDC < cfg.MinBalanceUSDC {
		log.Warn("wallet balance below minimum, forcing mock",
			"balance_usdc", diag.BalanceUSDC,
			"min_usdc", cfg.MinBalanceUSDC)
		return c
	}

	c.effective = configured
	c.confirmed = true
	log.Info("live trading confirmed",
		"mode", string(configured),
		"wallet", diag.WalletAddress,
		"balance_usdc", diag.BalanceUSDC)
	return c
}

// Mock returns a controller pinned to mock mode, for tests and tooling.
func Mock() *Controller {
	return &Controller{configured: ModeMock, effective: ModeMock}
}

func (c *Controller) EffectiveMode() Mode {
	return c.effective
}

func (c *Controller) ConfiguredMode() Mode {
	return c.configured
}

func (c *Controller) IsLiveConfirmed() bool {
	return c.confirmed
}

func (c *Controller) Diagnostics() Diagnostics {
	return c.diag
}
