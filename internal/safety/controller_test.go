package safety

import (
	"context"
	"testing"
	"time"

	"github.com/GoPolymarket/polypilot/internal/config"
	"github.com/stretchr/testify/assert"
)

type fakeDiagnoser struct {
	diag Diagnostics
}

func (f *fakeDiagnoser) Check(context.Context) Diagnostics {
	return f.diag
}

func healthyDiag() Diagnostics {
	return Diagnostics{
		WalletAddress: "0xabc",
		BalanceUSDC:   250,
		NetworkOK:     true,
		APIKeysOK:     true,
		CheckedAt:     time.Now(),
	}
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeMock, ParseMode("mock"))
	assert.Equal(t, ModeGamma, ParseMode("GAMMA"))
	assert.Equal(t, ModeMainnet, ParseMode(" mainnet "))
	assert.Equal(t, ModeMock, ParseMode("production")) // unknown falls back to mock
	assert.Equal(t, ModeMock, ParseMode(""))
}

func TestControllerMockConfigured(t *testing.T) {
	c := New(context.Background(), config.SafetyConfig{Mode: "mock"}, &fakeDiagnoser{diag: healthyDiag()})
	assert.Equal(t, ModeMock, c.EffectiveMode())
	assert.False(t, c.IsLiveConfirmed())
}

func TestControllerLiveWithoutConfirmationForcesMock(t *testing.T) {
	cfg := config.SafetyConfig{Mode: "mainnet", ConfirmLive: false}
	c := New(context.Background(), cfg, &fakeDiagnoser{diag: healthyDiag()})
	assert.Equal(t, ModeMock, c.EffectiveMode())
	assert.Equal(t, ModeMainnet, c.ConfiguredMode())
	assert.False(t, c.IsLiveConfirmed())
}

func TestControllerDiagnosticsFailureForcesMock(t *testing.T) {
	diag := healthyDiag()
	diag.NetworkOK = false
	diag.Err = "rpc unreachable"

	cfg := config.SafetyConfig{Mode: "mainnet", ConfirmLive: true}
	c := New(context.Background(), cfg, &fakeDiagnoser{diag: diag})
	assert.Equal(t, ModeMock, c.EffectiveMode())
	assert.False(t, c.IsLiveConfirmed())
}

func TestControllerLowBalanceForcesMock(t *testing.T) {
	diag := healthyDiag()
	diag.BalanceUSDC = 3

	cfg := config.SafetyConfig{Mode: "mainnet", ConfirmLive: true, MinBalanceUSDC: 10}
	c := New(context.Background(), cfg, &fakeDiagnoser{diag: diag})
	assert.Equal(t, ModeMock, c.EffectiveMode())
}

func TestControllerNoDiagnoserForcesMock(t *testing.T) {
	cfg := config.SafetyConfig{Mode: "mainnet", ConfirmLive: true}
	c := New(context.Background(), cfg, nil)
	assert.Equal(t, ModeMock, c.EffectiveMode())
}

func TestControllerConfirmedLive(t *testing.T) {
	cfg := config.SafetyConfig{Mode: "mainnet", ConfirmLive: true, MinBalanceUSDC: 10}
	c := New(context.Background(), cfg, &fakeDiagnoser{diag: healthyDiag()})
	assert.Equal(t, ModeMainnet, c.EffectiveMode())
	assert.True(t, c.IsLiveConfirmed())
	assert.Equal(t, 250.0, c.Diagnostics().BalanceUSDC)
}

func TestMockHelper(t *testing.T) {
	c := Mock()
	assert.Equal(t, ModeMock, c.EffectiveMode())
	assert.False(t, c.IsLiveConfirmed())
}
