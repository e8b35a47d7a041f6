package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/exit"
	"github.com/wonny/aegis/exitengine/pkg/config"
)

func TestBuildLadder_PureRules(t *testing.T) {
	cfg := contracts.DefaultExitRulesConfig()
	cfg.PureRuleMode = true
	eng, err := exit.NewEngine(cfg)
	require.NoError(t, err)

	now := time.Now()
	p, err := eng.Open("preview", contracts.OpenRequest{
		Symbol: "BTCUSDT", Side: contracts.SideLong, EntryPrice: 50000, Quantity: 0.02, Leverage: 10,
	}, contracts.DefaultToleranceProfile("BTCUSDT", now), now)
	require.NoError(t, err)

	rows, err := buildLadder(eng, p)
	require.NoError(t, err)

	// take profit, steps 100..10, absolute floor, stop loss
	require.Len(t, rows, 13)
	assert.Equal(t, ladderRow{"take profit", 150, 57900}, rows[0])
	assert.Equal(t, ladderRow{"floor step", 100, 55400}, rows[1])
	assert.Equal(t, ladderRow{"floor step", 10, 50900}, rows[10])
	assert.Equal(t, ladderRow{"absolute floor", 7, 50750}, rows[11])
	assert.Equal(t, "stop loss", rows[12].Label)
	assert.Equal(t, 49500.0, rows[12].Price)
	assert.InDelta(t, -18.0, rows[12].NetUSD, 1e-9)

	var buf bytes.Buffer
	printLadder(&buf, p, rows)
	assert.Contains(t, buf.String(), "BTCUSDT LONG")
	assert.Contains(t, buf.String(), "@ 50750.0000")
}

func TestLoadRules_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("meta:\n  rules_id: scalp\n  version: \"2\"\nexit:\n  primary_target_usd: 80\n"), 0o600))

	rules, snap, err := loadRules(config.EngineConfig{RulesFile: path})
	require.NoError(t, err)
	assert.Equal(t, 80.0, rules.Exit.PrimaryTargetUSD)
	assert.False(t, rules.Exit.PureRuleMode)
	assert.Equal(t, "scalp", snap.RulesID)
	assert.Contains(t, snap.ConfigYAML, "primary_target_usd: 80")

	overridden, snap2, err := loadRules(config.EngineConfig{
		RulesFile:    path,
		PureRuleMode: true, PureRuleSet: true,
		TickInterval: 2 * time.Second, TickSet: true,
	})
	require.NoError(t, err)
	assert.True(t, overridden.Exit.PureRuleMode)
	assert.Equal(t, 2*time.Second, overridden.Exit.TickInterval)
	assert.NotEqual(t, snap.ConfigHash, snap2.ConfigHash)
	assert.Contains(t, snap2.ConfigYAML, "pure_rule_mode: true")
}

func TestLoadRules_Default(t *testing.T) {
	rules, snap, err := loadRules(config.EngineConfig{})
	require.NoError(t, err)
	assert.Equal(t, "default", rules.Meta.RulesID)
	assert.NotEmpty(t, snap.ConfigHash)
}

func TestCheckRules_RejectsUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("meta:\n  rules_id: x\nexit:\n  primary_target: 80\n"), 0o600))

	err := checkRules(rulesCheckCmd, []string{path})
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrConfiguration)
}

func TestPrintProfile(t *testing.T) {
	var buf bytes.Buffer
	printProfile(&buf, contracts.DefaultToleranceProfile("ETHUSDT", time.Now()))

	out := buf.String()
	assert.Contains(t, out, "ETHUSDT (default)")
	assert.Contains(t, out, "Regime   : NORMAL")
}
