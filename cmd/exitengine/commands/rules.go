package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wonny/aegis/exitengine/internal/strategyconfig"
	"github.com/wonny/aegis/exitengine/pkg/config"
)

// rulesCmd represents the rules command
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "청산 규칙 파일 관리",
	Long: `청산 규칙 YAML 파일을 검증하거나 기본 규칙을 출력합니다.

Subcommands:
  check   - 규칙 파일 검증 + 해시 출력
  show    - 적용될 규칙을 YAML 로 출력

Example:
  go run ./cmd/exitengine rules check ./rules.yaml
  go run ./cmd/exitengine rules show > rules.yaml`,
}

var (
	rulesCheckCmd = &cobra.Command{
		Use:   "check [file]",
		Short: "규칙 파일 검증",
		Args:  cobra.ExactArgs(1),
		RunE:  checkRules,
	}

	rulesShowCmd = &cobra.Command{
		Use:   "show",
		Short: "적용될 규칙 출력",
		RunE:  showRules,
	}
)

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesCheckCmd)
	rulesCmd.AddCommand(rulesShowCmd)
}

func checkRules(cmd *cobra.Command, args []string) error {
	cfg, data, err := strategyconfig.Load(args[0])
	if err != nil {
		return err
	}
	snap, err := strategyconfig.NewRulesSnapshot(cfg, data)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✅ %s is valid\n", args[0])
	fmt.Fprintf(out, "   Rules ID : %s\n", snap.RulesID)
	fmt.Fprintf(out, "   Version  : %s\n", snap.Version)
	fmt.Fprintf(out, "   Hash     : %s\n", snap.ConfigHash)

	for _, w := range strategyconfig.Warn(cfg) {
		fmt.Fprintf(out, "⚠️  [%s] %s\n", w.Code, w.Message)
	}
	return nil
}

func showRules(cmd *cobra.Command, args []string) error {
	engineCfg := config.EngineConfig{RulesFile: rulesFile}
	if rulesFile == "" {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		engineCfg = cfg.Engine
	}

	rules, _, err := loadRules(engineCfg)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(rules)
}

// loadRules reads the rules file (or the built-in default) and applies the
// PURE_RULE_MODE and TICK_INTERVAL environment overrides
func loadRules(engineCfg config.EngineConfig) (*strategyconfig.Config, *strategyconfig.RulesSnapshot, error) {
	var (
		rules *strategyconfig.Config
		data  []byte
		err   error
	)

	path := engineCfg.RulesFile
	if rulesFile != "" {
		path = rulesFile
	}

	if path != "" {
		rules, data, err = strategyconfig.Load(path)
		if err != nil {
			return nil, nil, err
		}
	} else {
		rules = strategyconfig.Default()
	}

	overridden := false
	if engineCfg.PureRuleSet {
		rules.Exit.PureRuleMode = engineCfg.PureRuleMode
		overridden = true
	}
	if engineCfg.TickSet {
		rules.Exit.TickInterval = engineCfg.TickInterval
		overridden = true
	}
	if overridden {
		if err := strategyconfig.Validate(rules); err != nil {
			return nil, nil, err
		}
		// 스냅샷 YAML 은 파일 원문이 아닌 실제 적용값
		data = nil
	}

	if data == nil {
		if data, err = yaml.Marshal(rules); err != nil {
			return nil, nil, fmt.Errorf("marshal rules: %w", err)
		}
	}

	snap, err := strategyconfig.NewRulesSnapshot(rules, data)
	if err != nil {
		return nil, nil, err
	}
	return rules, snap, nil
}
