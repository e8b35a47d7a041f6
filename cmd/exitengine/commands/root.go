package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	rulesFile string
	verbose   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "exitengine",
	Short: "Adaptive position exit engine",
	Long: `Adaptive Position Exit Engine

레버리지 포지션을 틱마다 평가하여 달러 목표, 보호 플로어,
트레일링 스탑, 손절 규칙에 따라 시장가로 청산합니다.

Usage:
  go run ./cmd/exitengine [command]

Examples:
  go run ./cmd/exitengine run
  go run ./cmd/exitengine rules check ./rules.yaml
  go run ./cmd/exitengine targets --side long --entry 50000 --qty 0.02 --leverage 10`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rulesFile, "rules", "", "exit rules YAML file (default: EXIT_RULES_FILE or built-in rules)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
