package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/external/exchange"
	"github.com/wonny/aegis/exitengine/internal/volatility"
	"github.com/wonny/aegis/exitengine/pkg/config"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// profileCmd builds tolerance profiles from live exchange candles
var profileCmd = &cobra.Command{
	Use:   "profile [symbol...]",
	Short: "변동성 프로필 조회",
	Long: `거래소 캔들로 ATR% 와 레짐, 배수, 허용오차를 계산합니다.

Example:
  go run ./cmd/exitengine profile BTCUSDT ETHUSDT`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProfile,
}

func init() {
	rootCmd.AddCommand(profileCmd)
}

func runProfile(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.Nop()
	if verbose {
		log = logger.New(cfg)
	}

	builder := volatility.NewBuilder(exchange.NewClient(cfg.Exchange, log), nil, time.Minute, log)

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	out := cmd.OutOrStdout()
	for _, symbol := range args {
		p, err := builder.Build(ctx, strings.ToUpper(symbol))
		if err != nil {
			fmt.Fprintf(out, "⚠️  %s: %v\n", symbol, err)
		}
		printProfile(out, p)
	}
	return nil
}

func printProfile(w io.Writer, p *contracts.ToleranceProfile) {
	source := "candles"
	if p.Fallback {
		source = "default"
	}
	fmt.Fprintf(w, "📊 %s (%s)\n", p.Symbol, source)
	fmt.Fprintf(w, "   ATR%%     : %.4f\n", p.ATRPercent)
	fmt.Fprintf(w, "   Regime   : %s\n", p.Regime)
	fmt.Fprintf(w, "   TP/SL    : x%.2f / x%.2f\n", p.TPMult, p.SLMult)
	fmt.Fprintf(w, "   Trail/BE : x%.2f / x%.2f\n", p.TrailMult, p.BEMult)
	fmt.Fprintf(w, "   Touch    : %.4f%%  Close: %.4f%%\n", p.TouchTolerancePct, p.CloseTolerancePct)
	fmt.Fprintln(w)
}
