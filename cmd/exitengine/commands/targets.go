package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/exit"
	"github.com/wonny/aegis/exitengine/internal/volatility"
	"github.com/wonny/aegis/exitengine/pkg/config"
)

// targetsCmd prints the exit price ladder for a hypothetical entry
var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "진입 조건별 청산 가격표 출력",
	Long: `진입가/수량/레버리지로 목표가, 플로어 단계별 가격, 손절가를 계산합니다.

Example:
  go run ./cmd/exitengine targets --side long --entry 50000 --qty 0.02 --leverage 10
  go run ./cmd/exitengine targets --side short --entry 3000 --qty 1 --atr 1.8`,
	RunE: runTargets,
}

var (
	targetSymbol   string
	targetSide     string
	targetEntry    float64
	targetQty      float64
	targetLeverage float64
	targetATR      float64
)

func init() {
	rootCmd.AddCommand(targetsCmd)

	targetsCmd.Flags().StringVar(&targetSymbol, "symbol", "BTCUSDT", "symbol")
	targetsCmd.Flags().StringVar(&targetSide, "side", "long", "long|short (buy/sell accepted)")
	targetsCmd.Flags().Float64Var(&targetEntry, "entry", 0, "entry price")
	targetsCmd.Flags().Float64Var(&targetQty, "qty", 0, "quantity")
	targetsCmd.Flags().Float64Var(&targetLeverage, "leverage", 1, "leverage")
	targetsCmd.Flags().Float64Var(&targetATR, "atr", 0, "ATR percent for the tolerance profile (0 = default profile)")
	_ = targetsCmd.MarkFlagRequired("entry")
	_ = targetsCmd.MarkFlagRequired("qty")
}

// ladderRow one price level of the exit ladder
type ladderRow struct {
	Label  string
	NetUSD float64
	Price  float64
}

func runTargets(cmd *cobra.Command, args []string) error {
	side, err := contracts.ParseSide(targetSide)
	if err != nil {
		return err
	}

	rules, _, err := loadRules(config.EngineConfig{RulesFile: rulesFile})
	if err != nil {
		return err
	}
	eng, err := exit.NewEngine(&rules.Exit)
	if err != nil {
		return err
	}

	now := time.Now()
	profile := contracts.DefaultToleranceProfile(targetSymbol, now)
	if targetATR > 0 {
		profile = contracts.NewToleranceProfile(targetSymbol, targetATR, volatility.Classify(targetATR), now)
	}

	p, err := eng.Open("preview", contracts.OpenRequest{
		Symbol:     strings.ToUpper(targetSymbol),
		Side:       side,
		EntryPrice: targetEntry,
		Quantity:   targetQty,
		Leverage:   targetLeverage,
	}, profile, now)
	if err != nil {
		return err
	}

	ladder, err := buildLadder(eng, p)
	if err != nil {
		return err
	}
	printLadder(cmd.OutOrStdout(), p, ladder)
	return nil
}

// buildLadder lists the take-profit price, every floor step up to the cap and the stop,
// highest net PnL first
func buildLadder(eng *exit.Engine, p *contracts.Position) ([]ladderRow, error) {
	cfg := eng.Config
	rows := []ladderRow{{Label: "take profit", NetUSD: p.PrimaryTargetUSD, Price: p.TakeProfitPrice}}

	var steps []float64
	if cfg.TrailingIncrementUSD > 0 {
		for s := cfg.TrailingCapUSD; s > cfg.AbsoluteFloorUSD; s -= cfg.TrailingIncrementUSD {
			if s < p.PrimaryTargetUSD {
				steps = append(steps, s)
			}
		}
	}
	steps = append(steps, p.AbsoluteFloorUSD)

	for i, s := range steps {
		price, err := eng.Calc.PriceForDollarTarget(p, s)
		if err != nil {
			return nil, err
		}
		label := "floor step"
		if i == len(steps)-1 {
			label = "absolute floor"
		}
		rows = append(rows, ladderRow{Label: label, NetUSD: s, Price: price})
	}

	rows = append(rows, ladderRow{Label: "stop loss", NetUSD: -(p.StopLossUSD + eng.Calc.FeeBuffer(p)), Price: p.StopLossPrice})
	return rows, nil
}

func printLadder(w io.Writer, p *contracts.Position, rows []ladderRow) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "  %s %s  entry %.2f  qty %g  x%g\n", p.Symbol, p.Side, p.EntryPrice, p.Quantity, p.Leverage)
	fmt.Fprintf(w, "  notional %.2f  regime %s\n", p.Notional, p.Regime)
	fmt.Fprintln(w, "───────────────────────────────────────────────────────────")
	for _, r := range rows {
		fmt.Fprintf(w, "  %-15s %+10.2f USD  @ %.4f\n", r.Label, r.NetUSD, r.Price)
	}
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")
}
