package risk

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/pairstrader/internal/book"
	"github.com/alanyoungcy/pairstrader/internal/domain"
)

// Gate runs the three pre-trade checks (position size, liquidity, portfolio
// risk) against a proposed pairs trade. A trade proceeds only when every
// check passes; any internal failure surfaces as a blocked trade with an
// "error" report entry, never as a panic or a silently allowed trade.
type Gate struct {
	cfg    Config
	model  *Model
	books  *book.Store
	logger *slog.Logger
}

// NewGate creates a Gate sharing limits with the given model.
func NewGate(cfg Config, model *Model, books *book.Store, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:    cfg.withDefaults(),
		model:  model,
		books:  books,
		logger: logger.With(slog.String("component", "risk_gate")),
	}
}

// Authorize evaluates the proposed trade. The returned report carries one
// entry per check ("pass" or a failure reason); allowed is true only when
// all checks pass.
func (g *Gate) Authorize(
	pair string,
	direction domain.Direction,
	proposed map[string]float64,
	positions []domain.PairPosition,
	history domain.PriceHistory,
) (allowed bool, report domain.RiskReport) {
	report = domain.RiskReport{}

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("risk evaluation panicked",
				slog.String("pair", pair),
				slog.Any("panic", r),
			)
			report = domain.RiskReport{"error": fmt.Sprintf("risk evaluation failed: %v", r)}
			allowed = false
		}
	}()

	report["position_size"] = g.checkPositionSize(proposed, positions)
	report["liquidity"] = g.checkLiquidity(proposed)
	report["portfolio_risk"] = g.checkPortfolioRisk(proposed, positions, history)

	allowed = report.Passed()
	if !allowed {
		g.logger.Warn("trade blocked by risk gate",
			slog.String("pair", pair),
			slog.String("direction", string(direction)),
			slog.Any("report", map[string]string(report)),
		)
	}
	return allowed, report
}

// checkPositionSize verifies that per-asset absolute exposure, existing
// plus proposed, stays inside the configured maximum.
func (g *Gate) checkPositionSize(proposed map[string]float64, positions []domain.PairPosition) string {
	for asset, size := range proposed {
		total := math.Abs(size)
		for _, pos := range positions {
			if existing, ok := pos.Exposures[asset]; ok {
				total += math.Abs(existing)
			}
		}
		if total > g.cfg.MaxPositionSize {
			return fmt.Sprintf("fail: position size %.2f exceeds limit %.2f for %s",
				total, g.cfg.MaxPositionSize, asset)
		}
	}
	return domain.CheckPass
}

// checkLiquidity requires book depth on the taking side to be at least
// |size| x minLiquidityRatio for every asset traded.
func (g *Gate) checkLiquidity(proposed map[string]float64) string {
	for asset, size := range proposed {
		bidDepth, askDepth, err := g.books.MarketDepth(asset, 0)
		if err != nil {
			return fmt.Sprintf("fail: no order book for %s", asset)
		}

		required := math.Abs(size) * g.cfg.MinLiquidityRatio
		if size > 0 { // buying consumes asks
			if askDepth < required {
				return fmt.Sprintf("fail: insufficient ask liquidity for %s (have %.2f, need %.2f)",
					asset, askDepth, required)
			}
		} else if size < 0 { // selling consumes bids
			if bidDepth < required {
				return fmt.Sprintf("fail: insufficient bid liquidity for %s (have %.2f, need %.2f)",
					asset, bidDepth, required)
			}
		}
	}
	return domain.CheckPass
}

// checkPortfolioRisk evaluates VaR, leverage, and correlation limits over
// the combined portfolio.
func (g *Gate) checkPortfolioRisk(
	proposed map[string]float64,
	positions []domain.PairPosition,
	history domain.PriceHistory,
) string {
	metrics := g.model.Evaluate(proposed, positions, history)

	if metrics.ValueAtRisk > g.cfg.MaxPositionSize*varBudgetFraction {
		return fmt.Sprintf("fail: VaR %.4f exceeds limit %.4f",
			metrics.ValueAtRisk, g.cfg.MaxPositionSize*varBudgetFraction)
	}
	if metrics.Leverage > g.cfg.MaxLeverage {
		return fmt.Sprintf("fail: leverage %.2f exceeds limit %.2f",
			metrics.Leverage, g.cfg.MaxLeverage)
	}
	if metrics.CorrelationRisk > g.cfg.MaxCorrelation {
		return fmt.Sprintf("fail: correlation risk %.2f exceeds %.2f",
			metrics.CorrelationRisk, g.cfg.MaxCorrelation)
	}
	return domain.CheckPass
}
