// Package risk implements the portfolio risk model and the pre-trade risk
// gate that authorizes or blocks proposed pairs trades.
package risk

import (
	"log/slog"
	"math"
	"sort"

	"github.com/alanyoungcy/pairstrader/internal/domain"
)

// varBudgetFraction is the share of the max position size allowed as VaR.
const varBudgetFraction = 0.1

// Config holds the tunable parameters for risk evaluation and gating.
type Config struct {
	MaxPositionSize   float64
	MaxLeverage       float64
	MinLiquidityRatio float64
	VarConfidence     float64
	MaxCorrelation    float64
}

// Defaults fills zero-valued fields with the standard limits.
func (c Config) withDefaults() Config {
	if c.MaxLeverage <= 0 {
		c.MaxLeverage = 2.0
	}
	if c.MinLiquidityRatio <= 0 {
		c.MinLiquidityRatio = 3.0
	}
	if c.VarConfidence <= 0 || c.VarConfidence >= 1 {
		c.VarConfidence = 0.99
	}
	if c.MaxCorrelation <= 0 {
		c.MaxCorrelation = 0.8
	}
	return c
}

// Model computes portfolio-level risk metrics from exposures and price
// history.
type Model struct {
	cfg    Config
	logger *slog.Logger
}

// NewModel creates a Model with the given limits.
func NewModel(cfg Config, logger *slog.Logger) *Model {
	return &Model{
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "risk_model")),
	}
}

// Evaluate merges the proposed exposure with existing positions and computes
// a RiskMetrics snapshot over the supplied price history.
//
// The portfolio return series is the per-asset simple-return series weighted
// by each asset's share of total gross exposure. VaR is the
// (1 - confidence) percentile of that series; expected shortfall is the mean
// of the tail at or below VaR. Assets without history contribute exposure
// (and therefore leverage) but no return path.
func (m *Model) Evaluate(
	proposed map[string]float64,
	positions []domain.PairPosition,
	history domain.PriceHistory,
) domain.RiskMetrics {
	net := mergeExposures(proposed, positions)

	gross := 0.0
	for _, size := range net {
		gross += math.Abs(size)
	}

	metrics := domain.RiskMetrics{
		Leverage: 0,
		// Placeholder pending a book-depth based estimator; coarse scale only.
		LiquidityRisk: 0.5,
	}
	if m.cfg.MaxPositionSize > 0 {
		metrics.Leverage = gross / m.cfg.MaxPositionSize
	}
	if gross == 0 {
		return metrics
	}

	returnsByAsset := make(map[string][]float64)
	for asset := range net {
		if r := simpleReturns(history.Closes(asset)); len(r) > 0 {
			returnsByAsset[asset] = r
		}
	}

	portfolio := weightedPortfolioReturns(net, gross, returnsByAsset)
	if len(portfolio) > 0 {
		rawVar := percentile(portfolio, (1-m.cfg.VarConfidence)*100)
		metrics.ValueAtRisk = math.Abs(rawVar)
		metrics.ExpectedShortfall = math.Abs(tailMean(portfolio, rawVar))
	}
	metrics.CorrelationRisk = maxPairwiseCorrelation(returnsByAsset)

	return metrics
}

// AdjustSizes scales the proposed sizes down so that VaR, leverage, and
// liquidity stay inside budget. The most conservative of the three ratios
// is applied uniformly; sizes are never scaled up.
func (m *Model) AdjustSizes(proposed map[string]float64, metrics domain.RiskMetrics) map[string]float64 {
	scale := 1.0

	if metrics.ValueAtRisk > 0 {
		scale = math.Min(scale, m.cfg.MaxPositionSize*varBudgetFraction/metrics.ValueAtRisk)
	}
	if metrics.Leverage > 0 {
		scale = math.Min(scale, m.cfg.MaxLeverage/metrics.Leverage)
	}
	if metrics.LiquidityRisk > 0 {
		scale = math.Min(scale, 1/metrics.LiquidityRisk)
	}

	adjusted := make(map[string]float64, len(proposed))
	for asset, size := range proposed {
		adjusted[asset] = size * scale
	}

	if scale < 1.0 {
		m.logger.Debug("position sizes scaled down",
			slog.Float64("scale", scale),
			slog.Float64("var", metrics.ValueAtRisk),
			slog.Float64("leverage", metrics.Leverage),
		)
	}
	return adjusted
}

// mergeExposures nets the proposed per-asset sizes with all open positions.
func mergeExposures(proposed map[string]float64, positions []domain.PairPosition) map[string]float64 {
	net := make(map[string]float64, len(proposed))
	for asset, size := range proposed {
		net[asset] = size
	}
	for _, pos := range positions {
		for asset, size := range pos.Exposures {
			net[asset] += size
		}
	}
	return net
}

// simpleReturns converts a close series into period-over-period returns.
func simpleReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

// weightedPortfolioReturns combines per-asset return series into a single
// portfolio series using exposure-share weights. Series are aligned on
// their most recent observations and truncated to the shortest.
func weightedPortfolioReturns(net map[string]float64, gross float64, returns map[string][]float64) []float64 {
	shortest := math.MaxInt
	for _, r := range returns {
		if len(r) < shortest {
			shortest = len(r)
		}
	}
	if len(returns) == 0 || shortest == math.MaxInt || shortest == 0 {
		return nil
	}

	portfolio := make([]float64, shortest)
	for asset, r := range returns {
		weight := net[asset] / gross
		tail := r[len(r)-shortest:]
		for i, v := range tail {
			portfolio[i] += v * weight
		}
	}
	return portfolio
}

// percentile computes the p-th percentile (0-100) with linear interpolation
// between closest ranks.
func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// tailMean averages the values at or below the cutoff.
func tailMean(values []float64, cutoff float64) float64 {
	var sum float64
	var n int
	for _, v := range values {
		if v <= cutoff {
			sum += v
			n++
		}
	}
	if n == 0 {
		return cutoff
	}
	return sum / float64(n)
}

// maxPairwiseCorrelation returns the largest correlation coefficient across
// distinct asset pairs, 0 when fewer than two series are available.
func maxPairwiseCorrelation(returns map[string][]float64) float64 {
	assets := make([]string, 0, len(returns))
	for a := range returns {
		assets = append(assets, a)
	}
	sort.Strings(assets)

	maxCorr := 0.0
	for i := 0; i < len(assets); i++ {
		for j := i + 1; j < len(assets); j++ {
			c := correlation(returns[assets[i]], returns[assets[j]])
			if c > maxCorr {
				maxCorr = c
			}
		}
	}
	return maxCorr
}

// correlation computes the Pearson coefficient over the overlapping tail of
// two series.
func correlation(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
