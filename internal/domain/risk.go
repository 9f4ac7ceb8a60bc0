package domain

// RiskMetrics is a derived, immutable snapshot of portfolio risk, recomputed
// on every gate check and never persisted.
type RiskMetrics struct {
	ValueAtRisk       float64
	ExpectedShortfall float64
	Leverage          float64
	CorrelationRisk   float64

	// LiquidityRisk is a coarse [0,1] placeholder pending a book-depth based
	// estimator. Callers must not treat it as load-bearing beyond scale.
	LiquidityRisk float64
}

// CheckPass is the report value for a passed risk check.
const CheckPass = "pass"

// RiskReport maps check name ("position_size", "liquidity",
// "portfolio_risk", or "error") to "pass" or a failure reason.
type RiskReport map[string]string

// Passed reports whether every check in the report passed.
func (r RiskReport) Passed() bool {
	if len(r) == 0 {
		return false
	}
	for _, v := range r {
		if v != CheckPass {
			return false
		}
	}
	return true
}
