package domain

import "fmt"

// RiskLimits is the process-wide risk configuration. It is loaded once at
// startup (or swapped whole on reload) and read-only thereafter; percentages
// are integer basis points, amounts are base units of the named asset.
type RiskLimits struct {
	MaxLossBps          int64
	MaxExposurePerAsset map[string]int64
	MaxLegs             int
	MinProfitBps        int64
}

// Validate rejects limits that would make every route fail or that disable a
// bound entirely.
func (l RiskLimits) Validate() error {
	if l.MaxLegs < 2 {
		return fmt.Errorf("risk limits: max_legs must be >= 2, got %d", l.MaxLegs)
	}
	if l.MaxLossBps < 0 {
		return fmt.Errorf("risk limits: max_loss_bps must be >= 0, got %d", l.MaxLossBps)
	}
	if l.MinProfitBps <= 0 {
		return fmt.Errorf("risk limits: min_profit_bps must be > 0, got %d", l.MinProfitBps)
	}
	for asset, max := range l.MaxExposurePerAsset {
		if max <= 0 {
			return fmt.Errorf("risk limits: max exposure for %s must be > 0, got %d", asset, max)
		}
	}
	return nil
}
