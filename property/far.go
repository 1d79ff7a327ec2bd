package property

import "math"

// ComputeFAR fills the derived fields of f from its lot area and ratios.
//
// MaxFAR is the largest of the residential, commercial and facility ratios.
// When it is zero, utilization and remaining area are zero.
func ComputeFAR(f *FAR) {
	f.MaxFAR = math.Max(f.ResidentialFAR, math.Max(f.CommercialFAR, f.FacilityFAR))

	lot := float64(f.LotAreaSF)
	f.CurrentBuiltSF = int64(math.Round(lot * f.BuiltFAR))
	f.MaxBuildableSF = int64(math.Round(lot * f.MaxFAR))

	f.RemainingBuildableSF = 0
	if remaining := f.MaxBuildableSF - f.CurrentBuiltSF; f.MaxFAR > 0 && remaining > 0 {
		f.RemainingBuildableSF = remaining
	}

	f.UtilizationPct = 0
	if f.MaxFAR > 0 {
		pct := math.Round(100 * f.BuiltFAR / f.MaxFAR)
		f.UtilizationPct = int(math.Min(100, math.Max(0, pct)))
	}
}
