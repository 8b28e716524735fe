package scores

import (
	"math"
	"sort"

	"github.com/rs/zerolog/log"
)

// Financials holds the raw per-symbol metrics fed to the cross-sectional
// scorer. Nil means the metric is unavailable for that symbol.
type Financials struct {
	Symbol          string   `json:"symbol"`
	PERatio         *float64 `json:"pe_ratio,omitempty"`
	PriceToCashFlow *float64 `json:"price_to_cash_flow,omitempty"`
	PBRatio         *float64 `json:"pb_ratio,omitempty"`
	ROE             *float64 `json:"roe,omitempty"`
	ROIC            *float64 `json:"roic,omitempty"`
	GrossMargin     *float64 `json:"gross_margin,omitempty"`
	DebtToEquity    *float64 `json:"debt_to_equity,omitempty"`
	Return52Week    *float64 `json:"price_return_52_week,omitempty"`
	Beta            *float64 `json:"beta,omitempty"`
	High52Week      *float64 `json:"high_52_week,omitempty"`
	Low52Week       *float64 `json:"low_52_week,omitempty"`
}

// FactorScores is the output of the composite scorer for one symbol.
// Composite is a 1-100 percentile rank; factor fields are nil when the
// universe had no usable inputs for that factor.
type FactorScores struct {
	Symbol     string   `json:"symbol"`
	Composite  float64  `json:"composite_score"`
	Sufficient bool     `json:"has_sufficient_data"`
	Value      *float64 `json:"value_score,omitempty"`
	Quality    *float64 `json:"quality_score,omitempty"`
	Momentum   *float64 `json:"momentum_score,omitempty"`
	LowVol     *float64 `json:"lowvol_score,omitempty"`
}

// Weights blends the four factor ranks into the composite. Factors with
// missing data are dropped and the remaining weights renormalized.
type Weights struct {
	Value    float64 `yaml:"value"`
	Quality  float64 `yaml:"quality"`
	Momentum float64 `yaml:"momentum"`
	LowVol   float64 `yaml:"lowvol"`
}

// DefaultWeights is the equal 25/25/25/25 blend.
func DefaultWeights() Weights {
	return Weights{Value: 0.25, Quality: 0.25, Momentum: 0.25, LowVol: 0.25}
}

const neutralScore = 50.0

// ScoreUniverse ranks the full universe cross-sectionally. Each factor is
// an average of z-scored metrics turned into a 1-100 percentile rank; the
// composite is the weighted factor blend, percentile-ranked again. A symbol
// with fewer than two usable factors gets the neutral score and
// Sufficient=false. Output order matches input order.
func ScoreUniverse(universe []Financials, w Weights) []FactorScores {
	if len(universe) == 0 {
		return nil
	}
	n := len(universe)

	earningsYield := make([]float64, n)
	fcfYield := make([]float64, n)
	bookToPrice := make([]float64, n)
	roe := make([]float64, n)
	roic := make([]float64, n)
	grossMargin := make([]float64, n)
	leverage := make([]float64, n)
	ret52 := make([]float64, n)
	invBeta := make([]float64, n)
	invRangeVol := make([]float64, n)

	for i, f := range universe {
		earningsYield[i] = safeInverse(deref(f.PERatio))
		fcfYield[i] = safeInverse(deref(f.PriceToCashFlow))
		bookToPrice[i] = safeInverse(deref(f.PBRatio))
		roe[i] = deref(f.ROE)
		roic[i] = deref(f.ROIC)
		grossMargin[i] = deref(f.GrossMargin)
		leverage[i] = leverageScore(deref(f.DebtToEquity))
		ret52[i] = deref(f.Return52Week)
		invBeta[i] = safeInverse(deref(f.Beta))
		invRangeVol[i] = rangeVolScore(deref(f.High52Week), deref(f.Low52Week))
	}

	value := avgZThenPercentile(earningsYield, fcfYield, bookToPrice)
	quality := avgZThenPercentile(roe, roic, grossMargin, leverage)
	momentum := avgZThenPercentile(ret52)
	lowvol := avgZThenPercentile(invBeta, invRangeVol)

	composite := make([]float64, n)
	available := make([]int, n)
	for i := 0; i < n; i++ {
		factors := []float64{value[i], quality[i], momentum[i], lowvol[i]}
		weights := []float64{w.Value, w.Quality, w.Momentum, w.LowVol}

		sum, totalW := 0.0, 0.0
		for k, fv := range factors {
			if math.IsNaN(fv) {
				continue
			}
			available[i]++
			sum += fv * weights[k]
			totalW += weights[k]
		}
		if available[i] < 2 || totalW == 0 {
			composite[i] = math.NaN()
			continue
		}
		composite[i] = sum / totalW
	}

	finalRank := percentileRank(composite)

	out := make([]FactorScores, n)
	scored := 0
	for i, f := range universe {
		fs := FactorScores{
			Symbol:     f.Symbol,
			Composite:  neutralScore,
			Sufficient: available[i] >= 2,
			Value:      optional(value[i]),
			Quality:    optional(quality[i]),
			Momentum:   optional(momentum[i]),
			LowVol:     optional(lowvol[i]),
		}
		if !math.IsNaN(finalRank[i]) {
			fs.Composite = round2(finalRank[i])
		}
		if fs.Sufficient {
			scored++
		}
		out[i] = fs
	}

	log.Info().
		Int("universe_size", n).
		Int("scored", scored).
		Int("insufficient_data", n-scored).
		Msg("universe scored")

	return out
}

func deref(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

func optional(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	r := round2(v)
	return &r
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// safeInverse returns 1/x for positive x, NaN otherwise. Negative P/E and
// friends carry no ranking signal.
func safeInverse(x float64) float64 {
	if math.IsNaN(x) || x <= 0 {
		return math.NaN()
	}
	return 1.0 / x
}

func leverageScore(dte float64) float64 {
	if math.IsNaN(dte) {
		return math.NaN()
	}
	if dte < 0 {
		dte = 0
	}
	return 1.0 / (1.0 + dte)
}

func rangeVolScore(high, low float64) float64 {
	mid := (high + low) / 2.0
	if math.IsNaN(mid) || mid == 0 {
		return math.NaN()
	}
	return safeInverse((high - low) / mid)
}

// zscore standardizes in place semantics of a column, keeping NaN as NaN.
// With no variance across the universe, all present values map to 0.
func zscore(xs []float64) []float64 {
	var sum float64
	var count int
	for _, x := range xs {
		if !math.IsNaN(x) {
			sum += x
			count++
		}
	}
	out := make([]float64, len(xs))
	if count == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	mean := sum / float64(count)

	var ss float64
	for _, x := range xs {
		if !math.IsNaN(x) {
			d := x - mean
			ss += d * d
		}
	}
	// Sample standard deviation.
	var std float64
	if count > 1 {
		std = math.Sqrt(ss / float64(count-1))
	}

	for i, x := range xs {
		switch {
		case math.IsNaN(x):
			out[i] = math.NaN()
		case std == 0:
			out[i] = 0
		default:
			out[i] = (x - mean) / std
		}
	}
	return out
}

// percentileRank maps values to 1-100 percentiles among the non-NaN
// entries, averaging ranks on ties. NaN stays NaN.
func percentileRank(xs []float64) []float64 {
	type iv struct {
		idx int
		val float64
	}
	present := make([]iv, 0, len(xs))
	for i, x := range xs {
		if !math.IsNaN(x) {
			present = append(present, iv{i, x})
		}
	}

	out := make([]float64, len(xs))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(present) == 0 {
		return out
	}

	sort.Slice(present, func(a, b int) bool { return present[a].val < present[b].val })
	n := float64(len(present))

	for lo := 0; lo < len(present); {
		hi := lo
		for hi+1 < len(present) && present[hi+1].val == present[lo].val {
			hi++
		}
		// 1-based ranks lo+1..hi+1 averaged for the tie group.
		avgRank := float64(lo+1+hi+1) / 2.0
		pct := round2(avgRank / n * 100)
		for k := lo; k <= hi; k++ {
			out[present[k].idx] = pct
		}
		lo = hi + 1
	}
	return out
}

func avgZThenPercentile(cols ...[]float64) []float64 {
	if len(cols) == 0 {
		return nil
	}
	n := len(cols[0])
	zcols := make([][]float64, len(cols))
	for i, c := range cols {
		zcols[i] = zscore(c)
	}

	avg := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		var count int
		for _, z := range zcols {
			if !math.IsNaN(z[i]) {
				sum += z[i]
				count++
			}
		}
		if count == 0 {
			avg[i] = math.NaN()
		} else {
			avg[i] = sum / float64(count)
		}
	}
	return percentileRank(avg)
}
