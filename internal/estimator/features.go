package estimator

import (
	"fmt"
	"math"

	"trade_sim/internal/domain"
)

// NumFeatures is the length of every feature vector.
const NumFeatures = 5

const (
	imbalanceLevels     = 5
	slippageDepthLevels = 10
)

// Features is the fixed-length input of an estimator.
type Features [NumFeatures]float64

// Dot returns f·w.
func (f Features) Dot(w Features) float64 {
	var sum float64
	for i := range f {
		sum += f[i] * w[i]
	}
	return sum
}

// IsFinite reports whether no component is NaN or Inf.
func (f Features) IsFinite() bool {
	for _, v := range f {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func ones() Features {
	var w Features
	for i := range w {
		w[i] = 1
	}
	return w
}

// bookFeatures extracts [spread_ratio, depth_imbalance, size_ratio, log1p(size), log1p(depth)]
// over the top five levels of each side.
func bookFeatures(snap *domain.OrderbookSnapshot, size float64) (Features, error) {
	mid, spread, err := midAndSpread(snap)
	if err != nil {
		return Features{}, err
	}

	askDepth, bidDepth := snap.SideDepth(imbalanceLevels)
	total := askDepth + bidDepth

	f := Features{
		spread / mid,
		safeRatio(askDepth-bidDepth, total),
		safeRatio(size, total),
		math.Log1p(math.Abs(size)),
		math.Log1p(total),
	}
	if !f.IsFinite() {
		return Features{}, fmt.Errorf("non-finite features %v", f)
	}
	return f, nil
}

// slippageFeatures replaces the imbalance with depth-at-best share and sums ten levels.
// Layout: [spread_ratio, size_ratio, best_depth_ratio, log1p(size), log1p(depth)].
func slippageFeatures(snap *domain.OrderbookSnapshot, size float64) (Features, error) {
	mid, spread, err := midAndSpread(snap)
	if err != nil {
		return Features{}, err
	}

	askDepth, bidDepth := snap.SideDepth(slippageDepthLevels)
	total := askDepth + bidDepth
	depthAtBest := math.Min(snap.Asks[0].Size, snap.Bids[0].Size)

	f := Features{
		spread / mid,
		safeRatio(size, total),
		safeRatio(depthAtBest, total),
		math.Log1p(math.Abs(size)),
		math.Log1p(total),
	}
	if !f.IsFinite() {
		return Features{}, fmt.Errorf("non-finite features %v", f)
	}
	return f, nil
}

func midAndSpread(snap *domain.OrderbookSnapshot) (mid, spread float64, err error) {
	mid, ok := snap.MidPrice()
	if !ok {
		return 0, 0, domain.ErrOneSidedBook
	}
	if mid <= 0 {
		return 0, 0, fmt.Errorf("non-positive mid price %v", mid)
	}
	spread, _ = snap.Spread()
	return mid, spread, nil
}

func safeRatio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
