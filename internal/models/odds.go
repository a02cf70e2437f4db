package models

// DecimalOdds holds 1X2 pre-match prices in decimal format
type DecimalOdds struct {
	Home float64 `json:"home"`
	Draw float64 `json:"draw"`
	Away float64 `json:"away"`
}

// Valid returns true when every price is a usable decimal price
func (o DecimalOdds) Valid() bool {
	return o.Home > 1 && o.Draw > 1 && o.Away > 1
}

// Overround returns the sum of raw implied probabilities (the bookmaker margin plus one)
func (o DecimalOdds) Overround() float64 {
	if !o.Valid() {
		return 0
	}
	return 1/o.Home + 1/o.Draw + 1/o.Away
}

// ImpliedProbabilities converts the prices to a probability triple with the
// overround removed, so the result sums to 1.
func (o DecimalOdds) ImpliedProbabilities() (Triple, bool) {
	if !o.Valid() {
		return Triple{}, false
	}
	total := o.Overround()
	return Triple{Home: 1 / o.Home / total, Draw: 1 / o.Draw / total, Away: 1 / o.Away / total}, true
}
