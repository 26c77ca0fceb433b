package domain

// Snapshot source names used for enrichment keys and sportsbook diffs.
const (
	SourcePolymarket = "polymarket"
	SourcePinnacle   = "pinnacle"
)

// RecomputeDiffs derives the sportsbook diffs from the current after
// observations. A diff is cleared when its reference price is missing.
func (f *FillEvent) RecomputeDiffs() {
	f.Sportsbook = nil
	if r := f.Result(SourcePolymarket); r != nil && r.After != nil {
		if bid := r.After.Observation.BestBid; bid != nil {
			f.Sportsbook = newPriceDiff(f.Price, *bid)
		}
	}
	f.PinnacleSportsbook = nil
	if r := f.Result(SourcePinnacle); r != nil && r.After != nil {
		f.PinnacleSportsbook = newPriceDiff(f.Price, r.After.Observation.Value)
	}
}

func newPriceDiff(fill, ref float64) *PriceDiff {
	if ref == 0 {
		return nil
	}
	d := &PriceDiff{Reference: ref, FillPrice: fill, Price: fill - ref}
	if ref > 0 {
		d.PricePct = d.Price * 100
	}
	return d
}
