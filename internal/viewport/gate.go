package viewport

// Gate is a one-way latch per materialized item: it flips from dormant to
// eligible the first time the item's rectangle comes within Threshold
// pixels of the visible region, fires its trigger exactly once, and never
// reverts. A fresh gate is created when an item re-enters the materialized
// set; the cache, not the gate, makes that cheap.
type Gate struct {
	threshold float64
	trigger   func()
	eligible  bool
}

func NewGate(threshold float64, trigger func()) *Gate {
	if threshold < 0 {
		threshold = 0
	}
	return &Gate{threshold: threshold, trigger: trigger}
}

// Observe evaluates proximity for one render pass and reports whether this
// call fired the trigger. Calls after the latch has flipped are no-ops.
func (g *Gate) Observe(itemTop, itemHeight, scrollOffset, viewportHeight float64) bool {
	if g.eligible {
		return false
	}
	nearTop := scrollOffset - g.threshold
	nearBottom := scrollOffset + viewportHeight + g.threshold
	if itemTop >= nearBottom || itemTop+itemHeight <= nearTop {
		return false
	}
	g.eligible = true
	if g.trigger != nil {
		g.trigger()
	}
	return true
}

func (g *Gate) Eligible() bool { return g.eligible }
