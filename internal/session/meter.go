package session

import (
	"time"

	"llamachat/pkg/types"
)

// meter turns a turn's fragments into tokens-per-second samples. The first
// fragment only sets the timing anchor; afterwards tokens accumulate and a
// rate is produced once at least a second has passed since the anchor.
type meter struct {
	now    func() time.Time
	anchor time.Time
	tokens int
	primed bool
}

func newMeter(now func() time.Time) *meter {
	return &meter{now: now, anchor: now()}
}

// observe records f and reports a fresh rate when one is due.
func (m *meter) observe(f types.Fragment) (float64, bool) {
	t := m.now()
	if !m.primed {
		m.primed = true
		m.anchor = t
		return 0, false
	}
	m.tokens += f.Tokens
	elapsed := t.Sub(m.anchor)
	if elapsed < time.Second {
		return 0, false
	}
	rate := float64(m.tokens) / elapsed.Seconds()
	m.tokens = 0
	m.anchor = t
	return rate, true
}
