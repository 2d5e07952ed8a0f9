// Package chance adapts a dice roller to the draws the simulation needs.
package chance

import (
	"fmt"

	"github.com/KirkDiggler/rpg-toolkit/dice"
)

// OrDefault returns r, or the toolkit's default roller when r is nil.
func OrDefault(r dice.Roller) dice.Roller {
	if r == nil {
		return dice.DefaultRoller
	}
	return r
}

// Index draws uniformly from [0, n).
func Index(r dice.Roller, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("index draw over empty range")
	}
	if n == 1 {
		return 0, nil
	}
	v, err := r.Roll(n)
	if err != nil {
		return 0, fmt.Errorf("roll d%d: %w", n, err)
	}
	return v - 1, nil
}

// Percent reports true with probability p/100.
func Percent(r dice.Roller, p int) (bool, error) {
	if p <= 0 {
		return false, nil
	}
	if p >= 100 {
		return true, nil
	}
	v, err := r.Roll(100)
	if err != nil {
		return false, fmt.Errorf("roll d100: %w", err)
	}
	return v <= p, nil
}

// Between draws uniformly from [lo, hi].
func Between(r dice.Roller, lo, hi int) (int, error) {
	if hi < lo {
		lo, hi = hi, lo
	}
	off, err := Index(r, hi-lo+1)
	if err != nil {
		return 0, err
	}
	return lo + off, nil
}
