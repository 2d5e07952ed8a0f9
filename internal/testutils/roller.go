// Package testutils provides deterministic collaborators for tests.
package testutils

import (
	"errors"
	"sync"
)

// ScriptedRoller replays a fixed sequence of die results, cycling when exhausted.
// A scripted value larger than the requested die size is clamped to the size.
// With no values every roll returns 1.
type ScriptedRoller struct {
	mu     sync.Mutex
	values []int
	calls  int
}

func NewScriptedRoller(values ...int) *ScriptedRoller {
	return &ScriptedRoller{values: values}
}

func (s *ScriptedRoller) Roll(size int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 1, nil
	}
	v := s.values[s.calls%len(s.values)]
	s.calls++
	if v > size {
		v = size
	}
	if v < 1 {
		v = 1
	}
	return v, nil
}

func (s *ScriptedRoller) RollN(count, size int) ([]int, error) {
	out := make([]int, count)
	for i := range out {
		v, err := s.Roll(size)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Calls returns how many single rolls were made.
func (s *ScriptedRoller) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var ErrRollerBroken = errors.New("roller broken")

// FailingRoller fails every roll.
type FailingRoller struct{}

func (FailingRoller) Roll(int) (int, error)          { return 0, ErrRollerBroken }
func (FailingRoller) RollN(int, int) ([]int, error) { return nil, ErrRollerBroken }
