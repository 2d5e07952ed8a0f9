// Package pathfind implements 4-connected grid search for delivery agents.
package pathfind

import (
	"container/heap"

	"courier_grid/internal/domain"
)

// Grid is the static world as seen by the search.
type Grid interface {
	Size() int
	Classify(c domain.Cell) domain.CellKind
}

// Proximity reports how crowded the neighbourhood of a cell is.
type Proximity interface {
	ProximityCount(c domain.Cell, radius int) int
}

// CongestionWeight multiplies the proximity count of a step into its cost.
const CongestionWeight = 2

// ShortestPath returns the cells from start (excluded) to goal (included) with
// unit step cost, or nil when goal is unreachable or equal to start.
func ShortestPath(g Grid, start, goal domain.Cell) []domain.Cell {
	return search(g, start, goal, func(domain.Cell) int { return 1 })
}

// CongestionAwarePath is ShortestPath with each step inflated by
// CongestionWeight times the obstacle proximity count around the step.
func CongestionAwarePath(g Grid, p Proximity, start, goal domain.Cell, radius int) []domain.Cell {
	return search(g, start, goal, func(c domain.Cell) int {
		return StepCost(p, c, radius)
	})
}

// StepCost is the cost of entering c in a congestion-aware search.
func StepCost(p Proximity, c domain.Cell, radius int) int {
	return 1 + CongestionWeight*p.ProximityCount(c, radius)
}

// PathCost sums stepCost over path; useful for comparing plans.
func PathCost(path []domain.Cell, stepCost func(domain.Cell) int) int {
	total := 0
	for _, c := range path {
		total += stepCost(c)
	}
	return total
}

type node struct {
	cell   domain.Cell
	g      int
	f      int
	seq    int
	parent *node
	index  int
}

type openHeap []*node

func (h openHeap) Len() int { return len(h) }
func (h openHeap) Less(i, j int) bool {
	if h[i].f != h[j].f {
		return h[i].f < h[j].f
	}
	return h[i].seq < h[j].seq
}
func (h openHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *openHeap) Push(x any) {
	n := x.(*node)
	n.index = len(*h)
	*h = append(*h, n)
}
func (h *openHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return x
}

func search(g Grid, start, goal domain.Cell, stepCost func(domain.Cell) int) []domain.Cell {
	if start == goal || !passable(g, goal) {
		return nil
	}

	open := &openHeap{}
	heap.Init(open)
	seq := 0
	heap.Push(open, &node{cell: start, g: 0, f: start.Manhattan(goal), seq: seq})

	best := map[domain.Cell]int{start: 0}
	closed := make(map[domain.Cell]bool)

	for open.Len() > 0 {
		current := heap.Pop(open).(*node)
		if current.cell == goal {
			return reconstruct(current)
		}
		if closed[current.cell] {
			continue
		}
		closed[current.cell] = true

		for _, next := range neighbors(g, current.cell) {
			if closed[next] {
				continue
			}
			tentative := current.g + stepCost(next)
			if known, ok := best[next]; ok && tentative >= known {
				continue
			}
			best[next] = tentative
			seq++
			heap.Push(open, &node{
				cell:   next,
				g:      tentative,
				f:      tentative + next.Manhattan(goal),
				seq:    seq,
				parent: current,
			})
		}
	}
	return nil
}

// neighbors yields in-bounds, non-Structure cells one step away. Occupancy by
// obstacles or agents never prunes a neighbor.
func neighbors(g Grid, c domain.Cell) []domain.Cell {
	out := make([]domain.Cell, 0, 4)
	for _, d := range domain.Directions {
		n := c.Add(d)
		if passable(g, n) {
			out = append(out, n)
		}
	}
	return out
}

func passable(g Grid, c domain.Cell) bool {
	size := g.Size()
	if c.X < 0 || c.Y < 0 || c.X >= size || c.Y >= size {
		return false
	}
	return g.Classify(c) != domain.CellStructure
}

// reconstruct walks parents back to the start; the start cell is dropped.
func reconstruct(n *node) []domain.Cell {
	var path []domain.Cell
	for ; n != nil && n.parent != nil; n = n.parent {
		path = append(path, n.cell)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
