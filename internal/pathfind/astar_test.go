package pathfind

import (
	"math/rand"
	"testing"

	"courier_grid/internal/domain"
	"courier_grid/internal/obstacle"
	"courier_grid/internal/testutils"
	"courier_grid/internal/world"
)

func mustStructures(t *testing.T, g *world.Grid, cells ...domain.Cell) {
	t.Helper()
	for _, c := range cells {
		if err := g.PlaceStructure(c); err != nil {
			t.Fatalf("place structure %s: %v", c, err)
		}
	}
}

// bfsDistance is the brute-force reference: -1 when unreachable.
func bfsDistance(g *world.Grid, start, goal domain.Cell) int {
	if start == goal {
		return 0
	}
	dist := map[domain.Cell]int{start: 0}
	queue := []domain.Cell{start}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		for _, d := range domain.Directions {
			n := c.Add(d)
			if !g.InBounds(n) || g.Classify(n) == domain.CellStructure {
				continue
			}
			if _, seen := dist[n]; seen {
				continue
			}
			dist[n] = dist[c] + 1
			if n == goal {
				return dist[n]
			}
			queue = append(queue, n)
		}
	}
	return -1
}

func assertWalkable(t *testing.T, g *world.Grid, start domain.Cell, path []domain.Cell) {
	t.Helper()
	prev := start
	for i, c := range path {
		if g.Classify(c) == domain.CellStructure {
			t.Fatalf("waypoint %d %s is a structure", i, c)
		}
		if prev.Manhattan(c) != 1 {
			t.Fatalf("waypoint %d %s is not adjacent to %s", i, c, prev)
		}
		prev = c
	}
}

func TestShortestPathDetoursAroundWall(t *testing.T) {
	g := world.New(5)
	mustStructures(t, g,
		domain.Cell{X: 2, Y: 0}, domain.Cell{X: 2, Y: 1},
		domain.Cell{X: 2, Y: 2}, domain.Cell{X: 2, Y: 3},
	)
	start, goal := domain.Cell{X: 0, Y: 2}, domain.Cell{X: 4, Y: 2}

	path := ShortestPath(g, start, goal)
	if want := bfsDistance(g, start, goal); len(path) != want {
		t.Fatalf("path length = %d, want %d (%v)", len(path), want, path)
	}
	if path[len(path)-1] != goal {
		t.Fatalf("path ends at %s, want %s", path[len(path)-1], goal)
	}
	assertWalkable(t, g, start, path)

	throughGap := false
	for _, c := range path {
		if c == (domain.Cell{X: 2, Y: 4}) {
			throughGap = true
		}
	}
	if !throughGap {
		t.Fatalf("path %v does not route through the gap at (2,4)", path)
	}
}

func TestShortestPathOpenGrid(t *testing.T) {
	g := world.New(5)
	path := ShortestPath(g, domain.Cell{X: 0, Y: 0}, domain.Cell{X: 4, Y: 4})
	if len(path) != 8 {
		t.Fatalf("path length = %d, want 8", len(path))
	}
}

func TestShortestPathUnreachable(t *testing.T) {
	g := world.New(5)
	goal := domain.Cell{X: 4, Y: 4}
	mustStructures(t, g, domain.Cell{X: 3, Y: 4}, domain.Cell{X: 4, Y: 3})

	if path := ShortestPath(g, domain.Cell{X: 0, Y: 0}, goal); path != nil {
		t.Fatalf("expected no path into enclosed goal, got %v", path)
	}
	if path := ShortestPath(g, goal, goal); path != nil {
		t.Fatalf("start == goal should yield an empty path, got %v", path)
	}
	if path := ShortestPath(g, domain.Cell{X: 0, Y: 0}, domain.Cell{X: 9, Y: 9}); path != nil {
		t.Fatalf("out of bounds goal should yield no path, got %v", path)
	}
}

func TestShortestPathMatchesBFS(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 60; trial++ {
		n := 4 + rng.Intn(5)
		g := world.New(n)
		for i := 0; i < n*n/4; i++ {
			_ = g.PlaceStructure(domain.Cell{X: rng.Intn(n), Y: rng.Intn(n)})
		}
		start := domain.Cell{X: rng.Intn(n), Y: rng.Intn(n)}
		goal := domain.Cell{X: rng.Intn(n), Y: rng.Intn(n)}
		if g.Classify(start) == domain.CellStructure || g.Classify(goal) == domain.CellStructure {
			continue
		}

		want := bfsDistance(g, start, goal)
		path := ShortestPath(g, start, goal)
		switch {
		case want <= 0 && path != nil:
			t.Fatalf("trial %d: expected no path, got %v", trial, path)
		case want > 0 && len(path) != want:
			t.Fatalf("trial %d: length %d, want %d", trial, len(path), want)
		}
		assertWalkable(t, g, start, path)
	}
}

func TestCongestionAwarePathAvoidsObstacles(t *testing.T) {
	g := world.New(9)
	f := obstacle.NewField(g, testutils.NewScriptedRoller(), obstacle.Config{TurnPercent: -1})
	f.Add(domain.Cell{X: 4, Y: 4}, domain.DirUp)
	f.Add(domain.Cell{X: 4, Y: 3}, domain.DirDown)
	start, goal := domain.Cell{X: 0, Y: 4}, domain.Cell{X: 8, Y: 4}

	plain := ShortestPath(g, start, goal)
	aware := CongestionAwarePath(g, f, start, goal, 3)
	if len(aware) < len(plain) {
		t.Fatalf("congestion-aware path shorter than shortest path: %d < %d", len(aware), len(plain))
	}
	if aware[len(aware)-1] != goal {
		t.Fatalf("aware path does not end at goal: %v", aware)
	}
	assertWalkable(t, g, start, aware)

	cost := func(c domain.Cell) int { return StepCost(f, c, 3) }
	if PathCost(aware, cost) > PathCost(plain, cost) {
		t.Fatalf("aware cost %d exceeds plain path cost %d", PathCost(aware, cost), PathCost(plain, cost))
	}
}

func TestCongestionNeverForbidsCells(t *testing.T) {
	g := world.New(3)
	f := obstacle.NewField(g, testutils.NewScriptedRoller(), obstacle.Config{TurnPercent: -1})
	for x := 0; x < 3; x++ {
		for y := 0; y < 3; y++ {
			f.Add(domain.Cell{X: x, Y: y}, domain.DirRight)
		}
	}
	path := CongestionAwarePath(g, f, domain.Cell{X: 0, Y: 0}, domain.Cell{X: 2, Y: 2}, 3)
	if len(path) != 4 {
		t.Fatalf("path through a crowded grid = %v, want 4 steps", path)
	}
}

func TestStepCostMonotoneInObstacles(t *testing.T) {
	g := world.New(10)
	f := obstacle.NewField(g, testutils.NewScriptedRoller(), obstacle.Config{TurnPercent: -1})
	target := domain.Cell{X: 5, Y: 5}

	prev := StepCost(f, target, 3)
	if prev != 1 {
		t.Fatalf("empty field cost = %d, want 1", prev)
	}
	for _, d := range domain.Directions {
		f.Add(target.Add(d), d)
		got := StepCost(f, target, 3)
		if got < prev {
			t.Fatalf("cost decreased from %d to %d after adding obstacle", prev, got)
		}
		prev = got
	}
	if prev != 1+CongestionWeight*8 {
		t.Fatalf("cost with four adjacent obstacles = %d", prev)
	}
}
