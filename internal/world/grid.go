// Package world holds the static grid and the named site registry.
package world

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"courier_grid/internal/domain"
)

// Grid is an N×N cell classification plus the site registry keyed by label.
// Sites and structures are permanent until Reset.
type Grid struct {
	mu     sync.RWMutex
	size   int
	cells  []domain.CellKind
	sites  map[string]domain.Site
	byCell map[domain.Cell]string
	seq    map[domain.SiteKind]int
}

func New(size int) *Grid {
	if size <= 0 {
		size = 20
	}
	g := &Grid{size: size}
	g.clear()
	return g
}

func (g *Grid) clear() {
	g.cells = make([]domain.CellKind, g.size*g.size)
	g.sites = make(map[string]domain.Site)
	g.byCell = make(map[domain.Cell]string)
	g.seq = make(map[domain.SiteKind]int)
}

func (g *Grid) Size() int {
	return g.size
}

func (g *Grid) InBounds(c domain.Cell) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < g.size && c.Y < g.size
}

// Classify reports the kind of c. Cells outside the grid classify as Structure
// so callers treat them as impassable.
func (g *Grid) Classify(c domain.Cell) domain.CellKind {
	if !g.InBounds(c) {
		return domain.CellStructure
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cells[g.index(c)]
}

func (g *Grid) index(c domain.Cell) int {
	return c.Y*g.size + c.X
}

func (g *Grid) PlaceStructure(c domain.Cell) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkEmptyLocked(c); err != nil {
		return fmt.Errorf("place structure at %s: %w", c, err)
	}
	g.cells[g.index(c)] = domain.CellStructure
	return nil
}

func (g *Grid) PlaceHospital(c domain.Cell) (domain.Site, error) {
	return g.PlaceSite(c, domain.SiteHospital, "")
}

func (g *Grid) PlaceRemote(c domain.Cell) (domain.Site, error) {
	return g.PlaceSite(c, domain.SiteRemote, "")
}

// PlaceSite registers a site on an Empty cell. An empty label is replaced by the
// next free label for the kind (H1, H2, ... or R1, R2, ...).
func (g *Grid) PlaceSite(c domain.Cell, kind domain.SiteKind, label string) (domain.Site, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkEmptyLocked(c); err != nil {
		return domain.Site{}, fmt.Errorf("place %s site at %s: %w", kind, c, err)
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label = g.nextLabelLocked(kind)
	} else {
		if !strings.HasPrefix(label, kind.LabelPrefix()) {
			return domain.Site{}, fmt.Errorf("%w: %q does not match %s prefix %q", domain.ErrInvalidLabel, label, kind, kind.LabelPrefix())
		}
		if _, exists := g.sites[label]; exists {
			return domain.Site{}, fmt.Errorf("%w: %q already registered", domain.ErrInvalidLabel, label)
		}
		if n, err := strconv.Atoi(label[1:]); err == nil && n > g.seq[kind] {
			g.seq[kind] = n
		}
	}
	site := domain.Site{Label: label, Kind: kind, Cell: c}
	g.cells[g.index(c)] = domain.CellSite
	g.sites[label] = site
	g.byCell[c] = label
	return site, nil
}

func (g *Grid) nextLabelLocked(kind domain.SiteKind) string {
	for {
		g.seq[kind]++
		label := kind.LabelPrefix() + strconv.Itoa(g.seq[kind])
		if _, exists := g.sites[label]; !exists {
			return label
		}
	}
}

func (g *Grid) checkEmptyLocked(c domain.Cell) error {
	if !g.InBounds(c) {
		return domain.ErrOutOfBounds
	}
	if g.cells[g.index(c)] != domain.CellEmpty {
		return domain.ErrCellOccupied
	}
	return nil
}

func (g *Grid) Resolve(label string) (domain.Site, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	site, ok := g.sites[strings.TrimSpace(label)]
	if !ok {
		return domain.Site{}, fmt.Errorf("resolve %q: %w", label, domain.ErrUnknownSite)
	}
	return site, nil
}

// SiteAt returns the site registered on c, if any.
func (g *Grid) SiteAt(c domain.Cell) (domain.Site, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	label, ok := g.byCell[c]
	if !ok {
		return domain.Site{}, false
	}
	return g.sites[label], true
}

// Sites returns all sites of the given kinds (all kinds when none given), sorted by label.
func (g *Grid) Sites(kinds ...domain.SiteKind) []domain.Site {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]domain.Site, 0, len(g.sites))
	for _, s := range g.sites {
		if len(kinds) > 0 && !containsKind(kinds, s.Kind) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return lessLabel(out[i].Label, out[j].Label)
	})
	return out
}

func containsKind(kinds []domain.SiteKind, k domain.SiteKind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}

// lessLabel orders H2 before H10.
func lessLabel(a, b string) bool {
	if a[:1] != b[:1] {
		return a < b
	}
	na, errA := strconv.Atoi(a[1:])
	nb, errB := strconv.Atoi(b[1:])
	if errA != nil || errB != nil || na == nb {
		return a < b
	}
	return na < nb
}

func (g *Grid) Structures() []domain.Cell {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []domain.Cell
	for i, k := range g.cells {
		if k == domain.CellStructure {
			out = append(out, domain.Cell{X: i % g.size, Y: i / g.size})
		}
	}
	return out
}

// EmptyCells returns every Empty cell in row-major order.
func (g *Grid) EmptyCells() []domain.Cell {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []domain.Cell
	for i, k := range g.cells {
		if k == domain.CellEmpty {
			out = append(out, domain.Cell{X: i % g.size, Y: i / g.size})
		}
	}
	return out
}

func (g *Grid) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clear()
}
