package domain

import (
	"fmt"
	"strings"
	"time"
)

type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Cell) Add(d Direction) Cell {
	return Cell{X: c.X + d.DX, Y: c.Y + d.DY}
}

func (c Cell) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// Chebyshev is the king-move distance used for proximity radii.
func (c Cell) Chebyshev(o Cell) int {
	return max(abs(c.X-o.X), abs(c.Y-o.Y))
}

func (c Cell) Manhattan(o Cell) int {
	return abs(c.X-o.X) + abs(c.Y-o.Y)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type CellKind int

const (
	CellEmpty CellKind = iota
	CellSite
	CellStructure
)

func (k CellKind) String() string {
	switch k {
	case CellSite:
		return "site"
	case CellStructure:
		return "structure"
	default:
		return "empty"
	}
}

type SiteKind string

const (
	SiteHospital SiteKind = "hospital"
	SiteRemote   SiteKind = "remote"
)

// LabelPrefix is the leading letter of every label of this kind.
func (k SiteKind) LabelPrefix() string {
	if k == SiteRemote {
		return "R"
	}
	return "H"
}

type Site struct {
	Label string   `json:"label"`
	Kind  SiteKind `json:"kind"`
	Cell  Cell     `json:"cell"`
}

type Direction struct {
	DX int `json:"dx"`
	DY int `json:"dy"`
}

var (
	DirLeft  = Direction{DX: -1, DY: 0}
	DirRight = Direction{DX: 1, DY: 0}
	DirUp    = Direction{DX: 0, DY: -1}
	DirDown  = Direction{DX: 0, DY: 1}
)

// Directions lists the four axis-aligned moves in a fixed order.
var Directions = [4]Direction{DirLeft, DirRight, DirUp, DirDown}

type Obstacle struct {
	ID       int       `json:"id"`
	Cell     Cell      `json:"cell"`
	Dir      Direction `json:"dir"`
	OverSite bool      `json:"over_site"`
}

func (o Obstacle) Predicted() Cell {
	return o.Cell.Add(o.Dir)
}

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "Pending"
	TaskStatusInProgress TaskStatus = "InProgress"
	TaskStatusCompleted  TaskStatus = "Completed"
)

func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(strings.TrimSpace(s)) {
	case TaskStatusPending:
		return TaskStatusPending, nil
	case TaskStatusInProgress:
		return TaskStatusInProgress, nil
	case TaskStatusCompleted:
		return TaskStatusCompleted, nil
	}
	return "", fmt.Errorf("%w: status %q", ErrMalformedRecord, s)
}

// Destination is resolved once at intake; nothing downstream re-reads the label.
type Destination struct {
	Kind  SiteKind `json:"kind"`
	Label string   `json:"label"`
}

func Hospital(label string) Destination { return Destination{Kind: SiteHospital, Label: label} }

func Remote(label string) Destination { return Destination{Kind: SiteRemote, Label: label} }

func (d Destination) String() string {
	return d.Label
}

func ParseDestination(label string) (Destination, error) {
	label = strings.TrimSpace(label)
	if len(label) < 2 {
		return Destination{}, fmt.Errorf("%w: destination %q", ErrMalformedRecord, label)
	}
	switch label[:1] {
	case SiteHospital.LabelPrefix():
		return Hospital(label), nil
	case SiteRemote.LabelPrefix():
		return Remote(label), nil
	}
	return Destination{}, fmt.Errorf("%w: destination %q", ErrMalformedRecord, label)
}

type Task struct {
	ID          string      `json:"id"`
	CreatedAt   time.Time   `json:"created_at"`
	Cargo       string      `json:"cargo"`
	Origin      string      `json:"origin"`
	Destination Destination `json:"destination"`
	Status      TaskStatus  `json:"status"`
}

type AgentView struct {
	TaskID      string `json:"task_id"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Cargo       string `json:"cargo"`
	Cell        Cell   `json:"cell"`
	Goal        Cell   `json:"goal"`
	Path        []Cell `json:"path"`
	Interval    int    `json:"interval"`
	Replans     int    `json:"replans"`
}

type EventKind string

const (
	EventAgentSpawned   EventKind = "agent_spawned"
	EventAgentMoved     EventKind = "agent_moved"
	EventAgentReplanned EventKind = "agent_replanned"
	EventTaskCompleted  EventKind = "task_completed"
	EventTaskRejected   EventKind = "task_rejected"
)

type Event struct {
	Kind   EventKind `json:"kind"`
	TaskID string    `json:"task_id"`
	Cell   Cell      `json:"cell"`
	Tick   int64     `json:"tick"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}
