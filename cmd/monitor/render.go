package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"courier_grid/internal/domain"
	"courier_grid/internal/sim"
)

// Map glyphs, later layers win: path < obstacle < site < agent.
const (
	glyphEmpty     = "·"
	glyphStructure = "[gray]█[-]"
	glyphPath      = "[darkcyan]∙[-]"
	glyphObstacle  = "[yellow]o[-]"
	glyphHospital  = "[red::b]H[-::-]"
	glyphRemote    = "[blue::b]R[-::-]"
	glyphAgent     = "[green::b]@[-::-]"
)

func renderGrid(s sim.Snapshot) string {
	if s.Size <= 0 {
		return "No grid"
	}
	cells := make([]string, s.Size*s.Size)
	for i := range cells {
		cells[i] = glyphEmpty
	}
	set := func(c domain.Cell, glyph string) {
		if c.X < 0 || c.Y < 0 || c.X >= s.Size || c.Y >= s.Size {
			return
		}
		cells[c.Y*s.Size+c.X] = glyph
	}
	for _, c := range s.Structures {
		set(c, glyphStructure)
	}
	for _, a := range s.Agents {
		for _, c := range a.Path {
			set(c, glyphPath)
		}
	}
	for _, o := range s.Obstacles {
		set(o.Cell, glyphObstacle)
	}
	for _, site := range s.Sites {
		if site.Kind == domain.SiteRemote {
			set(site.Cell, glyphRemote)
		} else {
			set(site.Cell, glyphHospital)
		}
	}
	for _, a := range s.Agents {
		set(a.Cell, glyphAgent)
	}

	var b strings.Builder
	for y := 0; y < s.Size; y++ {
		for x := 0; x < s.Size; x++ {
			if x > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(cells[y*s.Size+x])
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func renderStats(s sim.Snapshot) string {
	state := "[red]stopped[-]"
	if s.Running {
		state = "[green]running[-]"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "run=%s %s tick=%d\n", shortID(s.RunID), state, s.Tick)
	fmt.Fprintf(&b, "agents=%d obstacles=%d sites=%d\n", len(s.Agents), len(s.Obstacles), len(s.Sites))
	fmt.Fprintf(&b, "spawned=%d completed=%d replans=%d\n", s.Stats.Spawned, s.Stats.Completed, s.Stats.Replans)
	fmt.Fprintf(&b, "blocked=%d deferred=%d rejected=%d\n", s.Stats.BlockedMoves, s.Stats.Deferred, s.Stats.Rejected)
	if len(s.ActiveOrigins) > 0 {
		b.WriteString("busy origins: " + strings.Join(s.ActiveOrigins, " ") + "\n")
	}
	return b.String()
}

func renderAgents(s sim.Snapshot) string {
	if len(s.Agents) == 0 {
		return "No agents"
	}
	var b strings.Builder
	for _, a := range s.Agents {
		fmt.Fprintf(&b, "%s %s->%s at %s goal %s steps=%d every=%d replans=%d\n",
			a.TaskID, a.Origin, a.Destination, a.Cell, a.Goal, len(a.Path), a.Interval, a.Replans)
	}
	return b.String()
}

// sortTasks puts open tasks first, newest first within each group.
func sortTasks(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		ci := tasks[i].Status == domain.TaskStatusCompleted
		cj := tasks[j].Status == domain.TaskStatusCompleted
		if ci != cj {
			return !ci
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
}

func renderTasksTable(table *tview.Table, tasks []domain.Task) {
	table.Clear()
	headers := []string{"Task", "Status", "From", "To", "Cargo", "Created"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, t := range tasks {
		row := i + 1
		status := tview.NewTableCell(string(t.Status))
		switch t.Status {
		case domain.TaskStatusInProgress:
			status.SetTextColor(tcell.ColorGreen)
		case domain.TaskStatusCompleted:
			status.SetTextColor(tcell.ColorGray)
		}
		table.SetCell(row, 0, tview.NewTableCell(t.ID))
		table.SetCell(row, 1, status)
		table.SetCell(row, 2, tview.NewTableCell(t.Origin))
		table.SetCell(row, 3, tview.NewTableCell(t.Destination.Label))
		table.SetCell(row, 4, tview.NewTableCell(t.Cargo))
		table.SetCell(row, 5, tview.NewTableCell(t.CreatedAt.Local().Format("15:04:05")))
	}
}

// parseTaskInput reads "ORIGIN DESTINATION [cargo]".
func parseTaskInput(input string) (origin, destination, cargo string, err error) {
	fields := strings.Fields(input)
	if len(fields) < 2 {
		return "", "", "", fmt.Errorf("expected ORIGIN DESTINATION [cargo]")
	}
	origin = strings.ToUpper(fields[0])
	destination = strings.ToUpper(fields[1])
	if len(fields) > 2 {
		cargo = strings.Join(fields[2:], " ")
	}
	return origin, destination, cargo, nil
}

func shortID(v string) string {
	if len(v) <= 8 {
		return v
	}
	return v[:8]
}
