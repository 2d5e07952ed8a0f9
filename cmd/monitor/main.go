package main

import (
	"bytes"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

type embeddedDispatcher struct {
	cmd *exec.Cmd
	out bytes.Buffer
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "dispatcher base URL")
	interval := flag.Duration("interval", 500*time.Millisecond, "refresh interval")
	embedded := flag.Bool("embedded", true, "start a dispatcher in the same monitor process lifecycle")
	dispatcherBinary := flag.String("dispatcher-bin", "", "path to dispatcher binary (optional in embedded mode)")
	grpcAddr := flag.String("grpc-addr", ":50052", "gRPC health address for the embedded dispatcher")
	flag.Parse()

	c := newClient(*addr)

	if *embedded {
		proc, err := startEmbeddedDispatcher(*addr, *grpcAddr, *dispatcherBinary)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start embedded dispatcher: %v\n", err)
			os.Exit(1)
		}
		defer proc.Stop()
	}

	if err := c.waitHealth(30 * time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "dispatcher health check failed: %v\n", err)
		os.Exit(1)
	}

	app := tview.NewApplication()

	gridView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	gridView.SetTitle("Grid").SetBorder(true)

	statsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statsView.SetTitle("Run").SetBorder(true)

	agentsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	agentsView.SetTitle("Agents").SetBorder(true)

	tasksTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	tasksTable.SetTitle("Tasks").SetBorder(true)

	taskInput := tview.NewInputField().
		SetLabel("Alert (ORIGIN DEST [cargo]): ")
	taskInput.SetBorder(true).SetTitle("Enter = manual task")

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf(
		"Connected to %s | embedded=%t | F2 start, F3 stop, F4 reset, F5 refresh, F10 quit, Ctrl+L alert input",
		c.baseURL,
		*embedded,
	))

	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(statsView, 7, 0, false).
		AddItem(agentsView, 0, 1, false).
		AddItem(tasksTable, 0, 2, false)

	mainLayout := tview.NewFlex().
		AddItem(gridView, 0, 3, false).
		AddItem(right, 0, 2, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, false).
		AddItem(taskInput, 3, 0, true).
		AddItem(statusView, 3, 0, false)

	setStatusUI := func(msg string) {
		statusView.SetText(msg)
	}
	setStatusAsync := func(msg string) {
		app.QueueUpdateDraw(func() {
			statusView.SetText(msg)
		})
	}

	refresh := func() {
		snap, err := c.snapshot()
		if err != nil {
			app.QueueUpdateDraw(func() {
				gridView.SetText(fmt.Sprintf("load error: %v", err))
			})
			return
		}
		tasks, taskErr := c.listTasks()
		sortTasks(tasks)
		app.QueueUpdateDraw(func() {
			gridView.SetText(renderGrid(snap))
			statsView.SetText(renderStats(snap))
			agentsView.SetText(renderAgents(snap))
			if taskErr != nil {
				tasksTable.Clear()
				tasksTable.SetCell(0, 0, tview.NewTableCell(fmt.Sprintf("load error: %v", taskErr)).SetTextColor(tview.Styles.ContrastSecondaryTextColor))
				return
			}
			renderTasksTable(tasksTable, tasks)
		})
	}

	control := func(action string) {
		setStatusUI("Sending " + action + "...")
		go func() {
			if err := c.control(action); err != nil {
				setStatusAsync(action + " failed: " + err.Error())
				return
			}
			refresh()
			setStatusAsync("Simulation " + action + " ok")
		}()
	}

	taskInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		origin, destination, cargo, err := parseTaskInput(taskInput.GetText())
		if err != nil {
			setStatusUI(err.Error())
			return
		}
		taskInput.SetText("")
		go func() {
			task, err := c.createTask(origin, destination, cargo)
			if err != nil {
				setStatusAsync("Failed to create task: " + err.Error())
				return
			}
			refresh()
			setStatusAsync(fmt.Sprintf("Task %s queued %s -> %s", task.ID, task.Origin, task.Destination))
		}()
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF2:
			control("start")
			return nil
		case tcell.KeyF3:
			control("stop")
			return nil
		case tcell.KeyF4:
			control("reset")
			return nil
		case tcell.KeyF5:
			go refresh()
			setStatusUI("Manual refresh")
			return nil
		case tcell.KeyCtrlL:
			app.SetFocus(taskInput)
			return nil
		case tcell.KeyCtrlT:
			app.SetFocus(tasksTable)
			return nil
		case tcell.KeyEscape, tcell.KeyTAB:
			if app.GetFocus() == taskInput {
				app.SetFocus(tasksTable)
			} else {
				app.SetFocus(taskInput)
			}
			return nil
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		refresh()
		for range ticker.C {
			refresh()
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(taskInput).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}

func startEmbeddedDispatcher(addr, grpcAddr, dispatcherBinary string) (*embeddedDispatcher, error) {
	parsed, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse addr: %w", err)
	}
	port := parsed.Port()
	if port == "" {
		return nil, fmt.Errorf("addr must include explicit port, got %q", addr)
	}
	args := []string{"serve", "--addr", ":" + port, "--grpc-addr", grpcAddr}

	var cmd *exec.Cmd
	if strings.TrimSpace(dispatcherBinary) != "" {
		cmd = exec.Command(dispatcherBinary, args...)
	} else {
		self, err := os.Executable()
		if err == nil {
			sibling := filepath.Join(filepath.Dir(self), "dispatcher")
			if fileExists(sibling) {
				cmd = exec.Command(sibling, args...)
			}
		}
		if cmd == nil {
			cmd = exec.Command("go", append([]string{"run", "./cmd/dispatcher"}, args...)...)
			cwd, _ := os.Getwd()
			cmd.Dir = cwd
		}
	}

	proc := &embeddedDispatcher{cmd: cmd}
	cmd.Stdout = &proc.out
	cmd.Stderr = &proc.out
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start dispatcher process: %w", err)
	}
	return proc, nil
}

func (e *embeddedDispatcher) Stop() {
	if e == nil || e.cmd == nil || e.cmd.Process == nil {
		return
	}
	_ = e.cmd.Process.Kill()
	_, _ = e.cmd.Process.Wait()
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

