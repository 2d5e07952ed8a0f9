package feed

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier_grid/internal/domain"
	"courier_grid/internal/store/memory"
	"courier_grid/internal/testutils"
	"courier_grid/internal/world"
)

var quiet = log.New(io.Discard, "", 0)

func newWorld(t *testing.T) (*world.Grid, *world.ActiveOrigins) {
	t.Helper()
	g := world.New(5)
	_, err := g.PlaceSite(domain.Cell{X: 0, Y: 0}, domain.SiteHospital, "H1")
	require.NoError(t, err)
	_, err = g.PlaceSite(domain.Cell{X: 4, Y: 4}, domain.SiteHospital, "H2")
	require.NoError(t, err)
	return g, world.NewActiveOrigins()
}

func TestProduceOnceHospitalToHospital(t *testing.T) {
	ctx := context.Background()
	g, origins := newWorld(t)
	store := memory.New()
	p := NewProducer(g, origins, store, testutils.NewScriptedRoller(), ProducerConfig{RemoteShare: -1}, quiet)

	task, err := p.ProduceOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, "T0001", task.ID)
	assert.Equal(t, "H1", task.Origin)
	assert.Equal(t, domain.Hospital("H2"), task.Destination)
	assert.Equal(t, DefaultCargo[0], task.Cargo)
	assert.Equal(t, domain.TaskStatusPending, task.Status)

	task, err = p.ProduceOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, "T0002", task.ID)

	all, err := store.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestProduceOnceSkipsActiveOrigins(t *testing.T) {
	g, origins := newWorld(t)
	origins.Acquire("H1", "T0009")
	p := NewProducer(g, origins, memory.New(), testutils.NewScriptedRoller(), ProducerConfig{RemoteShare: -1}, quiet)

	task, err := p.ProduceOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "H2", task.Origin)
	assert.Equal(t, domain.Hospital("H1"), task.Destination)
}

func TestProduceOnceSkipsOriginsWithOpenTasks(t *testing.T) {
	ctx := context.Background()
	g, origins := newWorld(t)
	store := memory.New()
	require.NoError(t, store.AppendPending(ctx, domain.Task{
		ID: "M0001", Origin: "H1", Destination: domain.Hospital("H2"), Cargo: "blood", Status: domain.TaskStatusPending,
	}))
	p := NewProducer(g, origins, store, testutils.NewScriptedRoller(), ProducerConfig{RemoteShare: -1}, quiet)

	task, err := p.ProduceOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, "H2", task.Origin)

	_, err = p.ProduceOnce(ctx)
	require.ErrorIs(t, err, ErrNoFreeOrigin)

	// completion frees the origin again
	require.NoError(t, store.MarkCompleted(ctx, "M0001"))
	task, err = p.ProduceOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, "H1", task.Origin)
}

func TestProduceOnceStoreFailure(t *testing.T) {
	g, origins := newWorld(t)
	p := NewProducer(g, origins, failingStore{}, testutils.NewScriptedRoller(), ProducerConfig{RemoteShare: -1}, quiet)

	_, err := p.ProduceOnce(context.Background())
	require.ErrorIs(t, err, errStore)
}

func TestProduceOnceWithoutFreeOrigin(t *testing.T) {
	ctx := context.Background()
	g, origins := newWorld(t)
	origins.Acquire("H1", "a")
	origins.Acquire("H2", "b")
	store := memory.New()
	p := NewProducer(g, origins, store, testutils.NewScriptedRoller(), ProducerConfig{}, quiet)

	_, err := p.ProduceOnce(ctx)
	require.ErrorIs(t, err, ErrNoFreeOrigin)
	all, _ := store.ListTasks(ctx)
	assert.Empty(t, all)
}

func TestProduceOnceSingleHospitalHasNoDestination(t *testing.T) {
	g := world.New(5)
	_, err := g.PlaceHospital(domain.Cell{X: 2, Y: 2})
	require.NoError(t, err)
	p := NewProducer(g, world.NewActiveOrigins(), memory.New(), testutils.NewScriptedRoller(), ProducerConfig{RemoteShare: -1}, quiet)

	_, err = p.ProduceOnce(context.Background())
	require.ErrorIs(t, err, ErrNoDestination)
}

func TestProduceOnceCreatesRemoteSite(t *testing.T) {
	g, origins := newWorld(t)
	p := NewProducer(g, origins, memory.New(), testutils.NewScriptedRoller(), ProducerConfig{RemoteShare: 100}, quiet)

	task, err := p.ProduceOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SiteRemote, task.Destination.Kind)

	remotes := g.Sites(domain.SiteRemote)
	require.Len(t, remotes, 1)
	assert.Equal(t, task.Destination.Label, remotes[0].Label)
	assert.Equal(t, domain.CellSite, g.Classify(remotes[0].Cell))
}

func TestProduceOnceRollerFailure(t *testing.T) {
	g, origins := newWorld(t)
	p := NewProducer(g, origins, memory.New(), testutils.FailingRoller{}, ProducerConfig{RemoteShare: -1}, quiet)

	_, err := p.ProduceOnce(context.Background())
	require.ErrorIs(t, err, testutils.ErrRollerBroken)
}

func TestRunStopsWhenContextEnds(t *testing.T) {
	g, origins := newWorld(t)
	store := memory.New()
	p := NewProducer(g, origins, store, testutils.NewScriptedRoller(), ProducerConfig{
		MinInterval: time.Millisecond,
		MaxInterval: 2 * time.Millisecond,
		RemoteShare: -1,
	}, quiet)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		all, _ := store.ListTasks(context.Background())
		return len(all) >= 2
	}, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not return after cancel")
	}
}

func TestManualTask(t *testing.T) {
	ctx := context.Background()
	g, _ := newWorld(t)
	store := memory.New()
	a := NewAdapter(g, store, quiet)

	task, err := a.ManualTask(ctx, "H2", "H1", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(task.ID, "M-"), task.ID)
	assert.Len(t, task.ID, 10)
	assert.Equal(t, manualCargo, task.Cargo)
	assert.Equal(t, domain.Hospital("H1"), task.Destination)

	_, err = a.ManualTask(ctx, "H1", "R7", "blood")
	assert.ErrorIs(t, err, domain.ErrUnknownSite)
	_, err = a.ManualTask(ctx, "H1", "H1", "blood")
	assert.ErrorIs(t, err, ErrSameSite)

	all, err := store.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestImportAndWriteCSV(t *testing.T) {
	ctx := context.Background()
	g, _ := newWorld(t)
	store := memory.New()
	a := NewAdapter(g, store, quiet)

	tasks := []domain.Task{
		{ID: "T0001", CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Cargo: "blood", Origin: "H1", Destination: domain.Hospital("H2"), Status: domain.TaskStatusPending},
		{ID: "T0002", CreatedAt: time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC), Cargo: "organs", Origin: "H2", Destination: domain.Remote("R1"), Status: domain.TaskStatusCompleted},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, tasks))
	buf.WriteString("T0003,garbage,blood,H1,H2,Pending\n")

	n, err := a.Import(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = a.Import(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "re-import must not duplicate tasks")

	all, err := store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.TaskStatusCompleted, all[1].Status)
}

func TestImportPropagatesStoreErrors(t *testing.T) {
	a := NewAdapter(world.New(3), failingStore{}, quiet)
	_, err := a.Import(context.Background(), strings.NewReader("T0001,2026-01-01T00:00:00Z,blood,H1,H2,Pending\n"))
	require.True(t, errors.Is(err, errStore), "got %v", err)
}

var errStore = errors.New("store down")

type failingStore struct{}

func (failingStore) AppendPending(context.Context, domain.Task) error { return errStore }
func (failingStore) ListUnassigned(context.Context) ([]domain.Task, error) {
	return nil, errStore
}
