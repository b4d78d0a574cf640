package supervisor

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladbarosan/oav-express/pkg/models"
	"github.com/vladbarosan/oav-express/pkg/registry"
	"github.com/vladbarosan/oav-express/pkg/worker"
)

const helperEnv = "OAV_SUPERVISOR_HELPER_WORKER"

type discardSink struct{}

func (discardSink) WriteRows(ctx context.Context, sessionID string, rows []models.ResultRow) error {
	return nil
}

// TestHelperWorkerProcess is not a real test: it is the body of the worker
// processes started by TestProcessSpawner.
func TestHelperWorkerProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	err := RunChild(context.Background(), os.Stdin, os.Stdout, ChildOptions{
		Factory: staticFactory(okValidator),
		Sink:    discardSink{},
	})
	if err != nil {
		os.Exit(2)
	}
	os.Exit(0)
}

func TestRunChildRelaysCommandsAndEvents(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	sink := &memorySink{}
	done := make(chan error, 1)
	go func() {
		done <- RunChild(context.Background(), inR, outW, ChildOptions{
			Factory: staticFactory(okValidator),
			Sink:    sink,
		})
		outW.Close()
	}()

	session := models.Session{
		ID:    "child-1",
		Scope: models.Scope{ResourceProvider: "Microsoft.Cache"},
		State: models.SessionStateAdmitted,
	}
	enc := json.NewEncoder(inW)
	dec := json.NewDecoder(outR)

	require.NoError(t, enc.Encode(Command{Type: CommandStart, Session: &session}))

	next := func() worker.Event {
		var ev worker.Event
		require.NoError(t, dec.Decode(&ev))
		return ev
	}
	assert.Equal(t, models.SessionStateInitializing, next().State)
	assert.Equal(t, models.SessionStateActive, next().State)

	s := sample(cacheURL)
	require.NoError(t, enc.Encode(Command{Type: CommandSample, Sample: &s}))
	require.NoError(t, enc.Encode(Command{Type: CommandStop}))

	assert.Equal(t, models.SessionStateDraining, next().State)
	flushed := next()
	assert.Equal(t, worker.EventFlushed, flushed.Type)
	assert.Equal(t, 2, flushed.Rows)
	exited := next()
	assert.Equal(t, worker.EventExited, exited.Type)
	assert.Equal(t, 1, exited.SamplesHandled)
	assert.False(t, exited.Crashed)

	require.NoError(t, <-done)
	inW.Close()

	rows, ok := sink.get("child-1")
	require.True(t, ok)
	assert.Len(t, rows, 2)
}

func TestRunChildRejectsMissingStart(t *testing.T) {
	in := `{"type":"stop"}` + "\n"
	err := RunChild(context.Background(), strings.NewReader(in), io.Discard, ChildOptions{})
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestProcessSpawner(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("process groups are only exercised on linux")
	}
	t.Setenv(helperEnv, "1")

	reg := registry.New(time.Minute, nil)
	t.Cleanup(reg.Close)

	spawner := &ProcessSpawner{
		Executable:    os.Args[0],
		Args:          []string{"-test.run=^TestHelperWorkerProcess$"},
		UsageInterval: 50 * time.Millisecond,
	}
	sup := New(Config{GracePeriod: 2 * time.Second}, reg, spawner, nil)

	id, err := sup.Admit(context.Background(), request(""))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, _ := sup.Get(id)
		return s.State == models.SessionStateActive
	}, 10*time.Second, 20*time.Millisecond)

	result := sup.Dispatch(context.Background(), sample(cacheURL))
	assert.Equal(t, 1, result.Delivered)

	require.NoError(t, sup.Stop(id))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, sup.Wait(ctx, id))

	s, ok := sup.Get(id)
	require.True(t, ok)
	assert.Equal(t, models.SessionStateTerminated, s.State)
	assert.False(t, s.LostResults)
}

func TestProcessSpawnerKill(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("process groups are only exercised on linux")
	}
	t.Setenv(helperEnv, "1")

	h, err := (&ProcessSpawner{
		Executable: os.Args[0],
		Args:       []string{"-test.run=^TestHelperWorkerProcess$"},
	}).Spawn(models.Session{ID: "kill-me", State: models.SessionStateAdmitted})
	require.NoError(t, err)

	var last worker.Event
	killed := false
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				assert.Equal(t, worker.EventExited, last.Type)
				assert.True(t, last.Killed)
				return
			}
			last = ev
			if ev.State == models.SessionStateActive && !killed {
				killed = true
				h.Kill()
				assert.False(t, h.Deliver(sample(cacheURL)))
			}
		case <-timeout:
			t.Fatal("worker process was not reaped")
		}
	}
}
