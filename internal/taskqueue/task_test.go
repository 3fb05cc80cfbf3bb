package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewBaseTaskGeneratesID(t *testing.T) {
	t.Parallel()
	task := NewBaseTask("")
	_, err := uuid.Parse(task.ID())
	require.NoError(t, err)

	require.Equal(t, "import-1", NewBaseTask("import-1").ID())
}

func TestUpdateTypeIsTerminal(t *testing.T) {
	t.Parallel()
	require.True(t, UpdateComplete.IsTerminal())
	require.True(t, UpdateCanceled.IsTerminal())
	require.False(t, UpdateProgress.IsTerminal())
	require.False(t, UpdateError.IsTerminal())
}

func TestNotifyCallsObserversInOrder(t *testing.T) {
	t.Parallel()
	task := NewBaseTask("a")

	var got []string
	task.AddObserver(func(updateType UpdateType, data any) {
		got = append(got, "first:"+updateType.String()+":"+data.(string))
	})
	task.AddObserver(func(updateType UpdateType, data any) {
		got = append(got, "second:"+updateType.String()+":"+data.(string))
	})

	task.Notify(UpdateProgress, "x")
	task.Notify(UpdateComplete, "y")

	require.Equal(t, []string{
		"first:PROGRESS:x", "second:PROGRESS:x",
		"first:COMPLETE:y", "second:COMPLETE:y",
	}, got)
}

func TestWhenFinishedResolvesOnTerminalOnly(t *testing.T) {
	t.Parallel()
	task := NewBaseTask("a")

	task.Notify(UpdateProgress, nil)
	task.Notify(UpdateError, nil)
	select {
	case <-task.WhenFinished():
		t.Fatal("task finished before a terminal update")
	default:
	}
	require.Equal(t, UpdateType(""), task.FinalUpdate())

	task.Notify(UpdateCanceled, nil)
	select {
	case <-task.WhenFinished():
	default:
		t.Fatal("task should be finished")
	}
	require.Equal(t, UpdateCanceled, task.FinalUpdate())

	// A second terminal update must not panic on the closed channel.
	task.Notify(UpdateComplete, nil)
	require.Equal(t, UpdateCanceled, task.FinalUpdate())
}

func TestWait(t *testing.T) {
	t.Parallel()
	task := NewBaseTask("a")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := task.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	go func() {
		time.Sleep(5 * time.Millisecond)
		task.Notify(UpdateComplete, nil)
	}()
	updateType, err := task.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, UpdateComplete, updateType)
}
