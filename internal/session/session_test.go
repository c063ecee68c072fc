package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bao243092078-crypto/memory-anchor/internal/model"
)

type fakeLifecycle struct {
	started  []string
	archived []model.SessionState
}

func (f *fakeLifecycle) StartSession(sessionID string) model.SessionState {
	f.started = append(f.started, sessionID)
	return model.SessionState{SessionID: sessionID, StartedAt: time.Now().UTC()}
}

func (f *fakeLifecycle) EndSession(ctx context.Context, state model.SessionState, summary string) error {
	f.archived = append(f.archived, state)
	return nil
}

func TestStartGeneratesSessionIDWhenEmpty(t *testing.T) {
	lc := &fakeLifecycle{}
	tr := Start(lc, "")
	assert.NotEmpty(t, tr.ID())
	assert.Equal(t, []string{tr.ID()}, lc.started)
}

func TestEndArchivesCountersAndTouchedFiles(t *testing.T) {
	lc := &fakeLifecycle{}
	tr := Start(lc, "sess-1")
	tr.RecordMemoryOp()
	tr.RecordMemoryOp()
	tr.RecordFileMod("cmd/main.go")
	tr.RecordFileMod("cmd/main.go")
	tr.RecordFileMod("internal/app/app.go")

	require.NoError(t, tr.End(context.Background(), "two writes, two files"))
	require.Len(t, lc.archived, 1)
	got := lc.archived[0]
	assert.Equal(t, 2, got.MemoryOpsCount)
	assert.Equal(t, 3, got.FileModsCount)
	assert.Len(t, got.SourceFiles, 2)
	assert.NotNil(t, got.EndedAt)
}

func TestEndTwiceArchivesOnce(t *testing.T) {
	lc := &fakeLifecycle{}
	tr := Start(lc, "sess-2")
	require.NoError(t, tr.End(context.Background(), ""))
	require.NoError(t, tr.End(context.Background(), ""))
	assert.Len(t, lc.archived, 1)
}

func TestConcurrentRecordsAllCounted(t *testing.T) {
	lc := &fakeLifecycle{}
	tr := Start(lc, "sess-3")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.RecordMemoryOp()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, tr.State().MemoryOpsCount)
}
