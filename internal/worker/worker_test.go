package worker

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferdiu/latex-server/internal/compiler"
	"github.com/ferdiu/latex-server/internal/events"
	"github.com/ferdiu/latex-server/internal/metrics"
	"github.com/ferdiu/latex-server/internal/queue"
	"github.com/ferdiu/latex-server/internal/worker/mocks"
)

func runPoolUntilIdle(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p.Run(ctx)
}

func TestPoolExecutesJobAndRecordsSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockQueue := mocks.NewMockJobQueue(ctrl)
	mockCompiler := mocks.NewMockCompileService(ctrl)
	hub := events.NewHub(16)

	job := &queue.Job{
		ID:      "job-1",
		Payload: []byte(`{"main": "\\documentclass{article}"}`),
		Status:  queue.StatusRunning,
	}

	first := mockQueue.EXPECT().Dequeue(gomock.Any()).Return(job, nil)
	mockQueue.EXPECT().Dequeue(gomock.Any()).Return(nil, nil).AnyTimes().After(first)
	mockQueue.EXPECT().Depth(gomock.Any()).Return(0, nil).AnyTimes()

	mockCompiler.EXPECT().
		Compile(gomock.Any(), "job-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, req compiler.Request) (compiler.Outcome, error) {
			assert.Equal(t, "\\documentclass{article}", req.Main)
			return compiler.Outcome{
				Log:          "ok",
				Artifact:     []byte("%PDF-1.5 fake"),
				EnginePasses: 2,
			}, nil
		})

	var completed queue.Result
	mockQueue.EXPECT().
		Complete(gomock.Any(), "job-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, res queue.Result) error {
			completed = res
			return nil
		})

	pool := NewPool(mockQueue, mockCompiler, hub, metrics.NoopRecorder{}, 1, 10*time.Millisecond)
	runPoolUntilIdle(t, pool)

	require.Equal(t, queue.StatusSucceeded, completed.Status)
	assert.Equal(t, 2, completed.Passes)
	assert.Equal(t, []byte("%PDF-1.5 fake"), completed.Artifact)
	assert.NotEmpty(t, completed.ArtifactDigest)
	assert.Nil(t, completed.LastError)

	types := make(map[string]bool)
	for _, ev := range hub.SnapshotSince(0) {
		types[ev.Type] = true
	}
	assert.True(t, types[events.TypeJobStarted], "missing job.started event")
	assert.True(t, types[events.TypeJobCompleted], "missing job.completed event")
}

func TestPoolClaimsNextJobWithoutWaitingForPoll(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockQueue := mocks.NewMockJobQueue(ctrl)
	mockCompiler := mocks.NewMockCompileService(ctrl)
	hub := events.NewHub(16)

	jobA := &queue.Job{ID: "job-a", Payload: []byte(`{"main": "a"}`)}
	jobB := &queue.Job{ID: "job-b", Payload: []byte(`{"main": "b"}`)}

	first := mockQueue.EXPECT().Dequeue(gomock.Any()).Return(jobA, nil)
	second := mockQueue.EXPECT().Dequeue(gomock.Any()).Return(jobB, nil).After(first)
	mockQueue.EXPECT().Dequeue(gomock.Any()).Return(nil, nil).AnyTimes().After(second)
	mockQueue.EXPECT().Depth(gomock.Any()).Return(0, nil).AnyTimes()

	mockCompiler.EXPECT().
		Compile(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(compiler.Outcome{Log: "ok", Artifact: []byte("%PDF")}, nil).
		Times(2)

	var completed []string
	mockQueue.EXPECT().
		Complete(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, jobID string, _ queue.Result) error {
			completed = append(completed, jobID)
			return nil
		}).
		Times(2)

	// With an hour-long poll interval, both jobs only finish inside the test
	// window if a successful claim triggers the next dequeue immediately.
	pool := NewPool(mockQueue, mockCompiler, hub, metrics.NoopRecorder{}, 1, time.Hour)
	runPoolUntilIdle(t, pool)

	require.Equal(t, []string{"job-a", "job-b"}, completed)
}

func TestPoolMarksFailureWhenNoArtifact(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockQueue := mocks.NewMockJobQueue(ctrl)
	mockCompiler := mocks.NewMockCompileService(ctrl)
	hub := events.NewHub(16)

	job := &queue.Job{ID: "job-2", Payload: []byte(`{"main": "x"}`)}
	first := mockQueue.EXPECT().Dequeue(gomock.Any()).Return(job, nil)
	mockQueue.EXPECT().Dequeue(gomock.Any()).Return(nil, nil).AnyTimes().After(first)
	mockQueue.EXPECT().Depth(gomock.Any()).Return(0, nil).AnyTimes()

	mockCompiler.EXPECT().
		Compile(gomock.Any(), "job-2", gomock.Any()).
		Return(compiler.Outcome{Log: "boom", EnginePasses: 5}, nil)

	var completed queue.Result
	mockQueue.EXPECT().
		Complete(gomock.Any(), "job-2", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, res queue.Result) error {
			completed = res
			return nil
		})

	pool := NewPool(mockQueue, mockCompiler, hub, metrics.NoopRecorder{}, 1, 10*time.Millisecond)
	runPoolUntilIdle(t, pool)

	require.Equal(t, queue.StatusFailed, completed.Status)
	require.NotNil(t, completed.LastError)
	assert.Equal(t, "PDF file was not generated", *completed.LastError)
	assert.Empty(t, completed.ArtifactDigest)

	types := make(map[string]bool)
	for _, ev := range hub.SnapshotSince(0) {
		types[ev.Type] = true
	}
	assert.True(t, types[events.TypeJobFailed], "missing job.failed event")
}

func TestPoolRejectsUndecodablePayloadWithoutCompiling(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockQueue := mocks.NewMockJobQueue(ctrl)
	mockCompiler := mocks.NewMockCompileService(ctrl)
	hub := events.NewHub(16)

	job := &queue.Job{ID: "job-3", Payload: []byte(`{not json`)}
	first := mockQueue.EXPECT().Dequeue(gomock.Any()).Return(job, nil)
	mockQueue.EXPECT().Dequeue(gomock.Any()).Return(nil, nil).AnyTimes().After(first)
	mockQueue.EXPECT().Depth(gomock.Any()).Return(0, nil).AnyTimes()

	// Compile must never be reached.

	var completed queue.Result
	mockQueue.EXPECT().
		Complete(gomock.Any(), "job-3", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, res queue.Result) error {
			completed = res
			return nil
		})

	pool := NewPool(mockQueue, mockCompiler, hub, metrics.NoopRecorder{}, 1, 10*time.Millisecond)
	runPoolUntilIdle(t, pool)

	require.Equal(t, queue.StatusFailed, completed.Status)
	require.NotNil(t, completed.LastError)
	assert.Contains(t, *completed.LastError, "decode job payload")
}
