package collect

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapcollect/collector/internal/brightdata"
	"github.com/snapcollect/collector/internal/job"
	"github.com/snapcollect/collector/internal/output"
	"github.com/snapcollect/collector/internal/poll"
)

type fakeAPI struct {
	mu sync.Mutex

	triggerErr  error
	states      []poll.State
	statusErr   error
	payload     []byte
	downloadErr error

	triggers  int
	queries   int
	downloads int
	formats   []string
}

func (f *fakeAPI) Trigger(ctx context.Context, datasetID string, inputs []brightdata.Input) (poll.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers++
	if f.triggerErr != nil {
		return "", f.triggerErr
	}
	return "s_test", nil
}

func (f *fakeAPI) FetchStatus(ctx context.Context, h poll.Handle) (poll.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.statusErr != nil {
		return poll.JobStatus{}, f.statusErr
	}
	i := f.queries - 1
	if i >= len(f.states) {
		i = len(f.states) - 1
	}
	return poll.JobStatus{
		State:    f.states[i],
		Raw:      string(f.states[i]),
		Progress: poll.Progress{PagesCrawled: f.queries * 10, PagesExtracted: f.queries},
	}, nil
}

func (f *fakeAPI) Download(ctx context.Context, h poll.Handle, format string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	f.formats = append(f.formats, format)
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return f.payload, nil
}

type recorder struct {
	mu       sync.Mutex
	progress []poll.JobStatus
	finished []job.Job
}

func (r *recorder) RunProgress(j *job.Job, status poll.JobStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, status)
}

func (r *recorder) RunFinished(j *job.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, *j)
}

var fixedTime = time.Date(2024, 5, 1, 9, 30, 0, 123_000_000, time.UTC)

func newCollector(t *testing.T, api *fakeAPI, p Policy) (*Collector, *job.Store, *recorder) {
	t.Helper()
	store := job.NewStore()
	events := &recorder{}
	c := New(api, store, output.NewStore(t.TempDir()),
		WithPolicy(p),
		WithEvents(events),
		WithClock(func() time.Time { return fixedTime }),
	)
	return c, store, events
}

func request() Request {
	return Request{DatasetID: "gd_test", Inputs: []brightdata.Input{{URL: "https://example.com"}}}
}

func TestCollector_DownloadsOnceWhenReady(t *testing.T) {
	api := &fakeAPI{
		states:  []poll.State{poll.StateRunning, poll.StateRunning, poll.StateReady},
		payload: []byte(`[{"answer":"42"}]`),
	}
	c, store, events := newCollector(t, api, Policy{MaxAttempts: 10})

	out, err := c.Run(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, 3, api.queries)
	assert.Equal(t, 1, api.downloads)
	assert.Equal(t, []string{"json"}, api.formats)
	assert.Equal(t, poll.Handle("s_test"), out.Handle)
	assert.Equal(t, 3, out.Poll.Attempts)
	assert.Contains(t, out.OutputPath, "results-2024-05-01T09-30-00-123Z.json")

	content, err := os.ReadFile(out.OutputPath)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"answer":"42"}]`, string(content))

	stored, err := store.Get(out.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateCompleted, stored.State)
	assert.Equal(t, "s_test", stored.SnapshotID)
	assert.Equal(t, 3, stored.Attempts)
	assert.Equal(t, out.OutputPath, stored.OutputPath)
	assert.Equal(t, 30, stored.Progress.PagesCrawled)
	assert.NotNil(t, stored.CompletedAt)

	assert.Len(t, events.progress, 3)
	require.Len(t, events.finished, 1)
	assert.Equal(t, job.StateCompleted, events.finished[0].State)
}

func TestCollector_FailedJobIsNotDownloaded(t *testing.T) {
	api := &fakeAPI{states: []poll.State{poll.StateRunning, poll.StateFailed}}
	c, store, events := newCollector(t, api, Policy{MaxAttempts: 10})

	out, err := c.Run(context.Background(), request())

	var incomplete *IncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.False(t, incomplete.Exhausted)
	assert.False(t, incomplete.Cancelled)
	assert.Equal(t, 2, incomplete.Attempts)
	assert.Equal(t, poll.StateFailed, incomplete.Status.State)
	assert.Equal(t, 0, api.downloads)
	assert.Empty(t, out.OutputPath)

	stored, err := store.Get(out.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateFailed, stored.State)
	assert.Contains(t, stored.Error, "failed after 2 attempts")
	require.Len(t, events.finished, 1)
}

func TestCollector_ExhaustedBudget(t *testing.T) {
	api := &fakeAPI{states: []poll.State{poll.StateRunning}}
	c, store, _ := newCollector(t, api, Policy{MaxAttempts: 3})

	out, err := c.Run(context.Background(), request())

	var incomplete *IncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.True(t, incomplete.Exhausted)
	assert.Equal(t, 3, incomplete.Attempts)
	assert.Equal(t, "collection s_test did not complete after 3 attempts, final status: running", err.Error())
	assert.Equal(t, 3, api.queries)
	assert.Equal(t, 0, api.downloads)

	stored, err := store.Get(out.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateExhausted, stored.State)
}

func TestCollector_TriggerError(t *testing.T) {
	apiErr := &brightdata.APIError{StatusCode: 401, Endpoint: "/datasets/v3/trigger", Body: `{"error":"bad key"}`}
	api := &fakeAPI{triggerErr: apiErr}
	c, store, events := newCollector(t, api, Policy{MaxAttempts: 3})

	out, err := c.Run(context.Background(), request())

	var triggerErr *TriggerError
	require.ErrorAs(t, err, &triggerErr)
	assert.Equal(t, "gd_test", triggerErr.DatasetID)

	var got *brightdata.APIError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, 401, got.StatusCode)

	assert.Equal(t, 0, api.queries)
	assert.Equal(t, 0, api.downloads)

	stored, err := store.Get(out.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateFailed, stored.State)
	assert.Empty(t, stored.SnapshotID)
	require.Len(t, events.finished, 1)
}

func TestCollector_StatusQueryErrorStopsRun(t *testing.T) {
	boom := errors.New("connection reset")
	api := &fakeAPI{statusErr: boom}
	c, store, _ := newCollector(t, api, Policy{MaxAttempts: 5})

	out, err := c.Run(context.Background(), request())

	var pollErr *poll.PollError
	require.ErrorAs(t, err, &pollErr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, pollErr.Attempt)
	assert.Equal(t, 1, api.queries)
	assert.Equal(t, 0, api.downloads)

	stored, err := store.Get(out.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateFailed, stored.State)
}

func TestCollector_DownloadError(t *testing.T) {
	boom := errors.New("snapshot expired")
	api := &fakeAPI{states: []poll.State{poll.StateReady}, downloadErr: boom}
	c, store, _ := newCollector(t, api, Policy{MaxAttempts: 5})

	out, err := c.Run(context.Background(), request())

	var downloadErr *DownloadError
	require.ErrorAs(t, err, &downloadErr)
	assert.Equal(t, poll.Handle("s_test"), downloadErr.Handle)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, api.downloads)

	stored, err := store.Get(out.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateFailed, stored.State)
	assert.Empty(t, stored.OutputPath)
}

func TestCollector_CancelledRun(t *testing.T) {
	api := &fakeAPI{states: []poll.State{poll.StateRunning}}
	c, store, _ := newCollector(t, api, Policy{MaxAttempts: 10, Delay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		assert.Eventually(t, func() bool {
			api.mu.Lock()
			defer api.mu.Unlock()
			return api.queries == 1
		}, 3*time.Second, 5*time.Millisecond)
		cancel()
	}()

	out, err := c.Run(ctx, request())

	var incomplete *IncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.True(t, incomplete.Cancelled)
	assert.Equal(t, 1, incomplete.Attempts)
	assert.Equal(t, 0, api.downloads)

	stored, err := store.Get(out.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateCancelled, stored.State)
}

func TestCollector_TimeoutCountsAsExhausted(t *testing.T) {
	api := &fakeAPI{states: []poll.State{poll.StateRunning}}
	c, store, _ := newCollector(t, api, Policy{MaxAttempts: 10, Delay: time.Hour, Timeout: 50 * time.Millisecond})

	out, err := c.Run(context.Background(), request())

	var incomplete *IncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.True(t, incomplete.Exhausted)
	assert.False(t, incomplete.Cancelled)
	assert.Equal(t, 0, api.downloads)

	stored, err := store.Get(out.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateExhausted, stored.State)
}

func TestCollector_RunsUnderExistingJob(t *testing.T) {
	api := &fakeAPI{states: []poll.State{poll.StateReady}, payload: []byte(`not json`)}
	c, store, _ := newCollector(t, api, Policy{MaxAttempts: 2})

	j, err := c.NewJob("gd_test")
	require.NoError(t, err)
	assert.Equal(t, 2, j.MaxAttempts)

	req := request()
	req.Job = j
	req.Format = "ndjson"
	out, err := c.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, j.ID, out.Job.ID)
	assert.Equal(t, []string{"ndjson"}, api.formats)
	_, total := store.List(0, 0, "")
	assert.Equal(t, 1, total)

	content, err := os.ReadFile(out.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, `"not json"`, string(content))
}

func TestIncompleteError_Messages(t *testing.T) {
	status := poll.JobStatus{State: poll.StateRunning, Raw: "collecting"}

	assert.Equal(t, "collection s_1 cancelled after 2 attempts, last status: running (collecting)",
		(&IncompleteError{Handle: "s_1", Attempts: 2, Status: status, Cancelled: true}).Error())
	assert.Equal(t, "collection s_1 failed after 1 attempts, final status: unknown",
		(&IncompleteError{Handle: "s_1", Attempts: 1}).Error())
}
