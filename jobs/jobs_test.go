package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haven-crm/haven/internal/action"
	jobmetrics "github.com/haven-crm/haven/internal/jobs"
	"github.com/haven-crm/haven/internal/tenant/tenanttest"
	"github.com/haven-crm/haven/jobs"
)

const orgA = "6f1c2b8e-8f43-4a8e-9f55-0c6b9a1f0a01"

type enqueued struct {
	task *asynq.Task
	opts []asynq.Option
}

type fakeEnqueuer struct {
	tasks []enqueued
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, enqueued{task: task, opts: opts})
	return &asynq.TaskInfo{ID: "t1", Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type recordingPublisher struct {
	events []action.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e action.Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueuedPublisherEnqueuesOnEventsQueue(t *testing.T) {
	enq := &fakeEnqueuer{}
	pub := jobs.NewQueuedPublisher(jobs.NewClientWith(enq))
	event := action.Event{Type: "member.invited", OrganizationID: orgA, ActorID: "u1", OccurredAt: time.Unix(0, 0).UTC()}

	require.NoError(t, pub.Publish(context.Background(), event))

	require.Len(t, enq.tasks, 1)
	assert.Equal(t, jobs.TaskTypeRelayEvent, enq.tasks[0].task.Type())
	var decoded action.Event
	require.NoError(t, json.Unmarshal(enq.tasks[0].task.Payload(), &decoded))
	assert.Equal(t, event, decoded)
}

func TestEventRelayJobPublishesAndCounts(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	target := &recordingPublisher{}
	job := jobs.NewEventRelayJob(target, quietLogger(), metrics)

	task, err := jobs.NewRelayEventTask(action.Event{Type: "property.deleted", OrganizationID: orgA})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Len(t, target.events, 1)
	assert.Equal(t, orgA, target.events[0].OrganizationID)
	count, err := testutil.GatherAndCount(registry, "haven_events_relayed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEventRelayJobSkipsMalformedPayload(t *testing.T) {
	job := jobs.NewEventRelayJob(&recordingPublisher{}, quietLogger(), nil)

	err := job.Handle(context.Background(), asynq.NewTask(jobs.TaskTypeRelayEvent, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(jobs.TaskTypeRelayEvent, []byte(`{"type":"property.created"}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestEventRelayJobRetriesOnPublishFailure(t *testing.T) {
	boom := errors.New("redis down")
	job := jobs.NewEventRelayJob(&recordingPublisher{err: boom}, quietLogger(), nil)
	task, err := jobs.NewRelayEventTask(action.Event{Type: "property.created", OrganizationID: orgA})
	require.NoError(t, err)

	assert.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestSendEmailTaskRequiresRecipient(t *testing.T) {
	_, err := jobs.NewSendEmailTask(jobs.SendEmailPayload{Subject: "hi"})
	require.Error(t, err)

	enq := &fakeEnqueuer{}
	_, err = jobs.NewClientWith(enq).EnqueueSendEmail(context.Background(), jobs.SendEmailPayload{To: "a@haven.test", Subject: "Invitation"})
	require.NoError(t, err)
	require.Len(t, enq.tasks, 1)

	handler := jobs.NewSendEmailHandler(quietLogger())
	require.NoError(t, handler(context.Background(), enq.tasks[0].task))
}

func TestInvitationExpiryJobRunsSweepFunction(t *testing.T) {
	db := tenanttest.NewDB()
	db.RowHook = func(_ string, sql string, args []any) ([]any, error) {
		return []any{int64(3)}, nil
	}
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	job := jobs.NewInvitationExpiryJob(db, quietLogger(), metrics)

	require.NoError(t, job.Handle(context.Background(), jobs.NewExpireInvitationsTask()))

	txs := db.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, "SELECT expire_invitations($1)", txs[0].Statements[0].SQL)
	assert.True(t, txs[0].Committed)
	count, err := testutil.GatherAndCount(registry, "haven_invitations_expired_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

type fakeInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestHealthReportsQueues(t *testing.T) {
	h := jobs.NewHandler(fakeInspector{infos: map[string]*asynq.QueueInfo{
		jobs.QueueDefault: {Queue: jobs.QueueDefault, Pending: 4, Failed: 1},
	}}, quietLogger())
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)

	res := httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))

	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"success":true,"data":[{"queue":"default","pending":4,"failed":1},{"queue":"events","pending":0,"failed":0}]}`, res.Body.String())
}

func TestHealthUnavailable(t *testing.T) {
	h := jobs.NewHandler(fakeInspector{err: errors.New("dial tcp: refused")}, quietLogger())
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)

	res := httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)
}
