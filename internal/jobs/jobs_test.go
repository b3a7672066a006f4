package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/melodyverse-auth/internal/logger"
	"github.com/yourusername/melodyverse-auth/internal/mail"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type(), Queue: mailQueue}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type stubMailer struct {
	sent []mail.WelcomeEmail
	err  error
}

func (s *stubMailer) SendWelcome(ctx context.Context, welcome mail.WelcomeEmail) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, welcome)
	return "msg-1", nil
}

func newTestStore(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewStore(rdb, ttl)
}

func TestStoreLifecycle(t *testing.T) {
	mr, store := newTestStore(t, time.Hour)
	ctx := context.Background()

	record, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, record)

	require.NoError(t, store.Upsert(ctx, &Record{JobID: "job-1", Type: TaskTypeWelcome, Recipient: "alice@example.com", Status: StatusQueued}))
	assert.True(t, mr.Exists(jobKey("job-1")))
	assert.Equal(t, time.Hour, mr.TTL(jobKey("job-1")))

	require.NoError(t, store.MarkSending(ctx, "job-1"))
	require.NoError(t, store.MarkSending(ctx, "job-1"))
	require.NoError(t, store.MarkSent(ctx, "job-1", "msg-1"))

	record, err = store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, StatusSent, record.Status)
	assert.Equal(t, 2, record.Attempts)
	assert.Equal(t, "msg-1", record.MessageID)
	assert.True(t, record.ExpiresAt.Equal(record.CreatedAt.Add(time.Hour)))
	assert.True(t, mr.TTL(jobKey("job-1")) > 0)
}

func TestStoreMarkFailed(t *testing.T) {
	_, store := newTestStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, &Record{JobID: "job-2", Status: StatusQueued}))
	require.NoError(t, store.MarkFailed(ctx, "job-2", &ErrorInfo{Code: "SEND_FAILED", Message: "smtp down"}))

	record, err := store.Get(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, record.Status)
	assert.Equal(t, "SEND_FAILED", record.Error.Code)
}

func TestStoreUpdateMissingRecord(t *testing.T) {
	_, store := newTestStore(t, time.Hour)

	err := store.MarkSending(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestStoreRecordExpires(t *testing.T) {
	mr, store := newTestStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, &Record{JobID: "job-3", Status: StatusQueued}))
	mr.FastForward(2 * time.Minute)

	record, err := store.Get(ctx, "job-3")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestManagerNotifyWelcome(t *testing.T) {
	_, store := newTestStore(t, time.Hour)
	client := &fakeEnqueuer{}
	m := newManager(client, &stubMailer{}, store, logger.Nop())

	err := m.NotifyWelcome(context.Background(), mail.WelcomeEmail{Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)

	require.Len(t, client.tasks, 1)
	assert.Equal(t, TaskTypeWelcome, client.tasks[0].Type())

	var payload WelcomePayload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &payload))
	assert.Equal(t, "alice@example.com", payload.Email)
	assert.Equal(t, "Alice", payload.Name)

	record, err := store.Get(context.Background(), payload.JobID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, StatusQueued, record.Status)
	assert.Equal(t, "alice@example.com", record.Recipient)
}

func TestManagerEnqueueFailure(t *testing.T) {
	_, store := newTestStore(t, time.Hour)
	client := &fakeEnqueuer{err: errors.New("redis down")}
	m := newManager(client, &stubMailer{}, store, logger.Nop())

	_, err := m.Enqueue(context.Background(), &WelcomePayload{JobID: "job-4", Name: "Alice", Email: "alice@example.com"})
	require.Error(t, err)

	record, err := store.Get(context.Background(), "job-4")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, record.Status)
	assert.Equal(t, "ENQUEUE_FAILED", record.Error.Code)
}

func TestHandleWelcomeTask(t *testing.T) {
	_, store := newTestStore(t, time.Hour)
	mailer := &stubMailer{}
	m := newManager(&fakeEnqueuer{}, mailer, store, logger.Nop())
	ctx := context.Background()

	_, err := m.Enqueue(ctx, &WelcomePayload{JobID: "job-5", Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)

	body, err := json.Marshal(WelcomePayload{JobID: "job-5", Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)
	require.NoError(t, m.handleWelcomeTask(ctx, asynq.NewTask(TaskTypeWelcome, body)))

	assert.Equal(t, []mail.WelcomeEmail{{Name: "Alice", Email: "alice@example.com"}}, mailer.sent)
	record, err := store.Get(ctx, "job-5")
	require.NoError(t, err)
	assert.Equal(t, StatusSent, record.Status)
	assert.Equal(t, 1, record.Attempts)
	assert.Equal(t, "msg-1", record.MessageID)
}

func TestHandleWelcomeTaskRedelivered(t *testing.T) {
	_, store := newTestStore(t, time.Hour)
	mailer := &stubMailer{}
	m := newManager(&fakeEnqueuer{}, mailer, store, logger.Nop())
	ctx := context.Background()

	_, err := m.Enqueue(ctx, &WelcomePayload{JobID: "job-7", Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)

	body, err := json.Marshal(WelcomePayload{JobID: "job-7", Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)
	task := asynq.NewTask(TaskTypeWelcome, body)
	require.NoError(t, m.handleWelcomeTask(ctx, task))
	require.NoError(t, m.handleWelcomeTask(ctx, task))

	assert.Len(t, mailer.sent, 1)
	record, err := store.Get(ctx, "job-7")
	require.NoError(t, err)
	assert.Equal(t, StatusSent, record.Status)
	assert.Equal(t, 1, record.Attempts)
}

func TestHandleWelcomeTaskSendFailure(t *testing.T) {
	_, store := newTestStore(t, time.Hour)
	m := newManager(&fakeEnqueuer{}, &stubMailer{err: errors.New("smtp down")}, store, logger.Nop())
	ctx := context.Background()

	_, err := m.Enqueue(ctx, &WelcomePayload{JobID: "job-6", Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)

	body, err := json.Marshal(WelcomePayload{JobID: "job-6", Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)
	err = m.handleWelcomeTask(ctx, asynq.NewTask(TaskTypeWelcome, body))
	require.Error(t, err)

	record, err := store.Get(ctx, "job-6")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, record.Status)
	assert.Equal(t, "SEND_FAILED", record.Error.Code)
}

func TestHandleWelcomeTaskUntrackedAndInvalid(t *testing.T) {
	_, store := newTestStore(t, time.Hour)
	mailer := &stubMailer{}
	m := newManager(&fakeEnqueuer{}, mailer, store, logger.Nop())
	ctx := context.Background()

	body, err := json.Marshal(WelcomePayload{JobID: "expired", Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)
	require.NoError(t, m.handleWelcomeTask(ctx, asynq.NewTask(TaskTypeWelcome, body)))
	assert.Len(t, mailer.sent, 1)

	err = m.handleWelcomeTask(ctx, asynq.NewTask(TaskTypeWelcome, []byte("{broken")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
