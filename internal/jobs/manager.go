package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/yourusername/melodyverse-auth/internal/logger"
	"github.com/yourusername/melodyverse-auth/internal/mail"
)

const (
	mailQueue         = "mail"
	workerConcurrency = 2
	defaultMaxRetry   = 3
)

// enqueuer は asynq.Client のうちタスク投入に使う部分です。
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Manager はウェルカムメールのキュー投入・配送と状態管理を担います。
type Manager struct {
	client   enqueuer
	server   *asynq.Server
	mux      *asynq.ServeMux
	store    *Store
	mailer   mail.Mailer
	maxRetry int
	logger   *logger.Logger
}

// NewManager は Manager を初期化します。redisURL は asynq が解釈できる redis:// 形式です。
func NewManager(redisURL string, mailer mail.Mailer, store *Store, log *logger.Logger) (*Manager, error) {
	if mailer == nil {
		return nil, errors.New("mailer is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: workerConcurrency,
			Queues: map[string]int{
				mailQueue: 1,
			},
			Logger: newAsynqLogger(log),
		},
	)

	manager := newManager(asynq.NewClient(opt), mailer, store, log)
	manager.server = server
	return manager, nil
}

func newManager(client enqueuer, mailer mail.Mailer, store *Store, log *logger.Logger) *Manager {
	m := &Manager{
		client:   client,
		mux:      asynq.NewServeMux(),
		store:    store,
		mailer:   mailer,
		maxRetry: defaultMaxRetry,
		logger:   log,
	}
	m.mux.HandleFunc(TaskTypeWelcome, m.handleWelcomeTask)
	return m
}

// NotifyWelcome は配送記録を作成し、ウェルカムメール送信タスクをキューに投入します。
func (m *Manager) NotifyWelcome(ctx context.Context, welcome mail.WelcomeEmail) error {
	_, err := m.Enqueue(ctx, &WelcomePayload{
		JobID: uuid.NewString(),
		Name:  welcome.Name,
		Email: welcome.Email,
	})
	return err
}

// Enqueue はジョブをキューに投入し、ジョブ ID を返します。
func (m *Manager) Enqueue(ctx context.Context, payload *WelcomePayload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("payload is nil")
	}
	if payload.JobID == "" {
		return "", fmt.Errorf("payload.JobID is required")
	}

	record := &Record{
		JobID:     payload.JobID,
		Type:      TaskTypeWelcome,
		Recipient: payload.Email,
		Status:    StatusQueued,
	}
	if err := m.store.Upsert(ctx, record); err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	task := asynq.NewTask(TaskTypeWelcome, body, asynq.Queue(mailQueue))
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(m.maxRetry), asynq.TaskID(payload.JobID)); err != nil {
		if markErr := m.store.MarkFailed(ctx, payload.JobID, &ErrorInfo{Code: "ENQUEUE_FAILED", Message: err.Error()}); markErr != nil {
			m.logger.Warn("Mail jobs: failed to record enqueue failure", "job_id", payload.JobID, "error", markErr.Error())
		}
		return "", fmt.Errorf("failed to enqueue welcome mail: %w", err)
	}

	m.logger.Debug("Mail jobs: welcome mail queued", "job_id", payload.JobID, "to", payload.Email)
	return payload.JobID, nil
}

