// Package jobs はウェルカムメールの非同期配送（Asynq + Redis）を提供します。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/yourusername/melodyverse-auth/internal/logger"
	"github.com/yourusername/melodyverse-auth/internal/mail"
)

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	if m.server == nil {
		return
	}
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error("Mail jobs: asynq server stopped with error", "error", err.Error())
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.server != nil {
		m.server.Shutdown()
	}
	return m.client.Close()
}

func (m *Manager) handleWelcomeTask(ctx context.Context, task *asynq.Task) error {
	var payload WelcomePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// 壊れたペイロードは再試行しても成功しない
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload: %w", asynq.SkipRetry)
	}

	// asynq は再配送することがあるので、送信済みの記録があれば何もしない
	record, err := m.store.Get(ctx, payload.JobID)
	if err != nil {
		return err
	}
	if record != nil && record.Status == StatusSent {
		m.logger.Info("Mail jobs: already delivered, skipping", "job_id", payload.JobID, "message_id", record.MessageID)
		return nil
	}

	tracked := true
	if err := m.store.MarkSending(ctx, payload.JobID); err != nil {
		if !errors.Is(err, ErrRecordNotFound) {
			return err
		}
		// 記録が期限切れでも送信は行う
		tracked = false
		m.logger.Warn("Mail jobs: record missing, sending untracked", "job_id", payload.JobID)
	}

	messageID, err := m.mailer.SendWelcome(ctx, mail.WelcomeEmail{Name: payload.Name, Email: payload.Email})
	if err != nil {
		if tracked {
			if markErr := m.store.MarkFailed(ctx, payload.JobID, &ErrorInfo{Code: "SEND_FAILED", Message: err.Error()}); markErr != nil {
				m.logger.Warn("Mail jobs: failed to record send failure", "job_id", payload.JobID, "error", markErr.Error())
			}
		}
		m.logger.Warn("Mail jobs: welcome mail failed", "job_id", payload.JobID, "error", err.Error())
		return err
	}

	if tracked {
		if err := m.store.MarkSent(ctx, payload.JobID, messageID); err != nil {
			m.logger.Warn("Mail jobs: failed to record delivery", "job_id", payload.JobID, "error", err.Error())
		}
	}
	m.logger.Info("Mail jobs: welcome mail sent", "job_id", payload.JobID, "message_id", messageID)
	return nil
}

// asynqLogger は asynq のログを Logger に流します。
type asynqLogger struct {
	log *logger.Logger
}

var _ asynq.Logger = asynqLogger{}

func newAsynqLogger(log *logger.Logger) asynqLogger {
	return asynqLogger{log: log.With("component", "asynq")}
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal(fmt.Sprint(args...)) }
