package jobs

import "time"

// Status はメール配送ジョブの状態を表します。
type Status string

const (
	StatusQueued  Status = "queued"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// TaskTypeWelcome はウェルカムメール送信タスクの種別です。
const TaskTypeWelcome = "mail:welcome"

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record はメール配送ジョブの現在状態を表します。
type Record struct {
	JobID     string     `json:"jobId"`
	Type      string     `json:"type"`
	Recipient string     `json:"recipient"`
	Status    Status     `json:"status"`
	Attempts  int        `json:"attempts"`
	MessageID string     `json:"messageId,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// WelcomePayload はウェルカムメールタスクのペイロードです。
type WelcomePayload struct {
	JobID string `json:"jobId"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
