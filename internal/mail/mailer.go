// Package mail はユーザー向け通知メールの送信を提供します。
package mail

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yourusername/melodyverse-auth/internal/logger"
)

// WelcomeEmail はサインアップ完了時に送るメールの宛先情報です。
type WelcomeEmail struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Message は送信するメール本文です。
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer はメール送信を抽象化します。
type Mailer interface {
	SendWelcome(ctx context.Context, welcome WelcomeEmail) (messageID string, err error)
}

// RenderWelcome はウェルカムメールの本文を組み立てます。
func RenderWelcome(welcome WelcomeEmail) Message {
	var body strings.Builder
	fmt.Fprintf(&body, "Dear %s,\n\n", welcome.Name)
	body.WriteString("Welcome to our platform! We're excited to have you on board.\n\n")
	body.WriteString("Here are some quick links to get you started:\n")
	body.WriteString("- Complete your profile\n")
	body.WriteString("- Explore our features\n")
	body.WriteString("- Read our documentation\n\n")
	body.WriteString("If you have any questions, feel free to reach out to our support team.\n\n")
	body.WriteString("Best regards,\nThe Team\n")

	return Message{
		To:      welcome.Email,
		Subject: "Welcome to Our Platform!",
		Body:    body.String(),
	}
}

var _ Mailer = (*LogMailer)(nil)

// LogMailer は実際には送信せず、ログに出力する開発用の Mailer です。
type LogMailer struct {
	log *logger.Logger
}

// NewLogMailer は LogMailer を作成します。
func NewLogMailer(log *logger.Logger) *LogMailer {
	return &LogMailer{log: log}
}

// SendWelcome はウェルカムメールをログに出力します。
func (m *LogMailer) SendWelcome(ctx context.Context, welcome WelcomeEmail) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if welcome.Email == "" {
		return "", fmt.Errorf("recipient email is required")
	}

	msg := RenderWelcome(welcome)
	messageID := uuid.NewString()
	m.log.InfoContext(ctx, "Mailer: simulated email sent",
		"message_id", messageID,
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body)
	return messageID, nil
}

// Direct はウェルカムメールをリクエスト処理中にそのまま送信する通知実装です。
// ジョブキューを使わない構成で使用します。
type Direct struct {
	mailer Mailer
}

// NewDirect は Direct を作成します。
func NewDirect(mailer Mailer) *Direct {
	return &Direct{mailer: mailer}
}

// NotifyWelcome はウェルカムメールを送信します。
func (d *Direct) NotifyWelcome(ctx context.Context, welcome WelcomeEmail) error {
	if _, err := d.mailer.SendWelcome(ctx, welcome); err != nil {
		return fmt.Errorf("failed to send welcome email: %w", err)
	}
	return nil
}
