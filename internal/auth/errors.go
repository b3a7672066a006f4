package auth

import (
	"errors"
	"net/http"
)

// Kind はエラーの分類です。HTTP ステータスとの対応は Status で決まります。
// 試行回数超過（429）は ratelimit.Middleware が直接返すため、ここには含みません。
type Kind string

const (
	KindValidationFailed     Kind = "VALIDATION_FAILED"
	KindAlreadyExists        Kind = "ALREADY_EXISTS"
	KindAuthenticationFailed Kind = "AUTHENTICATION_FAILED"
	KindNotFound             Kind = "NOT_FOUND"
	KindInternal             Kind = "INTERNAL_ERROR"
)

// ユーザーに返すメッセージ
const (
	MsgValidationError = "Validation Error"
	MsgUserExists      = "User already exists, please login"
	MsgAuthFailed      = "Authentication failed: email or password is incorrect"
	MsgUserNotFound    = "User does not exist"
	MsgInternal        = "Internal server error"
	MsgSignupInternal  = "Oops!! Internal server error"
)

// Error は分類付きのエラーです。Message はそのままクライアントへ返して良い文言のみを持ちます。
type Error struct {
	Kind    Kind
	Message string
	Err     error // 内部原因（クライアントには返さない）
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Status は Kind に対応する HTTP ステータスを返します。
func (k Kind) Status() int {
	switch k {
	case KindValidationFailed:
		return http.StatusBadRequest
	case KindAlreadyExists:
		return http.StatusConflict
	case KindAuthenticationFailed, KindNotFound:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// KindOf は err の分類を返します。分類されていないエラーは KindInternal です。
func KindOf(err error) Kind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return KindInternal
}
