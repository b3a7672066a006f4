// Package auth は認証機能（サインアップ・ログイン・パスワード再設定）を提供します。
package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/melodyverse-auth/internal/logger"
)

// contextPayloadKey は検証済みのリクエストボディを gin.Context に保存するキーです。
const contextPayloadKey = "auth.payload"

// DefaultMaxBodyBytes はリクエストボディの既定の上限です。
const DefaultMaxBodyBytes int64 = 100 << 10

// MsgBodyTooLarge は上限を超えたリクエストボディに返す文言です。
const MsgBodyTooLarge = "Request body too large"

// Handler は認証 API の HTTP ハンドラーをまとめた構造体です。
type Handler struct {
	service      *Service
	validator    *Validator
	logger       *logger.Logger
	maxBodyBytes int64
}

// NewHandler は Handler を作成します。
func NewHandler(service *Service, validator *Validator, log *logger.Logger) *Handler {
	return &Handler{
		service:      service,
		validator:    validator,
		logger:       log,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
}

// WithMaxBodyBytes はリクエストボディの上限を変更します。0以下の場合は既定値のままです。
func (h *Handler) WithMaxBodyBytes(n int64) *Handler {
	if n > 0 {
		h.maxBodyBytes = n
	}
	return h
}

// RegisterRoutes は /signup, /login, /forgot-pass を登録します。
// loginGuards は検証の後、ログイン処理の前に実行されます（試行回数制限など）。
func (h *Handler) RegisterRoutes(group gin.IRoutes, loginGuards ...gin.HandlerFunc) {
	group.POST("/signup", h.Validate(SchemaSignup), h.Signup)

	login := append([]gin.HandlerFunc{h.Validate(SchemaLogin)}, loginGuards...)
	login = append(login, h.Login)
	group.POST("/login", login...)

	group.POST("/forgot-pass", h.Validate(SchemaForgotPassword), h.ForgotPassword)
}

// Validate はリクエストボディを schema で検証するミドルウェアを返します。
// 失敗した場合は 400 を返し、後続の処理は実行しません。
func (h *Handler) Validate(schema Schema) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
		body, err := c.GetRawData()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				h.logger.Info("Auth handler: request body too large", "path", c.FullPath(), "limit", tooLarge.Limit)
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
					"message": MsgBodyTooLarge,
					"success": false,
				})
				return
			}
			h.abortValidation(c, newError(KindValidationFailed, MsgInvalidBody, err))
			return
		}

		payload, err := ParsePayload(body)
		if err != nil {
			h.abortValidation(c, err)
			return
		}

		if err := h.validator.Validate(schema, payload); err != nil {
			h.abortValidation(c, err)
			return
		}

		c.Set(contextPayloadKey, payload)
		c.Next()
	}
}

// Signup は POST /auth/signup のハンドラーです。
func (h *Handler) Signup(c *gin.Context) {
	payload := payloadFrom(c)
	err := h.service.Signup(c.Request.Context(), SignupInput{
		Name:     stringField(payload, "name"),
		Email:    stringField(payload, "email"),
		Password: stringField(payload, "password"),
	})
	if err != nil {
		respondWithError(c, err, MsgSignupInternal)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Successfully signed up",
		"success": true,
	})
}

// Login は POST /auth/login のハンドラーです。
func (h *Handler) Login(c *gin.Context) {
	payload := payloadFrom(c)
	result, err := h.service.Login(c.Request.Context(), LoginInput{
		Email:    stringField(payload, "email"),
		Password: stringField(payload, "password"),
	})
	if err != nil {
		respondWithError(c, err, MsgInternal)
		return
	}

	// 既存のフロントエンドは jwtToken を参照する
	c.JSON(http.StatusOK, gin.H{
		"message":  "Login successful",
		"success":  true,
		"token":    result.Token,
		"jwtToken": result.Token,
		"email":    result.Email,
		"name":     result.Name,
	})
}

// ForgotPassword は POST /auth/forgot-pass のハンドラーです。
func (h *Handler) ForgotPassword(c *gin.Context) {
	payload := payloadFrom(c)
	err := h.service.ForgotPassword(c.Request.Context(), ForgotPasswordInput{
		Email:    stringField(payload, "email"),
		Password: stringField(payload, "password"),
	})
	if err != nil {
		respondWithError(c, err, MsgInternal)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Password changed successfully",
		"success": true,
	})
}

func (h *Handler) abortValidation(c *gin.Context, err error) {
	if KindOf(err) != KindValidationFailed {
		respondWithError(c, err, MsgInternal)
		c.Abort()
		return
	}

	var message string
	if authErr, ok := err.(*Error); ok {
		message = authErr.Message
	}
	h.logger.Debug("Auth handler: validation failed", "path", c.FullPath(), "error", message)
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"message": MsgValidationError,
		"error":   message,
		"success": false,
	})
}

func payloadFrom(c *gin.Context) map[string]any {
	if v, ok := c.Get(contextPayloadKey); ok {
		if payload, ok := v.(map[string]any); ok {
			return payload
		}
	}
	return map[string]any{}
}

// respondWithError は分類済みエラーを対応するステータスで返します。
// 分類されていないエラーは内部情報を含めず 500 で返します。
func respondWithError(c *gin.Context, err error, internalMessage string) {
	kind := KindOf(err)
	message := internalMessage
	if kind != KindInternal {
		if authErr, ok := err.(*Error); ok {
			message = authErr.Message
		}
	}
	if kind == KindInternal {
		_ = c.Error(err)
	}
	c.JSON(kind.Status(), gin.H{
		"message": message,
		"success": false,
	})
}
