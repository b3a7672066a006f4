package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"unicode/utf16"

	"github.com/go-playground/validator/v10"
)

// Schema は検証対象のリクエスト種別です。
type Schema string

const (
	SchemaSignup         Schema = "signup"
	SchemaLogin          Schema = "login"
	SchemaForgotPassword Schema = "forgotPassword"
)

// MsgInvalidBody は JSON オブジェクトとして解釈できないリクエストボディに返す文言です。
const MsgInvalidBody = "Request body must be a JSON object"

// fieldRule は1フィールド分の検証ルールです。ルールは宣言順に評価されます。
type fieldRule struct {
	field        string
	label        string // メッセージ用の表示名
	typeMessage  string // 文字列以外が来た場合の文言（空なら既定の文言）
	emptyMessage string // 空文字列の場合の文言（空なら既定の文言）
	email        bool
	min, max     int
}

var (
	nameRule = fieldRule{
		field:        "name",
		label:        "Name",
		typeMessage:  "Name should be a type of text",
		emptyMessage: "Name is required",
		min:          3,
		max:          100,
	}
	emailRule = fieldRule{field: "email", label: "Email", emptyMessage: "Email is required", email: true}
)

func passwordRule(minLen, maxLen int) fieldRule {
	return fieldRule{field: "password", label: "Password", min: minLen, max: maxLen}
}

var schemas = map[Schema][]fieldRule{
	SchemaSignup:         {nameRule, emailRule, passwordRule(6, 20)},
	SchemaLogin:          {emailRule, passwordRule(4, 100)},
	SchemaForgotPassword: {emailRule, passwordRule(6, 20)},
}

// Validator はスキーマごとのルール表でリクエストを検証します。
type Validator struct {
	validate *validator.Validate
}

// NewValidator は Validator を作成します。
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate は payload を schema のルール表で検証し、最初に失敗したフィールドの文言を
// KindValidationFailed のエラーとして返します。
func (v *Validator) Validate(schema Schema, payload map[string]any) error {
	rules, ok := schemas[schema]
	if !ok {
		return newError(KindInternal, MsgInternal, fmt.Errorf("unknown schema: %s", schema))
	}

	for _, rule := range rules {
		if msg := v.checkField(rule, payload); msg != "" {
			return newError(KindValidationFailed, msg, nil)
		}
	}

	// 宣言されていないキーは許可しない
	if unknown := unknownKeys(rules, payload); len(unknown) > 0 {
		return newError(KindValidationFailed, fmt.Sprintf("%q is not allowed", unknown[0]), nil)
	}
	return nil
}

func (v *Validator) checkField(rule fieldRule, payload map[string]any) string {
	raw, present := payload[rule.field]
	if !present {
		return rule.label + " is required"
	}

	value, isString := raw.(string)
	if !isString {
		if rule.typeMessage != "" {
			return rule.typeMessage
		}
		return fmt.Sprintf("%q must be a string", rule.field)
	}
	if value == "" {
		if rule.emptyMessage != "" {
			return rule.emptyMessage
		}
		return fmt.Sprintf("%q is not allowed to be empty", rule.field)
	}

	if rule.email && v.validate.Var(value, "required,email") != nil {
		return "Please enter a valid email address"
	}

	length := utf16Len(value)
	if rule.min > 0 && length < rule.min {
		return fmt.Sprintf("%s should have a minimum length of %d", rule.label, rule.min)
	}
	if rule.max > 0 && length > rule.max {
		return fmt.Sprintf("%s should have a maximum length of %d", rule.label, rule.max)
	}
	return ""
}

// utf16Len は UTF-16 のコード単位数を返します。サロゲートペアは2と数えます。
// 20 コード単位は最大60バイトで、bcrypt の72バイト制限に収まります。
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if l := len(utf16.Encode([]rune{r})); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

func unknownKeys(rules []fieldRule, payload map[string]any) []string {
	declared := make(map[string]struct{}, len(rules))
	for _, rule := range rules {
		declared[rule.field] = struct{}{}
	}

	var unknown []string
	for key := range payload {
		if _, ok := declared[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// ParsePayload はリクエストボディを JSON オブジェクトとして読み込みます。空のボディは空オブジェクト扱いです。
func ParsePayload(body []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil || payload == nil {
		return nil, newError(KindValidationFailed, MsgInvalidBody, err)
	}
	// 末尾に余計なデータがある場合も不正とする
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, newError(KindValidationFailed, MsgInvalidBody, err)
	}
	return payload, nil
}

func stringField(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}
