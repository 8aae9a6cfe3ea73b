// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 各層は以下のエラーを%wでラップして返し、呼び出し側はerrors.Isで分類する。
var (
	// ErrInvalidInput は必須フィールドの欠落や不正なリクエストボディを表す。
	ErrInvalidInput = errors.New("invalid input")
	// ErrUserNotFound はユーザーが存在しないことを表す。
	ErrUserNotFound = errors.New("user not found")
	// ErrMissingToken はトークンが提供されていないことを表す。
	ErrMissingToken = errors.New("token not provided")
	// ErrInvalidToken はトークンが存在しない、または期限切れであることを表す。
	ErrInvalidToken = errors.New("invalid token")
	// ErrConflict は一意制約の衝突を表す（例: 他ユーザーが所有する電話番号への変更）。
	ErrConflict = errors.New("conflict")
	// ErrUpstreamAuth はOAuthプロバイダーとの通信失敗または不正な応答を表す。
	ErrUpstreamAuth = errors.New("upstream auth error")
)

// InputError は入力不正の理由を保持する。errors.Is(err, ErrInvalidInput)で判定できる。
type InputError struct {
	Reason string
}

// NewInputError はInputErrorを生成する。
func NewInputError(reason string) error {
	return &InputError{Reason: reason}
}

func (e *InputError) Error() string { return ErrInvalidInput.Error() + ": " + e.Reason }

func (e *InputError) Unwrap() error { return ErrInvalidInput }

// APIError はクライアントに返すエラーフォーマットを表す。
type APIError struct {
	Code    string // エラーコード
	Message string // 人が読める短いメッセージ
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeTokenMissing       = "TOKEN_MISSING"
	ErrCodeTokenInvalid       = "TOKEN_INVALID"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeUpstreamAuthFailed = "UPSTREAM_AUTH_FAILED"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewInvalidInputError は入力不正エラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:    ErrCodeInvalidInput,
		Message: reason,
	}
}

// NewTokenMissingError はトークン未提供エラーを生成する。
func NewTokenMissingError() *APIError {
	return &APIError{
		Code:    ErrCodeTokenMissing,
		Message: "token not provided",
	}
}

// NewTokenInvalidError は無効トークンエラーを生成する。
func NewTokenInvalidError() *APIError {
	return &APIError{
		Code:    ErrCodeTokenInvalid,
		Message: "invalid token",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:    ErrCodeUserNotFound,
		Message: "user not found",
	}
}

// NewMethodNotAllowedError は未対応メソッドのエラーを生成する。
func NewMethodNotAllowedError() *APIError {
	return &APIError{
		Code:    ErrCodeMethodNotAllowed,
		Message: "method not supported",
	}
}

// NewConflictError は一意制約衝突のエラーを生成する。
func NewConflictError() *APIError {
	return &APIError{
		Code:    ErrCodeConflict,
		Message: "phone is already used by another account",
	}
}

// NewUpstreamAuthError はOAuthプロバイダー起因の認証失敗エラーを生成する。
func NewUpstreamAuthError() *APIError {
	return &APIError{
		Code:    ErrCodeUpstreamAuthFailed,
		Message: "authorization with the provider failed",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:    ErrCodeRateLimited,
		Message: "too many requests, try again later",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:    ErrCodeInternal,
		Message: "internal error",
	}
}
