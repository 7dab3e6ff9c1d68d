// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの分類を表す。
// ハンドラーはKindに基づいてHTTPステータスと表示方針を決定する。
type ErrorKind string

const (
	// KindValidation は利用者の入力不備（ファイル形式、画像破損、フォーム検証）を表す。
	KindValidation ErrorKind = "validation"
	// KindAuthz は所有者以外による変更操作を表す。詳細は返さない。
	KindAuthz ErrorKind = "authz"
	// KindNotFound は存在しないエンティティの参照を表す。
	KindNotFound ErrorKind = "not_found"
	// KindTransient はメール送信失敗やベストエフォートのファイル削除失敗など一時的な障害を表す。
	KindTransient ErrorKind = "transient"
	// KindIntegrity はDB制約違反（メールアドレス重複など）を表す。
	KindIntegrity ErrorKind = "integrity"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string    // エラーコード
	Message  string    // エラーメッセージ
	Category string    // カテゴリ: auth, validation, item, image, system
	Action   string    // ユーザー向け対処方法
	Kind     ErrorKind // エラー分類
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidInput          = "INVALID_INPUT"
	ErrCodeUnsupportedImage      = "UNSUPPORTED_IMAGE_TYPE"
	ErrCodeMalformedImage        = "MALFORMED_IMAGE"
	ErrCodeImageTooLarge         = "IMAGE_TOO_LARGE"
	ErrCodeImageStorage          = "IMAGE_STORAGE_FAILED"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeItemNotFound          = "ITEM_NOT_FOUND"
	ErrCodePictureNotFound       = "PICTURE_NOT_FOUND"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeEmailTaken            = "EMAIL_TAKEN"
	ErrCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	ErrCodeRegistrationInvalid   = "REGISTRATION_INVALID"
	ErrCodeInvalidToken          = "INVALID_OR_EXPIRED_TOKEN"
	ErrCodeInsufficientBudget    = "INSUFFICIENT_BUDGET"
	ErrCodeOwnItem               = "OWN_ITEM"
	ErrCodeMailDelivery          = "MAIL_DELIVERY_FAILED"
	ErrCodeNoPendingRegistration = "NO_PENDING_REGISTRATION"
	ErrCodeCleanupFailed         = "CLEANUP_FAILED"
)

// NewValidationError はフォーム検証エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("%s: %s", field, reason),
		Category: "validation",
		Action:   "Please correct the highlighted field and submit again.",
		Kind:     KindValidation,
	}
}

// NewUnsupportedImageError は許可されていない拡張子のアップロードエラーを生成する。
func NewUnsupportedImageError(filename string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedImage,
		Message:  fmt.Sprintf("Invalid file type: %s. Only JPG, JPEG, and PNG files are allowed.", filename),
		Category: "image",
		Action:   "Upload a .jpg, .jpeg or .png file.",
		Kind:     KindValidation,
	}
}

// NewMalformedImageError は画像として読み込めないファイルのエラーを生成する。
func NewMalformedImageError() *APIError {
	return &APIError{
		Code:     ErrCodeMalformedImage,
		Message:  "The uploaded file could not be read as an image.",
		Category: "image",
		Action:   "Check that the file is a valid photo and try again.",
		Kind:     KindValidation,
	}
}

// NewImageTooLargeError はサイズ上限を超えたアップロードのエラーを生成する。
func NewImageTooLargeError(limit int64) *APIError {
	return &APIError{
		Code:     ErrCodeImageTooLarge,
		Message:  fmt.Sprintf("The uploaded file exceeds the %d MB limit.", limit/1024/1024),
		Category: "image",
		Action:   "Upload a smaller image.",
		Kind:     KindValidation,
	}
}

// NewImageStorageError は画像ファイル保存時のI/Oエラーを生成する。
func NewImageStorageError() *APIError {
	return &APIError{
		Code:     ErrCodeImageStorage,
		Message:  "The image could not be saved.",
		Category: "image",
		Action:   "Please try again later.",
		Kind:     KindTransient,
	}
}

// NewForbiddenError は所有者以外の操作に対する汎用拒否エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "You are not allowed to perform this action.",
		Category: "auth",
		Action:   "Only the owner can change this resource.",
		Kind:     KindAuthz,
	}
}

// NewUnauthorizedError は未ログイン時のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Authentication required.",
		Category: "auth",
		Action:   "Please log in.",
		Kind:     KindAuthz,
	}
}

// NewItemNotFoundError は商品未検出エラーを生成する。
func NewItemNotFoundError(itemID string) *APIError {
	return &APIError{
		Code:     ErrCodeItemNotFound,
		Message:  fmt.Sprintf("Item not found: %s", itemID),
		Category: "item",
		Action:   "Check the item ID.",
		Kind:     KindNotFound,
	}
}

// NewPictureNotFoundError は画像未検出エラーを生成する。
func NewPictureNotFoundError(pictureID string) *APIError {
	return &APIError{
		Code:     ErrCodePictureNotFound,
		Message:  fmt.Sprintf("Picture not found: %s", pictureID),
		Category: "item",
		Action:   "Check the picture ID.",
		Kind:     KindNotFound,
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: "auth",
		Action:   "Please log in again.",
		Kind:     KindNotFound,
	}
}

// NewEmailTakenError はメールアドレス重複エラーを生成する。
// 一意制約違反から変換される場合もあるためKindはIntegrityとする。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "This email address is already registered.",
		Category: "validation",
		Action:   "Log in or use a different email address.",
		Kind:     KindIntegrity,
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid email address or password.",
		Category: "auth",
		Action:   "Check your credentials and try again.",
		Kind:     KindValidation,
	}
}

// NewRegistrationInvalidError はメール確認が成立しない場合のエラーを生成する。
// トークン不正・期限切れ・仮登録なし・メール不一致を区別しない。
func NewRegistrationInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeRegistrationInvalid,
		Message:  "The verification link is invalid or has expired.",
		Category: "auth",
		Action:   "Please register again.",
		Kind:     KindValidation,
	}
}

// NewInvalidTokenError はパスワードリセットトークンの検証失敗エラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "That is an invalid or expired token.",
		Category: "auth",
		Action:   "Request a new password reset email.",
		Kind:     KindValidation,
	}
}

// NewNoPendingRegistrationError は再送対象の仮登録がない場合のエラーを生成する。
func NewNoPendingRegistrationError() *APIError {
	return &APIError{
		Code:     ErrCodeNoPendingRegistration,
		Message:  "There is no registration waiting for verification.",
		Category: "auth",
		Action:   "Please register again.",
		Kind:     KindValidation,
	}
}

// NewInsufficientBudgetError は予算不足で購入できない場合のエラーを生成する。
func NewInsufficientBudgetError(budget, price int64) *APIError {
	return &APIError{
		Code:     ErrCodeInsufficientBudget,
		Message:  fmt.Sprintf("Your budget (%d) is not enough to buy this item (%d).", budget, price),
		Category: "item",
		Action:   "Choose a cheaper item.",
		Kind:     KindValidation,
	}
}

// NewOwnItemError は自分の商品を購入しようとした場合のエラーを生成する。
func NewOwnItemError() *APIError {
	return &APIError{
		Code:     ErrCodeOwnItem,
		Message:  "You already own this item.",
		Category: "item",
		Action:   "Pick an item listed by another user.",
		Kind:     KindValidation,
	}
}

// NewMailDeliveryError はメール送信失敗エラーを生成する。
// 呼び出し元の処理は中断しない警告として扱う。
func NewMailDeliveryError() *APIError {
	return &APIError{
		Code:     ErrCodeMailDelivery,
		Message:  "We could not send the email right now.",
		Category: "system",
		Action:   "Please try again in a few minutes.",
		Kind:     KindTransient,
	}
}

// NewCleanupError は主作用の完了後に画像ファイルの削除に失敗した場合のエラーを生成する。
// 削除自体は成功しているため、警告として扱う。
func NewCleanupError(target string) *APIError {
	return &APIError{
		Code:     ErrCodeCleanupFailed,
		Message:  fmt.Sprintf("The record was removed but its %s could not be deleted.", target),
		Category: "system",
		Action:   "No action is needed. The leftover files will not be shown.",
		Kind:     KindTransient,
	}
}

// KindOf はエラーチェーンに含まれるAPIErrorのKindを返す。
// APIErrorを含まない場合は空文字列を返す。
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}
