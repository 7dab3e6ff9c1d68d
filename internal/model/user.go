// Package model はドメインモデルを定義する。
package model

import "time"

// DefaultUserState は状態メッセージ未入力時の初期値。
const DefaultUserState = "Didn't write anything yet"

// User はマーケットの利用者を表す。
// メール確認が完了した時点で初めて永続化される。
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Mobile1      string
	Mobile2      string // 任意
	ImageFile    string // プロフィール画像のファイル名。未設定の場合は空
	State        string
	Budget       int64
	IsVerified   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session はクライアントごとのサーバーサイドセッションを表す。
// 未ログインの匿名セッションではUserIDは空となる。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsAuthenticated はセッションにログインユーザーが紐付いているかを返す。
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.UserID != ""
}

// PendingRegistration はメール確認待ちの仮登録データを表す。
// セッションごとに最大1件のみ保持される。
type PendingRegistration struct {
	Name         string `json:"name"`
	Email        string `json:"email_address"`
	Mobile1      string `json:"mobile_number1"`
	Mobile2      string `json:"mobile_number2,omitempty"`
	PasswordHash string `json:"password_hash"`
}

// SessionData はsessions.dataカラムに格納するJSONドキュメント。
type SessionData struct {
	NewUser   *PendingRegistration `json:"new_user_data,omitempty"`
	EmailSent bool                 `json:"email_sent,omitempty"`
}
