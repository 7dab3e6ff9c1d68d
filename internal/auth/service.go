// Package auth はメールアドレス確認付きの会員登録、ログイン、パスワードリセット、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/market/internal/mail"
	"github.com/hitoshi/market/internal/model"
	"github.com/hitoshi/market/internal/pending"
	"github.com/hitoshi/market/internal/repository"
	"github.com/hitoshi/market/internal/token"
	"github.com/hitoshi/market/internal/validation"
)

// メール内リンクのパス。
const (
	verifyPath = "/api/verify-email/"
	resetPath  = "/reset-password/"
)

// メール確認結果のメトリクスラベル。
const (
	outcomeVerified     = "verified"
	outcomeInvalidToken = "invalid_token"
	outcomeNoPending    = "no_pending"
	outcomeMismatch     = "email_mismatch"
	outcomeDuplicate    = "duplicate"
)

// TokenService は用途別トークンの発行と検証を行う。
type TokenService interface {
	Issue(purpose token.Purpose, claim string) (string, error)
	Verify(tok string, purpose token.Purpose, maxAge time.Duration) (string, error)
}

// Recorder は認証フローのメトリクスを記録する。
type Recorder interface {
	RecordRegistration()
	RecordVerification(outcome string)
	RecordLogin(success bool)
	RecordMailFailure()
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int           // セッション有効期間（秒）
	TokenMaxAge   time.Duration // メール内トークンの有効期間
	BaseURL       string        // メール内リンクの基点
	DefaultBudget int64         // 新規ユーザーの初期予算
	BcryptCost    int           // 0の場合はbcrypt.DefaultCost
}

// RegisterInput は会員登録フォームの入力値。
type RegisterInput struct {
	Name            string
	Email           string
	Mobile1         string
	Mobile2         string
	Password        string
	ConfirmPassword string
}

// MailResult は確認メール送信の結果。
// 送信に失敗しても主処理は成功しており、失敗はWarningに格納される。
type MailResult struct {
	Sent    bool
	Warning error
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	pending     pending.Store
	tokens      TokenService
	mailer      mail.Mailer
	metrics     Recorder
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。metricsはnilでもよい。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	store pending.Store,
	tokens TokenService,
	mailer mail.Mailer,
	metrics Recorder,
	config ServiceConfig,
) *Service {
	if config.TokenMaxAge <= 0 {
		config.TokenMaxAge = token.DefaultMaxAge
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		pending:     store,
		tokens:      tokens,
		mailer:      mailer,
		metrics:     metrics,
		config:      config,
		now:         time.Now,
	}
}

// Register は会員登録フォームを検証し、仮登録データを保存して確認メールを送信する。
// ユーザーはメールアドレスの確認が完了するまで作成されない。
// 同一セッションで再登録した場合は仮登録データが上書きされる。
func (s *Service) Register(ctx context.Context, sessionID string, in RegisterInput) (MailResult, error) {
	reg, password, err := normalizeRegistration(in)
	if err != nil {
		return MailResult{}, err
	}

	existing, err := s.userRepo.FindByEmail(ctx, reg.Email)
	if err != nil {
		return MailResult{}, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return MailResult{}, model.NewEmailTakenError()
	}

	reg.PasswordHash, err = hashPassword(password, s.config.BcryptCost)
	if err != nil {
		return MailResult{}, err
	}

	if err := s.pending.Put(ctx, sessionID, reg); err != nil {
		return MailResult{}, fmt.Errorf("failed to save pending registration: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordRegistration()
	}

	slog.Info("仮登録を保存しました",
		slog.String("session_id", sessionID),
	)

	return s.sendVerification(ctx, sessionID, reg)
}

// ResendVerification は仮登録データを変更せずに確認メールを再送する。
func (s *Service) ResendVerification(ctx context.Context, sessionID string) (MailResult, error) {
	reg, err := s.pending.Get(ctx, sessionID)
	if err != nil {
		return MailResult{}, fmt.Errorf("failed to load pending registration: %w", err)
	}
	if reg == nil {
		return MailResult{}, model.NewNoPendingRegistrationError()
	}
	return s.sendVerification(ctx, sessionID, reg)
}

// VerificationSent は確認メールの送信済みフラグを返す。
func (s *Service) VerificationSent(ctx context.Context, sessionID string) (bool, error) {
	sent, err := s.pending.EmailSent(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to load email sent flag: %w", err)
	}
	return sent, nil
}

// VerifyEmail はメールアドレス確認トークンを検証し、仮登録データからユーザーを作成する。
// トークンが有効で、仮登録データが存在し、両者のメールアドレスが一致する場合のみ作成する。
// いずれかが満たされない場合はユーザーを作成せず、理由を区別しないエラーを返す。
func (s *Service) VerifyEmail(ctx context.Context, sessionID, tok string) (*model.User, error) {
	claim, err := s.tokens.Verify(tok, token.PurposeEmailVerify, s.config.TokenMaxAge)
	if err != nil {
		s.recordVerification(outcomeInvalidToken)
		return nil, model.NewRegistrationInvalidError()
	}

	reg, err := s.pending.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending registration: %w", err)
	}
	if reg == nil {
		s.recordVerification(outcomeNoPending)
		return nil, model.NewRegistrationInvalidError()
	}
	if validation.NormalizeEmail(claim) != reg.Email {
		s.recordVerification(outcomeMismatch)
		slog.Warn("確認トークンと仮登録のメールアドレスが一致しません",
			slog.String("session_id", sessionID),
		)
		return nil, model.NewRegistrationInvalidError()
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Name:         reg.Name,
		Email:        reg.Email,
		PasswordHash: reg.PasswordHash,
		Mobile1:      reg.Mobile1,
		Mobile2:      reg.Mobile2,
		State:        model.DefaultUserState,
		Budget:       s.config.DefaultBudget,
		IsVerified:   true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if repository.IsUniqueViolation(err) {
			// 確認済みのリンクが再度開かれた場合。ユーザーは作成済みなので仮登録のみ破棄する
			s.recordVerification(outcomeDuplicate)
			s.clearPending(ctx, sessionID)
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.clearPending(ctx, sessionID)
	s.recordVerification(outcomeVerified)

	slog.Info("ユーザーを作成しました",
		slog.String("user_id", user.ID),
	)
	return user, nil
}

// Login はメールアドレスとパスワードで認証し、ログイン済みセッションを発行する。
// セッション固定を防ぐため、既存のセッションは破棄して新しいIDを発行する。
func (s *Service) Login(ctx context.Context, sessionID, email, password string) (*model.Session, *model.User, error) {
	user, err := s.userRepo.FindByEmail(ctx, validation.NormalizeEmail(email))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil || !checkPassword(user.PasswordHash, password) {
		s.recordLogin(false)
		return nil, nil, model.NewInvalidCredentialsError()
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	if sessionID != "" {
		if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
			slog.Warn("旧セッションの削除に失敗しました",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.recordLogin(true)
	slog.Info("user logged in", slog.String("user_id", user.ID))
	return session, user, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// StartSession は未ログインの匿名セッションを発行する。
// 仮登録データはこのセッションに紐付けて保存される。
func (s *Service) StartSession(ctx context.Context) (*model.Session, error) {
	session, err := s.createSession(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create anonymous session: %w", err)
	}
	return session, nil
}

// CurrentUser はセッションから現在のユーザーを取得する。
// 未ログインの場合はUnauthorizedエラーを返す。
func (s *Service) CurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if !session.IsAuthenticated() {
		return nil, model.NewUnauthorizedError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// RequestPasswordReset はパスワードリセットメールを送信する。
// メールアドレスの登録有無に関わらず同じ結果を返す。
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = validation.NormalizeEmail(email)
	if err := validation.Email(email); err != nil {
		return err
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		slog.Info("未登録のメールアドレスへのリセット要求を無視しました")
		return nil
	}

	tok, err := s.tokens.Issue(token.PurposePasswordReset, user.ID)
	if err != nil {
		return fmt.Errorf("failed to issue reset token: %w", err)
	}
	msg, err := mail.PasswordResetMessage(user.Email, s.config.BaseURL+resetPath+tok, describeDuration(s.config.TokenMaxAge))
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.recordMailFailure("password reset", err)
		return nil
	}

	slog.Info("パスワードリセットメールを送信しました", slog.String("user_id", user.ID))
	return nil
}

// ResetPassword はリセットトークンを検証してパスワードを更新する。
// 更新後は対象ユーザーの全セッションを破棄する。
func (s *Service) ResetPassword(ctx context.Context, tok, password, confirm string) error {
	userID, err := s.tokens.Verify(tok, token.PurposePasswordReset, s.config.TokenMaxAge)
	if err != nil {
		return model.NewInvalidTokenError()
	}
	if err := checkNewPassword(password, confirm); err != nil {
		return err
	}

	hash, err := hashPassword(password, s.config.BcryptCost)
	if err != nil {
		return err
	}
	if err := s.userRepo.UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewInvalidTokenError()
		}
		return fmt.Errorf("failed to update password: %w", err)
	}

	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		slog.Warn("リセット後のセッション削除に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	slog.Info("パスワードをリセットしました", slog.String("user_id", userID))
	return nil
}

// ChangePassword はログイン中のユーザーのパスワードを変更する。現在のパスワードが一致する必要がある。
func (s *Service) ChangePassword(ctx context.Context, userID, current, password, confirm string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}
	if !checkPassword(user.PasswordHash, current) {
		return model.NewInvalidCredentialsError()
	}
	if err := checkNewPassword(password, confirm); err != nil {
		return err
	}

	hash, err := hashPassword(password, s.config.BcryptCost)
	if err != nil {
		return err
	}
	if err := s.userRepo.UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// sendVerification は確認トークンを発行してメールを送信し、送信済みフラグを立てる。
// 送信失敗は警告として返し、仮登録データは保持する。
func (s *Service) sendVerification(ctx context.Context, sessionID string, reg *model.PendingRegistration) (MailResult, error) {
	tok, err := s.tokens.Issue(token.PurposeEmailVerify, reg.Email)
	if err != nil {
		return MailResult{}, fmt.Errorf("failed to issue verification token: %w", err)
	}
	msg, err := mail.VerificationMessage(reg.Email, reg.Name, s.config.BaseURL+verifyPath+tok, describeDuration(s.config.TokenMaxAge))
	if err != nil {
		return MailResult{}, err
	}

	if err := s.mailer.Send(ctx, msg); err != nil {
		s.recordMailFailure("verification", err)
		return MailResult{Warning: model.NewMailDeliveryError()}, nil
	}

	if err := s.pending.MarkEmailSent(ctx, sessionID); err != nil {
		return MailResult{}, fmt.Errorf("failed to mark email as sent: %w", err)
	}
	return MailResult{Sent: true}, nil
}

// clearPending は仮登録データを破棄する。失敗してもユーザー作成の結果は変わらない。
func (s *Service) clearPending(ctx context.Context, sessionID string) {
	if err := s.pending.Clear(ctx, sessionID); err != nil {
		slog.Warn("仮登録データの削除に失敗しました",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}

// createSession はセッションを作成し永続化する。userIDが空の場合は匿名セッションとなる。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

func (s *Service) recordVerification(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordVerification(outcome)
	}
}

func (s *Service) recordLogin(success bool) {
	if s.metrics != nil {
		s.metrics.RecordLogin(success)
	}
}

func (s *Service) recordMailFailure(kind string, err error) {
	slog.Error("メールの送信に失敗しました",
		slog.String("mail", kind),
		slog.String("error", err.Error()),
	)
	if s.metrics != nil {
		s.metrics.RecordMailFailure()
	}
}

// normalizeRegistration は登録フォームを検証し、仮登録データと平文パスワードを返す。
func normalizeRegistration(in RegisterInput) (*model.PendingRegistration, string, error) {
	reg := &model.PendingRegistration{
		Name:    strings.TrimSpace(in.Name),
		Email:   validation.NormalizeEmail(in.Email),
		Mobile1: strings.TrimSpace(in.Mobile1),
		Mobile2: strings.TrimSpace(in.Mobile2),
	}

	if err := validation.Name(reg.Name); err != nil {
		return nil, "", err
	}
	if err := validation.Email(reg.Email); err != nil {
		return nil, "", err
	}
	if err := validation.Mobile("mobile1", reg.Mobile1, true); err != nil {
		return nil, "", err
	}
	if err := validation.Mobile("mobile2", reg.Mobile2, false); err != nil {
		return nil, "", err
	}
	if err := checkNewPassword(in.Password, in.ConfirmPassword); err != nil {
		return nil, "", err
	}
	return reg, in.Password, nil
}

func checkNewPassword(password, confirm string) error {
	if err := validation.Password(password); err != nil {
		return err
	}
	return validation.PasswordConfirmation(password, confirm)
}

// describeDuration はメール本文に表示する有効期間を返す。
func describeDuration(d time.Duration) string {
	if d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	return fmt.Sprintf("%d minutes", int(d/time.Minute))
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
