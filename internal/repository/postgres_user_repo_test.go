package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/lib/pq"
)

// PostgresUserRepoはUserRepositoryインターフェースを満たすことを検証
func TestPostgresUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
}

// PostgresSessionRepoはSessionRepositoryインターフェースを満たすことを検証
func TestPostgresSessionRepo_ImplementsInterface(t *testing.T) {
	var _ SessionRepository = (*PostgresSessionRepo)(nil)
}

// PostgresItemRepoはItemRepositoryインターフェースを満たすことを検証
func TestPostgresItemRepo_ImplementsInterface(t *testing.T) {
	var _ ItemRepository = (*PostgresItemRepo)(nil)
}

// PostgresPictureRepoはPictureRepositoryインターフェースを満たすことを検証
func TestPostgresPictureRepo_ImplementsInterface(t *testing.T) {
	var _ PictureRepository = (*PostgresPictureRepo)(nil)
}

// 各コンストラクタが正しく初期化されることを検証
func TestNewRepos_Initialize(t *testing.T) {
	if NewPostgresUserRepo(nil) == nil {
		t.Fatal("expected non-nil user repo")
	}
	if NewPostgresSessionRepo(nil) == nil {
		t.Fatal("expected non-nil session repo")
	}
	if NewPostgresItemRepo(nil) == nil {
		t.Fatal("expected non-nil item repo")
	}
	if NewPostgresPictureRepo(nil) == nil {
		t.Fatal("expected non-nil picture repo")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"unique violation", &pq.Error{Code: "23505"}, true},
		{"wrapped unique violation", fmt.Errorf("failed to insert user: %w", &pq.Error{Code: "23505"}), true},
		{"foreign key violation", &pq.Error{Code: "23503"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUniqueViolation(tt.err); got != tt.want {
				t.Errorf("IsUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNullString(t *testing.T) {
	if ns := nullString(""); ns.Valid {
		t.Errorf("nullString(\"\").Valid = true, want false")
	}
	ns := nullString("01234567890")
	if !ns.Valid || ns.String != "01234567890" {
		t.Errorf("nullString() = %+v, want valid 01234567890", ns)
	}
	if got := nullStringValue(sql.NullString{}); got != "" {
		t.Errorf("nullStringValue(NULL) = %q, want empty", got)
	}
	if got := nullStringValue(sql.NullString{String: "a.jpg", Valid: true}); got != "a.jpg" {
		t.Errorf("nullStringValue() = %q, want %q", got, "a.jpg")
	}
}

// fakeResult はsql.Resultのテスト用実装。
type fakeResult struct {
	rows int64
	err  error
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, r.err }

func TestRequireAffected(t *testing.T) {
	if err := requireAffected(fakeResult{rows: 1}, "item", "id-1"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	err := requireAffected(fakeResult{rows: 0}, "item", "id-1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	err = requireAffected(fakeResult{err: errors.New("driver")}, "item", "id-1")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("expected driver error, got %v", err)
	}
}

// 商品リポジトリのエラーが「failed to」形式でラップされることを検証
func TestPostgresItemRepo_ErrorWrapping(t *testing.T) {
	db, err := sql.Open("postgres", "postgres://market@127.0.0.1:1/market?sslmode=disable")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	_ = db.Close()
	repo := NewPostgresItemRepo(db)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		want string
	}{
		{"FindByID", func() error { _, err := repo.FindByID(ctx, "i1"); return err }, "failed to find item"},
		{"ListByOwner", func() error { _, err := repo.ListByOwner(ctx, "u1"); return err }, "failed to list owned items"},
		{"Search", func() error { _, _, err := repo.Search(ctx, ItemQuery{Limit: 10}); return err }, "failed to count items"},
		{"DeleteWithPictures", func() error { return repo.DeleteWithPictures(ctx, "i1") }, "failed to begin transaction"},
		{"Transfer", func() error { _, err := repo.Transfer(ctx, "i1", "u1", nil); return err }, "failed to begin transaction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if err == nil {
				t.Fatal("expected error on closed database")
			}
			if !strings.HasPrefix(err.Error(), tt.want+": ") {
				t.Errorf("error = %q, want prefix %q", err.Error(), tt.want)
			}
		})
	}
}
