package repository

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound は更新・削除対象の行が存在しない場合に返す。
var ErrNotFound = errors.New("record not found")

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// IsUniqueViolation はエラーチェーンにPostgreSQLの一意制約違反が含まれるかを返す。
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

// nullString は空文字列をNULLとして扱うsql.NullStringを返す。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
