// Package storage は画像ファイルの保存先を抽象化する。
// ローカルファイルシステムとS3互換オブジェクトストレージの2実装を持つ。
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Kind は画像の保存対象の種別を表す。
type Kind string

const (
	// KindItem は商品画像。商品ごとのディレクトリに保存される。
	KindItem Kind = "item"
	// KindProfile はプロフィール画像。単一のディレクトリに保存される。
	KindProfile Kind = "profile"
)

// ディレクトリ名は既存の静的ファイル配置に合わせる。
const (
	itemDir    = "image_pics"
	profileDir = "profile_pics"
)

// ErrInvalidKey はキーに不正な種別やパス区切りが含まれる場合のエラー。
var ErrInvalidKey = errors.New("invalid storage key")

// Key は保存するファイルの論理的な位置を表す。
type Key struct {
	Kind     Kind
	TargetID string // 商品ID。プロフィール画像では使用しない
	Filename string
}

// Storage は画像ファイルの書き込みと削除を行う。
type Storage interface {
	// Write はdataをkeyの位置に保存する。ディレクトリは必要に応じて作成する。
	Write(ctx context.Context, key Key, data []byte) error
	// Remove はkeyのファイルを削除する。存在しない場合はnilを返す。
	Remove(ctx context.Context, key Key) error
	// RemoveDir は対象の商品ディレクトリを再帰的に削除する。存在しない場合はnilを返す。
	RemoveDir(ctx context.Context, kind Kind, targetID string) error
	// Exists はkeyのファイルが存在するかを返す。
	Exists(ctx context.Context, key Key) (bool, error)
}

// Path はkeyに対応するスラッシュ区切りの相対パスを返す。
func (k Key) Path() (string, error) {
	if !validSegment(k.Filename) {
		return "", fmt.Errorf("%w: filename %q", ErrInvalidKey, k.Filename)
	}
	switch k.Kind {
	case KindItem:
		dir, err := Dir(KindItem, k.TargetID)
		if err != nil {
			return "", err
		}
		return path.Join(dir, k.Filename), nil
	case KindProfile:
		return path.Join(profileDir, k.Filename), nil
	default:
		return "", fmt.Errorf("%w: kind %q", ErrInvalidKey, k.Kind)
	}
}

// Dir は対象のディレクトリの相対パスを返す。
// ディレクトリ単位の削除は商品画像のみを対象とする。
func Dir(kind Kind, targetID string) (string, error) {
	if kind != KindItem {
		return "", fmt.Errorf("%w: kind %q has no per-target directory", ErrInvalidKey, kind)
	}
	if !validSegment(targetID) {
		return "", fmt.Errorf("%w: target id %q", ErrInvalidKey, targetID)
	}
	return path.Join(itemDir, targetID), nil
}

// validSegment はパス要素として安全な文字列かを判定する。
func validSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`) && !strings.Contains(s, "\x00")
}
