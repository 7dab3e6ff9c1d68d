package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalStorage はローカルファイルシステムに画像を保存する。
type LocalStorage struct {
	root string
}

// コンパイル時にインターフェースの実装を検証する。
var _ Storage = (*LocalStorage)(nil)

// NewLocalStorage はrootを基点とするLocalStorageを生成する。
func NewLocalStorage(root string) *LocalStorage {
	return &LocalStorage{root: root}
}

// Root は保存先のルートディレクトリを返す。
func (s *LocalStorage) Root() string {
	return s.root
}

// Write は同一ディレクトリの一時ファイルに書き込んでからリネームする。
// 書き込みに失敗した場合に中途半端なファイルは残らない。
func (s *LocalStorage) Write(ctx context.Context, key Key, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rel, err := key.Path()
	if err != nil {
		return err
	}
	dst := filepath.Join(s.root, filepath.FromSlash(rel))

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close image: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod image: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move image into place: %w", err)
	}
	return nil
}

// Remove はファイルを削除する。存在しない場合はnilを返す。
func (s *LocalStorage) Remove(ctx context.Context, key Key) error {
	rel, err := key.Path()
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.root, filepath.FromSlash(rel))); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove image: %w", err)
	}
	return nil
}

// RemoveDir は商品ディレクトリを再帰的に削除する。
func (s *LocalStorage) RemoveDir(ctx context.Context, kind Kind, targetID string) error {
	rel, err := Dir(kind, targetID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.root, filepath.FromSlash(rel))); err != nil {
		return fmt.Errorf("failed to remove image directory: %w", err)
	}
	return nil
}

// Exists はファイルの存在を確認する。
func (s *LocalStorage) Exists(ctx context.Context, key Key) (bool, error) {
	rel, err := key.Path()
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(s.root, filepath.FromSlash(rel)))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat image: %w", err)
}
