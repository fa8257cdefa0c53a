// Package client はauthgate APIのクライアント側セッション管理を提供する。
// 永続化されたセッション、送信リクエストへのトークン付与、ログインフローの状態遷移を扱う。
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio"
)

// Storage はキーと文字列値の組を永続化するストア。
// Saveは全体を置き換え、途中の状態を外部から観測させない。
type Storage interface {
	Load() (map[string]string, error)
	Save(values map[string]string) error
}

// FileStore はJSONファイルに保存するStorage。
// 書き込みは一時ファイルへの出力とrenameで行う。
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore はpathに保存するFileStoreを生成する。ファイルは初回保存時に作成される。
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path は保存先のファイルパスを返す。
func (s *FileStore) Path() string {
	return s.path
}

// Load はファイルの内容を読み込む。ファイルが存在しない場合は空のマップを返す。
func (s *FileStore) Load() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	values := map[string]string{}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	return values, nil
}

// Save はvaluesでファイル全体を置き換える。
func (s *FileStore) Save(values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// MemoryStore はプロセス内だけで保持するStorage。テストや一時利用向け。
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]string{}}
}

// Load は保持している値のコピーを返す。
func (s *MemoryStore) Load() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.values), nil
}

// Save は保持している値を置き換える。
func (s *MemoryStore) Save(values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = maps.Clone(values)
	if s.values == nil {
		s.values = map[string]string{}
	}
	return nil
}
