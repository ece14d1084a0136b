package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/casdoor/oss"
)

var _ oss.StorageInterface = (*FileStore)(nil)

// FileStore 本地目录存储，key 为相对路径
type FileStore struct {
	basePath string
}

// NewFileStore 以 basePath 为根目录创建存储，目录不存在时自动创建
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve base path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: abs}, nil
}

func (s *FileStore) BasePath() string {
	return s.basePath
}

func (s *FileStore) fullPath(key string) (string, error) {
	clean, err := SanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(clean)), nil
}

func (s *FileStore) Get(key string) (*os.File, error) {
	p, err := s.fullPath(key)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

func (s *FileStore) GetStream(key string) (io.ReadCloser, error) {
	return s.Get(key)
}

// Put 写入文件，返回的 Object.Path 为规范化后的 key
func (s *FileStore) Put(key string, r io.Reader) (*oss.Object, error) {
	clean, err := SanitizeKey(key)
	if err != nil {
		return nil, err
	}
	p := filepath.Join(s.basePath, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure directory: %w", err)
	}

	// 先写临时文件再改名，读者不会看到写了一半的结果
	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return nil, fmt.Errorf("storage: create file: %w", err)
	}
	size, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("storage: write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("storage: commit file: %w", err)
	}

	return &oss.Object{Path: clean, Name: filepath.Base(clean), Size: size, StorageInterface: s}, nil
}

func (s *FileStore) Delete(key string) error {
	p, err := s.fullPath(key)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

// List 递归列出前缀目录下的文件
func (s *FileStore) List(prefix string) ([]*oss.Object, error) {
	root := s.basePath
	if prefix != "" {
		p, err := s.fullPath(prefix)
		if err != nil {
			return nil, err
		}
		root = p
	}

	var objects []*oss.Object
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.basePath, p)
		if err != nil {
			return err
		}
		mt := info.ModTime()
		objects = append(objects, &oss.Object{
			Path:             filepath.ToSlash(rel),
			Name:             info.Name(),
			LastModified:     &mt,
			Size:             info.Size(),
			StorageInterface: s,
		})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("storage: list files: %w", err)
	}
	return objects, nil
}

func (s *FileStore) GetEndpoint() string {
	return "/"
}

func (s *FileStore) GetURL(key string) (string, error) {
	return SanitizeKey(key)
}

// SanitizeKey 规范化 key，禁止跳出存储根目录
func SanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimLeft(strings.TrimPrefix(key, "./"), "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
