package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"acquisition-service/ddd/domain/failure"
	"acquisition-service/ddd/domain/gateway"
)

// LocalStorage 交付到本地目录，未启用 MinIO 时使用
type LocalStorage struct {
	root string
}

func NewLocalStorage(root string) gateway.DeliveryGateway {
	return &LocalStorage{root: root}
}

func (s *LocalStorage) Deliver(ctx context.Context, localPath, objectKey, contentType string) (string, error) {
	dst := filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(objectKey, "/")))
	if rel, err := filepath.Rel(s.root, dst); err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", failure.Permanentf("object key %q escapes delivery root", objectKey)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create delivery dir: %w", err)
	}
	src, err := os.Open(localPath)
	if err != nil {
		return "", failure.Permanent(fmt.Errorf("open local file failed: %w", err))
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return "file://" + dst, nil
}
