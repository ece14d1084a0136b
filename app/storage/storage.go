package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"rigforge/app/config"

	aws3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/casdoor/oss"
	"github.com/casdoor/oss/s3"
)

// New 按配置创建存储后端
func New(cfg config.StorageConfig) (oss.StorageInterface, error) {
	switch cfg.Provider {
	case "filesystem", "":
		return NewFileStore(cfg.BasePath)
	case "aws-s3":
		return newS3(cfg, false), nil
	case "minio":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("storage: endpoint is required for minio")
		}
		return newS3(cfg, true), nil
	default:
		return nil, fmt.Errorf("storage: unsupported provider %q", cfg.Provider)
	}
}

func newS3(cfg config.StorageConfig, pathStyle bool) oss.StorageInterface {
	return s3.New(&s3.Config{
		AccessID:         cfg.ID,
		AccessKey:        cfg.Secret,
		Region:           cfg.Region,
		Bucket:           cfg.Bucket,
		Endpoint:         cfg.Endpoint,
		S3Endpoint:       cfg.Endpoint,
		ACL:              aws3.BucketCannedACLPrivate,
		S3ForcePathStyle: pathStyle,
	})
}

// ReadAll 读取整个对象
func ReadAll(ctx context.Context, st oss.StorageInterface, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := st.GetStream(key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// WriteBytes 写入对象并返回存储后的 key
func WriteBytes(ctx context.Context, st oss.StorageInterface, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, err := SanitizeKey(key)
	if err != nil {
		return "", err
	}
	obj, err := st.Put(clean, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	if obj != nil && obj.Path != "" {
		return obj.Path, nil
	}
	return clean, nil
}
