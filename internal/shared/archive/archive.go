package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// Archiver 审批归档
// 审批通过的变更请求快照以 JSON 形式落到对象存储，供审计取证
type Archiver struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

func NewArchiver(client *minio.Client, bucket string, logger *zap.Logger) *Archiver {
	return &Archiver{client: client, bucket: bucket, logger: logger}
}

// Enabled 对象存储是否可用
func (a *Archiver) Enabled() bool {
	return a != nil && a.client != nil
}

// EnsureBucket 确认桶存在，不存在则创建
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	if !a.Enabled() {
		return nil
	}
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

// StoreSnapshot 归档快照
// 对象路径 change-requests/{code}/{timestamp}.json，重复归档互不覆盖
func (a *Archiver) StoreSnapshot(ctx context.Context, code string, snapshot interface{}) error {
	if !a.Enabled() {
		return nil
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	objectName := fmt.Sprintf("change-requests/%s/%s.json", code, time.Now().Format("20060102T150405"))
	_, err = a.client.PutObject(ctx, a.bucket, objectName,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}

	a.logger.Info("Archived change request snapshot",
		zap.String("code", code),
		zap.String("object", objectName))
	return nil
}

// LoadSnapshot 读取最近一次归档
func (a *Archiver) LoadSnapshot(ctx context.Context, objectName string) ([]byte, error) {
	if !a.Enabled() {
		return nil, fmt.Errorf("object storage is not configured")
	}
	obj, err := a.client.GetObject(ctx, a.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	defer obj.Close()
	return io.ReadAll(obj)
}
