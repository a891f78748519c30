// Package storage 提供了与对象存储服务（MinIO）交互的功能，主要用于生成图片的预签名链接。
package storage

import (
	"context"
	"time"

	"companion-go/internal/config"
	"companion-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// URLSigner 为对象生成限时访问链接。
type URLSigner interface {
	PresignedURL(ctx context.Context, objectName string) (string, error)
}

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}

	log.Info("MinIO 客户端初始化成功")

	ctx := context.Background()
	bucketName := cfg.BucketName
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}

	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		if err = MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}
}

type minioSigner struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewSigner 基于 MinIO 客户端创建 URLSigner。
func NewSigner(client *minio.Client, bucket string, expiry time.Duration) URLSigner {
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &minioSigner{client: client, bucket: bucket, expiry: expiry}
}

// PresignedURL 生成对象的预签名 GET 链接，对象名为空时返回空串。
func (s *minioSigner) PresignedURL(ctx context.Context, objectName string) (string, error) {
	if objectName == "" {
		return "", nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, s.expiry, nil)
	if err != nil {
		log.Errorf("Error generating presigned URL: %s", err)
		return "", err
	}
	return u.String(), nil
}
