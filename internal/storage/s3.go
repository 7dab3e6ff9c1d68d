package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3API はS3Storageが利用するS3クライアントのメソッド。
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Config はS3Storageの接続設定。
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string // MinIOなどS3互換サービスのエンドポイント。空ならAWS
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3Storage はS3互換オブジェクトストレージに画像を保存する。
// オブジェクトキーはLocalStorageの相対パスと同じ構成とする。
type S3Storage struct {
	client s3API
	bucket string
}

// コンパイル時にインターフェースの実装を検証する。
var _ Storage = (*S3Storage)(nil)

// NewS3Storage は設定からS3クライアントを構築してS3Storageを生成する。
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newS3Storage(client, cfg.Bucket), nil
}

func newS3Storage(client s3API, bucket string) *S3Storage {
	return &S3Storage{client: client, bucket: bucket}
}

// Write はオブジェクトを1回のPutで保存する。
func (s *S3Storage) Write(ctx context.Context, key Key, data []byte) error {
	objectKey, err := key.Path()
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("image/jpeg"),
	})
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}

// Remove はオブジェクトを削除する。S3は存在しないキーの削除でもエラーを返さない。
func (s *S3Storage) Remove(ctx context.Context, key Key) error {
	objectKey, err := key.Path()
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// RemoveDir はプレフィックス配下のオブジェクトを一覧してまとめて削除する。
func (s *S3Storage) RemoveDir(ctx context.Context, kind Kind, targetID string) error {
	dir, err := Dir(kind, targetID)
	if err != nil {
		return err
	}
	prefix := dir + "/"

	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}

		if len(out.Contents) > 0 {
			ids := make([]types.ObjectIdentifier, 0, len(out.Contents))
			for _, obj := range out.Contents {
				ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
			}
			res, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(s.bucket),
				Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
			})
			if err != nil {
				return fmt.Errorf("failed to delete objects: %w", err)
			}
			if len(res.Errors) > 0 {
				return fmt.Errorf("failed to delete %d objects under %s", len(res.Errors), prefix)
			}
		}

		if !aws.ToBool(out.IsTruncated) {
			return nil
		}
		token = out.NextContinuationToken
	}
}

// Exists はHeadObjectでオブジェクトの存在を確認する。
func (s *S3Storage) Exists(ctx context.Context, key Key) (bool, error) {
	objectKey, err := key.Path()
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, fmt.Errorf("failed to head object: %w", err)
}
