package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3Config agrupa los parámetros del backend S3 compatible.
type S3Config struct {
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UsePathStyle  bool
	PublicBaseURL string
	KeyPrefix     string
}

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Uploader sube imágenes de perfil a un bucket S3 (o MinIO).
type S3Uploader struct {
	client  s3API
	bucket  string
	prefix  string
	baseURL string
	now     func() time.Time
}

func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newS3Uploader(client, cfg), nil
}

func newS3Uploader(client s3API, cfg S3Config) *S3Uploader {
	return &S3Uploader{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.KeyPrefix, "/"),
		baseURL: publicBaseURL(cfg),
		now:     time.Now,
	}
}

func (u *S3Uploader) Upload(ctx context.Context, localPath string) (Asset, error) {
	if strings.TrimSpace(localPath) == "" {
		return Asset{}, fmt.Errorf("%w: empty local path", ErrUploadFailed)
	}
	f, err := os.Open(localPath)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: open: %v", ErrUploadFailed, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Asset{}, fmt.Errorf("%w: stat: %v", ErrUploadFailed, err)
	}
	contentType, err := detectContentType(f, localPath)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: sniff: %v", ErrUploadFailed, err)
	}

	key := u.objectKey(filepath.Ext(localPath))
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return Asset{}, fmt.Errorf("%w: put object: %v", ErrUploadFailed, err)
	}
	return Asset{URL: u.baseURL + "/" + key, Key: key}, nil
}

func (u *S3Uploader) Delete(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	_, err := u.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	return err
}

func (u *S3Uploader) objectKey(ext string) string {
	d := u.now().UTC()
	name := fmt.Sprintf("%d/%02d/%02d/%s%s", d.Year(), d.Month(), d.Day(), uuid.NewString(), strings.ToLower(ext))
	if u.prefix == "" {
		return name
	}
	return path.Join(u.prefix, name)
}

func detectContentType(f *os.File, localPath string) (string, error) {
	if ct := mime.TypeByExtension(filepath.Ext(localPath)); ct != "" {
		return ct, nil
	}
	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(head[:n]), nil
}

func publicBaseURL(cfg S3Config) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	}
	if cfg.Endpoint != "" {
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
}
