package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/foxseedlab/rokuon/internal/storage"
)

// S3Client is the subset of the S3 API used for uploads. *s3.Client satisfies it.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Presigner is satisfied by *s3.PresignClient.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	PublicBaseURL   string
	URLTTL          time.Duration
}

// S3Store uploads artifacts to S3 or any S3-compatible store (MinIO, R2).
// Links point at PublicBaseURL when set, otherwise at a presigned GET.
type S3Store struct {
	client        S3Client
	presigner     Presigner
	bucket        string
	prefix        string
	publicBaseURL string
	urlTTL        time.Duration
}

func NewS3Store(cfg S3Config) *S3Store {
	opts := s3.Options{
		Region: cfg.Region,
		Credentials: aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     cfg.AccessKeyID,
				SecretAccessKey: cfg.SecretAccessKey,
				Source:          "rokuon-static",
			}, nil
		})),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	client := s3.New(opts)
	return newS3Store(client, s3.NewPresignClient(client), cfg)
}

func newS3Store(client S3Client, presigner Presigner, cfg S3Config) *S3Store {
	return &S3Store{
		client:        client,
		presigner:     presigner,
		bucket:        cfg.Bucket,
		prefix:        strings.Trim(cfg.Prefix, "/"),
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		urlTTL:        cfg.URLTTL,
	}
}

func (s *S3Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *S3Store) Upload(ctx context.Context, filePath, name string) (storage.UploadResult, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return storage.UploadResult{}, &storage.UploadError{Name: name, Err: err}
	}
	defer func() {
		_ = f.Close()
	}()
	info, err := f.Stat()
	if err != nil {
		return storage.UploadResult{}, &storage.UploadError{Name: name, Err: err}
	}

	key := s.key(name)
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("audio/mpeg"),
		ContentDisposition: aws.String(mime.FormatMediaType("attachment", map[string]string{
			"filename": path.Base(name),
		})),
	}); err != nil {
		return storage.UploadResult{}, &storage.UploadError{Name: name, Err: describeS3Error(err)}
	}

	link, err := s.link(ctx, key)
	if err != nil {
		return storage.UploadResult{}, &storage.UploadError{Name: name, Err: err}
	}
	return storage.UploadResult{Key: key, URL: link}, nil
}

func (s *S3Store) link(ctx context.Context, key string) (string, error) {
	if s.publicBaseURL != "" {
		segments := strings.Split(key, "/")
		for i, seg := range segments {
			segments[i] = url.PathEscape(seg)
		}
		return s.publicBaseURL + "/" + strings.Join(segments, "/"), nil
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.urlTTL))
	if err != nil {
		return "", fmt.Errorf("presign download link: %w", describeS3Error(err))
	}
	return req.URL, nil
}

func describeS3Error(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("s3 %s: %s: %w", apiErr.ErrorCode(), apiErr.ErrorMessage(), err)
	}
	return err
}
