// Package storage moves documents between the local filesystem and S3.
// Batch jobs may name an s3:// URL as either a source path or the output
// directory for cleaned copies.
package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// IsS3URL reports whether p names an S3 object or prefix.
func IsS3URL(p string) bool { return strings.HasPrefix(p, "s3://") }

// ParseS3URL splits s3://bucket/key/parts into bucket and key.
func ParseS3URL(p string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(p, "s3://")
	if rest == p {
		return "", "", fmt.Errorf("not an s3 url: %s", p)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("s3 url missing bucket: %s", p)
	}
	return bucket, key, nil
}

// Uploader pushes and pulls documents over a shared AWS client.
type Uploader struct {
	client *s3.Client
	up     *manager.Uploader
	down   *manager.Downloader
}

func NewUploader(ctx context.Context) (*Uploader, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	cli := s3.NewFromConfig(cfg)
	return &Uploader{
		client: cli,
		up:     manager.NewUploader(cli),
		down:   manager.NewDownloader(cli),
	}, nil
}

// UploadFile sends a local file to the destination s3:// URL. When the URL
// ends with "/" the local basename is appended. Returns the full object URL.
func (u *Uploader) UploadFile(ctx context.Context, localPath, destURL string) (string, error) {
	bucket, key, err := ParseS3URL(destURL)
	if err != nil {
		return "", err
	}
	if key == "" || strings.HasSuffix(key, "/") {
		key = path.Join(key, path.Base(localPath))
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = u.up.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/pdf"),
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3://%s/%s: %w", bucket, key, err)
	}
	log.Info().Str("bucket", bucket).Str("key", key).Msg("uploaded cleaned copy to S3")
	return fmt.Sprintf("s3://%s/%s", bucket, key), nil
}

// DownloadFile fetches an s3:// object into a fresh temp directory, keeping
// the object's basename, and returns the local path. The caller owns the
// directory.
func (u *Uploader) DownloadFile(ctx context.Context, srcURL string) (string, error) {
	bucket, key, err := ParseS3URL(srcURL)
	if err != nil {
		return "", err
	}
	dir, err := os.MkdirTemp("", "source-")
	if err != nil {
		return "", err
	}
	f, err := os.Create(filepath.Join(dir, path.Base(key)))
	if err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	n, err := u.down.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	log.Debug().Str("bucket", bucket).Str("key", key).Int64("bytes", n).Msg("downloaded source document from S3")
	return f.Name(), nil
}

// DirURL returns the s3:// prefix containing the object named by u.
func DirURL(u string) string {
	bucket, key, err := ParseS3URL(u)
	if err != nil {
		return u
	}
	d := path.Dir(key)
	if d == "." || d == "/" {
		return "s3://" + bucket
	}
	return "s3://" + bucket + "/" + d
}
