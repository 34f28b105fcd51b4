package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Gateway serves S3-compatible accounts (AWS, Backblaze B2, MinIO). Item IDs
// are object keys; folders are key prefixes ending with "/".
type S3Gateway struct {
	s3Client   *s3.Client
	bucket     string
	accountKey string
}

// S3Config carries the credentials and location of one S3-compatible account.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	EndpointURL     string
	Bucket          string
}

// NewS3Gateway builds a gateway for one bucket.
func NewS3Gateway(cfg S3Config) (*S3Gateway, error) {
	awsConfig, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			// B2/MinIO need path-style URLs.
			o.UsePathStyle = true
			o.UseAccelerate = false
		}
	})

	return &S3Gateway{
		s3Client:   s3Client,
		bucket:     cfg.Bucket,
		accountKey: "s3:" + cfg.EndpointURL + "/" + cfg.Bucket,
	}, nil
}

func (g *S3Gateway) AccountKey() string { return g.accountKey }

func (g *S3Gateway) GetItem(ctx context.Context, itemID string) (*Item, error) {
	if itemID == "" || strings.HasSuffix(itemID, "/") {
		return &Item{ID: itemID, Name: path.Base(strings.TrimSuffix(itemID, "/")), IsFolder: true}, nil
	}
	head, err := g.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(itemID),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, ErrNotFound
		}
		return nil, s3Error(err)
	}
	return &Item{
		ID:   itemID,
		Name: path.Base(itemID),
		Size: uint64(aws.ToInt64(head.ContentLength)),
	}, nil
}

func (g *S3Gateway) ListChildren(ctx context.Context, folderID string) ([]Item, error) {
	prefix := normalizePrefix(folderID)
	var items []Item
	paginator := s3.NewListObjectsV2Paginator(g.s3Client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(g.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s3Error(err)
		}
		for _, cp := range page.CommonPrefixes {
			key := aws.ToString(cp.Prefix)
			items = append(items, Item{
				ID:       key,
				Name:     path.Base(strings.TrimSuffix(key, "/")),
				IsFolder: true,
			})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix {
				continue
			}
			items = append(items, Item{
				ID:   key,
				Name: path.Base(key),
				Size: uint64(aws.ToInt64(obj.Size)),
			})
		}
	}
	return items, nil
}

func (g *S3Gateway) FindChildByName(ctx context.Context, folderID, name string) (*Item, error) {
	key := normalizePrefix(folderID) + name
	item, err := g.GetItem(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (g *S3Gateway) CopyItem(ctx context.Context, itemID, targetFolderID, name string) (*Item, error) {
	destKey := normalizePrefix(targetFolderID) + name
	_, err := g.s3Client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(g.bucket),
		CopySource: aws.String(g.bucket + "/" + itemID),
		Key:        aws.String(destKey),
	})
	if err != nil {
		return nil, s3Error(err)
	}
	return g.GetItem(ctx, destKey)
}

func (g *S3Gateway) Download(ctx context.Context, itemID string) (io.ReadCloser, error) {
	result, err := g.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(itemID),
	})
	if err != nil {
		return nil, s3Error(err)
	}
	return result.Body, nil
}

func (g *S3Gateway) Upload(ctx context.Context, folderID, name string, size uint64, r io.Reader) (*Item, error) {
	key := normalizePrefix(folderID) + name
	_, err := g.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(g.bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentType:   aws.String("application/octet-stream"),
		ContentLength: aws.Int64(int64(size)),
	})
	if err != nil {
		return nil, s3Error(err)
	}
	return &Item{ID: key, Name: name, Size: size}, nil
}

func normalizePrefix(folderID string) string {
	if folderID == "" || folderID == "/" {
		return ""
	}
	if !strings.HasSuffix(folderID, "/") {
		return folderID + "/"
	}
	return folderID
}

// s3Error maps throttling codes onto RateLimitError so the transfer loop can
// back off the same way it does for OAuth providers.
func s3Error(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded":
			return &RateLimitError{RetryAfter: 60 * time.Second}
		case "NoSuchKey", "NotFound":
			return ErrNotFound
		}
	}
	return err
}
