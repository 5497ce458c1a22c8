package templates

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Client is the subset of the S3 API used by S3Store.
type S3Client interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type S3StoreConfig struct {
	Client S3Client
	Bucket string

	// Prefix is prepended to every key, e.g. "templates/".
	Prefix string
}

func (cfg *S3StoreConfig) Validate() error {
	if cfg.Client == nil {
		return errors.New("s3 client is required")
	}
	if cfg.Bucket == "" {
		return errors.New("bucket name is required")
	}
	if cfg.Prefix != "" && !strings.HasSuffix(cfg.Prefix, "/") {
		cfg.Prefix += "/"
	}
	return nil
}

// S3Store keeps templates as YAML objects using the same layout as FileStore,
// below an optional key prefix.
type S3Store struct {
	cfg *S3StoreConfig
}

func NewS3Store(cfg *S3StoreConfig) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &S3Store{cfg: cfg}, nil
}

func (s *S3Store) key(site, id string) string {
	return s.cfg.Prefix + objectPath(site, id)
}

func (s *S3Store) Load(ctx context.Context) ([]*Template, []error, error) {
	var (
		out     []*Template
		skipped []error
	)
	paginator := s3.NewListObjectsV2Paginator(s.cfg.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(s.cfg.Prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list bucket %s: %w", s.cfg.Bucket, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			site, id, ok := parseObjectPath(strings.TrimPrefix(*obj.Key, s.cfg.Prefix))
			if !ok {
				continue
			}
			raw, err := s.get(ctx, *obj.Key)
			if err != nil {
				return nil, nil, err
			}
			t, err := Decode(raw, site)
			if err != nil {
				skipped = append(skipped, fmt.Errorf("%s: %w", *obj.Key, err))
				continue
			}
			if t.ID != id {
				skipped = append(skipped, fmt.Errorf("%s: template_id %q does not match key", *obj.Key, t.ID))
				continue
			}
			out = append(out, t)
		}
	}
	return out, skipped, nil
}

func (s *S3Store) get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.cfg.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	defer result.Body.Close()
	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

func (s *S3Store) Put(ctx context.Context, t *Template) error {
	if err := validSite(t.Site); err != nil {
		return err
	}
	raw, err := Encode(t)
	if err != nil {
		return err
	}
	key := s.key(t.Site, t.ID)
	_, err = s.cfg.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/yaml"),
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, site, id string) error {
	if err := validSite(site); err != nil {
		return err
	}
	key := s.key(site, id)
	// DeleteObject succeeds for missing keys, so check first.
	_, err := s.cfg.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return fmt.Errorf("%s: %w", Key(site, id), ErrTemplateNotFound)
		}
		return fmt.Errorf("failed to stat %s: %w", key, err)
	}
	if _, err := s.cfg.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
