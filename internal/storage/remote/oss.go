package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"golang.org/x/sync/errgroup"

	"github.com/mochivi/dataset-curator/internal/credentials"
)

const ossListPageSize = 1000

type OSSConfig struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	AccessKeySecret string
	// Concurrent object writes per batch
	UploadConcurrency int
}

// OSSStore persists the dataset to an Aliyun OSS bucket. The process-wide token is
// attached as the STS security token on every call, so a missing token fails the call.
// The SDK takes no context, so cancellation is checked before every request and
// between list pages. A request already on the wire runs to completion.
type OSSStore struct {
	config OSSConfig
	tokens credentials.TokenSource
	logger *slog.Logger
}

func NewOSSStore(config OSSConfig, tokens credentials.TokenSource, logger *slog.Logger) *OSSStore {
	if config.UploadConcurrency <= 0 {
		config.UploadConcurrency = 4
	}
	return &OSSStore{config: config, tokens: tokens, logger: logger}
}

func (s *OSSStore) bucket() (*oss.Bucket, error) {
	token, err := s.tokens.Token()
	if err != nil {
		return nil, err
	}
	client, err := oss.New(s.config.Endpoint, s.config.AccessKeyID, s.config.AccessKeySecret, oss.SecurityToken(token))
	if err != nil {
		return nil, fmt.Errorf("failed to create oss client: %w", err)
	}
	return client.Bucket(s.config.Bucket)
}

func (s *OSSStore) List(ctx context.Context, prefix string, recursive bool) ([]Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bucket, err := s.bucket()
	if err != nil {
		return nil, err
	}

	options := []oss.Option{oss.Prefix(prefix), oss.MaxKeys(ossListPageSize)}
	if !recursive {
		options = append(options, oss.Delimiter("/"))
	}

	objects := make([]Object, 0)
	var continuation string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pageOptions := options
		if continuation != "" {
			pageOptions = append(pageOptions, oss.ContinuationToken(continuation))
		}

		result, err := bucket.ListObjectsV2(pageOptions...)
		if err != nil {
			return nil, translateOSSError("list", prefix, err)
		}
		for _, object := range result.Objects {
			objects = append(objects, Object{Path: object.Key, Type: ObjectFile})
		}
		for _, commonPrefix := range result.CommonPrefixes {
			objects = append(objects, Object{Path: commonPrefix, Type: ObjectDirectory})
		}

		if !result.IsTruncated {
			return objects, nil
		}
		continuation = result.NextContinuationToken
	}
}

// UploadBatch writes the files concurrently. OSS has no multi-object commit, so a failed
// batch may leave some of its objects written; retrying the batch overwrites them.
func (s *OSSStore) UploadBatch(ctx context.Context, files []File) error {
	if len(files) == 0 {
		return &StatusError{StatusCode: http.StatusBadRequest, Op: "upload", Err: ErrEmptyBatch}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	bucket, err := s.bucket()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.UploadConcurrency)
	for _, file := range files {
		file := file
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := bucket.PutObject(file.Path, bytes.NewReader(file.Content)); err != nil {
				return translateOSSError("upload", file.Path, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Debug("Uploaded batch to oss", slog.Int("files", len(files)))
	return nil
}

func (s *OSSStore) Download(ctx context.Context, objectPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bucket, err := s.bucket()
	if err != nil {
		return nil, err
	}
	body, err := bucket.GetObject(objectPath)
	if err != nil {
		return nil, translateOSSError("download", objectPath, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &StatusError{StatusCode: http.StatusBadGateway, Op: "download", Path: objectPath, Err: err}
	}
	return data, nil
}

func (s *OSSStore) Delete(ctx context.Context, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bucket, err := s.bucket()
	if err != nil {
		return err
	}
	if err := bucket.DeleteObject(objectPath); err != nil {
		return translateOSSError("delete", objectPath, err)
	}
	return nil
}

func translateOSSError(op, objectPath string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var serviceErr oss.ServiceError
	if errors.As(err, &serviceErr) {
		return &StatusError{StatusCode: serviceErr.StatusCode, Op: op, Path: objectPath, Err: err}
	}
	var serviceErrPtr *oss.ServiceError
	if errors.As(err, &serviceErrPtr) {
		return &StatusError{StatusCode: serviceErrPtr.StatusCode, Op: op, Path: objectPath, Err: err}
	}

	// Transport failures never reached the service
	return &StatusError{StatusCode: http.StatusServiceUnavailable, Op: op, Path: objectPath, Err: err}
}
