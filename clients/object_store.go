package clients

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

var deleteRetryStrategy = backoff.NewConstantBackOff(1 * time.Second)

// ObjectStoreClient deletes intermediate segment artifacts once assembly has
// produced the final renditions. Runners upload artifacts directly, so this
// is the only place the orchestrator touches the object store.
type ObjectStoreClient interface {
	DeleteObjects(keys []string) error
}

type s3Client struct {
	s3     *s3.S3
	bucket string
}

func NewObjectStoreClient(cfg StorageConfig) (ObjectStoreClient, error) {
	awsConfig := aws.NewConfig().
		WithRegion(cfg.Region).
		WithCredentials(credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.AccessKeySecret, "")).
		WithEndpoint(cfg.Endpoint).
		WithS3ForcePathStyle(true)
	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("error creating AWS session: %w", err)
	}
	return &s3Client{s3: s3.New(sess), bucket: cfg.Bucket}, nil
}

func (c *s3Client) DeleteObjects(keys []string) error {
	eg := errgroup.Group{}
	eg.SetLimit(4)
	for _, key := range keys {
		key := key
		eg.Go(func() error {
			deleteOperation := func() error {
				_, err := c.s3.DeleteObject(&s3.DeleteObjectInput{
					Bucket: aws.String(c.bucket),
					Key:    aws.String(key),
				})
				return err
			}
			return backoff.Retry(deleteOperation, backoff.WithMaxRetries(deleteRetryStrategy, 2))
		})
	}
	return eg.Wait()
}
