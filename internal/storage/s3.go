package storage

import (
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/rs/zerolog/log"
)

// s3Store is the AWS implementation of ObjectStore.
type s3Store struct {
	svc        *s3.S3
	downloader *s3manager.Downloader
}

// NewS3Store creates an ObjectStore backed by the AWS S3 API.
func NewS3Store(sess *session.Session) ObjectStore {
	return &s3Store{
		svc:        s3.New(sess),
		downloader: s3manager.NewDownloader(sess),
	}
}

func (s *s3Store) GetObject(bucket string, key string) ([]byte, error) {

	start := time.Now()

	buffer := aws.NewWriteAtBuffer([]byte{})
	size, err := s.downloader.Download(buffer,
		&s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
	if err != nil {
		return nil, fmt.Errorf("downloading s3://%s/%s: %w", bucket, key, err)
	}

	duration := time.Since(start)
	log.Debug().Msgf("download of s3://%s/%s complete (%d bytes) in %0.2f seconds", bucket, key, size, duration.Seconds())

	return buffer.Bytes(), nil
}

func (s *s3Store) CopyObject(bucket string, sourceKey string, destKey string, tags map[string]string) error {

	input := &s3.CopyObjectInput{
		Bucket:     aws.String(bucket),
		CopySource: aws.String(url.PathEscape(fmt.Sprintf("%s/%s", bucket, sourceKey))),
		Key:        aws.String(destKey),
	}

	// without the REPLACE directive the copy keeps the source tag set
	if len(tags) != 0 {
		input.Tagging = aws.String(encodeTags(tags))
		input.TaggingDirective = aws.String(s3.TaggingDirectiveReplace)
	}

	_, err := s.svc.CopyObject(input)
	if err != nil {
		return fmt.Errorf("copying s3://%s/%s to %s: %w", bucket, sourceKey, destKey, err)
	}

	return nil
}

func (s *s3Store) DeleteObject(bucket string, key string) error {

	_, err := s.svc.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting s3://%s/%s: %w", bucket, key, err)
	}

	return nil
}

// encodeTags renders a tag set in the URL query encoding the S3 API expects.
func encodeTags(tags map[string]string) string {
	values := url.Values{}
	for name, value := range tags {
		values.Set(name, value)
	}
	return values.Encode()
}
