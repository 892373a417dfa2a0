package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/OFFIS-RIT/triage/pkg/loader"
)

// ObjectGetter is the part of the S3 client the loader needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// FileLoader reads knowledge base sources from an S3 bucket. SourceFile.Path
// is the object key.
type FileLoader struct {
	bucket string
	client ObjectGetter
	cache  *loader.Cache
}

func NewFileLoaderWithClient(bucket string, client ObjectGetter) *FileLoader {
	return &FileLoader{
		bucket: bucket,
		client: client,
		cache:  loader.NewCache(),
	}
}

// Params configures a loader with static credentials. Endpoint may point at
// an S3 compatible store such as MinIO.
type Params struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

func NewFileLoader(ctx context.Context, params Params) (*FileLoader, error) {
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(params.Region),
		config.WithBaseEndpoint(params.Endpoint),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			params.AccessKey,
			params.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return NewFileLoaderWithClient(params.Bucket, client), nil
}

func (l *FileLoader) GetFileText(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	return l.cache.Load(loader.CacheKey(file), func() ([]byte, error) {
		out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(l.bucket),
			Key:    aws.String(file.Path),
		})
		if err != nil {
			return nil, fmt.Errorf("get s3://%s/%s: %w", l.bucket, file.Path, err)
		}
		defer out.Body.Close()

		buf := new(bytes.Buffer)
		if _, err := io.Copy(buf, out.Body); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
}
