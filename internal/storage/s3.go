// Package storage archives uploaded knowledge base files in S3 compatible
// object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/OFFIS-RIT/triage/internal/config"
	"github.com/OFFIS-RIT/triage/pkg/common"
	loaders3 "github.com/OFFIS-RIT/triage/pkg/loader/s3"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// API is the part of *s3.Client the archive uses.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

const documentsPrefix = "documents"

type Archive struct {
	client API
	bucket string
}

func NewArchive(client API, bucket string) *Archive {
	return &Archive{client: client, bucket: bucket}
}

// NewS3Client builds a path-style client with static credentials, which
// works for AWS and for MinIO alike.
func NewS3Client(ctx context.Context, cfg config.S3) (*s3.Client, error) {
	if cfg.Bucket == "" {
		return nil, common.ConfigError("S3_BUCKET is required for document storage")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithBaseEndpoint(cfg.Endpoint),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

// DocumentKey is where the original of sourceID named name is kept.
func DocumentKey(sourceID, name string) string {
	return path.Join(documentsPrefix, sourceID, path.Base(strings.ReplaceAll(name, "\\", "/")))
}

// Put stores an uploaded original and returns its key.
func (a *Archive) Put(ctx context.Context, sourceID, name string, content []byte) (string, error) {
	key := DocumentKey(sourceID, name)
	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file to S3: %w", err)
	}
	return key, nil
}

// List returns the keys of every archived original of sourceID.
func (a *Archive) List(ctx context.Context, sourceID string) ([]string, error) {
	return a.listPrefix(ctx, path.Join(documentsPrefix, sourceID)+"/")
}

// Delete removes every archived original of sourceID.
func (a *Archive) Delete(ctx context.Context, sourceID string) (int, error) {
	keys, err := a.List(ctx, sourceID)
	if err != nil || len(keys) == 0 {
		return 0, err
	}

	deleted := 0
	for start := 0; start < len(keys); start += 1000 {
		end := min(start+1000, len(keys))
		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
		}
		_, err := a.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(a.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete objects of %s: %w", sourceID, err)
		}
		deleted += len(objects)
	}
	return deleted, nil
}

// Loader reads archived originals by key.
func (a *Archive) Loader() *loaders3.FileLoader {
	return loaders3.NewFileLoaderWithClient(a.bucket, a.client)
}

func (a *Archive) listPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(prefix),
	}
	for {
		out, err := a.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			return keys, nil
		}
		input.ContinuationToken = out.NextContinuationToken
	}
}
