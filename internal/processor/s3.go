package processor

import (
	"bytes"
	"context"
	"errors"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dokzlo13/pollsync/internal/resource"
	"github.com/dokzlo13/pollsync/internal/scheduler"
)

// ObjectPutter is the part of the S3 client used by the archiver.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 archives every payload as an object under a key prefix.
type S3[E any] struct {
	client ObjectPutter
	bucket string
	prefix string
}

// NewS3 creates an S3 archiver from the default AWS credential chain.
// Options: bucket (required), prefix, region, endpoint, path_style.
func NewS3[E any](ctx context.Context, _ string, opts map[string]string) (scheduler.Processor[E], error) {
	bucket := opts["bucket"]
	if bucket == "" {
		return nil, errors.New("option bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if region := opts["region"]; region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	pathStyle, _ := strconv.ParseBool(opts["path_style"])
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := opts["endpoint"]; endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = pathStyle
	})

	return NewS3WithClient[E](client, bucket, opts["prefix"]), nil
}

// NewS3WithClient creates an S3 archiver around an existing client.
func NewS3WithClient[E any](client ObjectPutter, bucket, prefix string) *S3[E] {
	return &S3[E]{client: client, bucket: bucket, prefix: prefix}
}

func (p *S3[E]) Process(ctx context.Context, d resource.Descriptor[E], payload *resource.Payload) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(path.Join(p.prefix, d.ID)),
		Body:   bytes.NewReader(payload.Body),
		Metadata: map[string]string{
			"checksum": payload.Checksum().String(),
			"marker":   d.Marker.String(),
		},
	}
	if payload.ContentType != "" {
		in.ContentType = aws.String(payload.ContentType)
	}
	_, err := p.client.PutObject(ctx, in)
	return err
}
