package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Source 读取 s3://bucket/key 对象
type S3Source struct {
	location string
	bucket   string
	key      string
	opts     S3Options
}

func NewS3Source(location string, opts S3Options) (*S3Source, error) {
	bucket, key, err := parseS3URL(location)
	if err != nil {
		return nil, err
	}
	return &S3Source{
		location: location,
		bucket:   bucket,
		key:      key,
		opts:     opts,
	}, nil
}

func (s *S3Source) Location() string { return s.location }

func (s *S3Source) Open(ctx context.Context) (io.ReadCloser, error) {
	client, err := newS3Client(ctx, s.opts)
	if err != nil {
		return nil, err
	}

	resp, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) {
			return nil, &StatusError{Location: s.location, StatusCode: respErr.HTTPStatusCode(), Err: err}
		}
		return nil, fmt.Errorf("读取S3对象 %s 失败: %w", s.location, err)
	}
	return resp.Body, nil
}

// parseS3URL 把 s3://bucket/key 拆成 bucket 和 key
func parseS3URL(url string) (bucket, key string, err error) {
	path := strings.TrimPrefix(url, "s3://")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("无效的S3地址: %s", url)
	}
	return parts[0], parts[1], nil
}

func newS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	var loadOpts []func(*config.LoadOptions) error

	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}

	if opts.AccessKey != "" && opts.SecretKey != "" {
		creds := credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")
		loadOpts = append(loadOpts, config.WithCredentialsProvider(creds))
	} else {
		// 公开数据集不需要签名
		loadOpts = append(loadOpts, config.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("加载AWS配置失败: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.NewFromConfig(awsCfg, clientOpts...), nil
}
