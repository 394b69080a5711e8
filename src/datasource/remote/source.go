// Package remote 打开原始数据资源：HTTP(S)、S3 对象、邮箱附件或本地文件
package remote

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// Source 可以反复打开的数据资源
type Source interface {
	// Open 返回资源内容，调用方负责关闭
	Open(ctx context.Context) (io.ReadCloser, error)
	// Location 资源地址，用于日志和错误信息
	Location() string
}

// TransportOptions HTTP 传输参数，每个数据源单独配置
type TransportOptions struct {
	InsecureSkipVerify bool          // 跳过证书校验，默认校验
	Timeout            time.Duration // 整个请求的超时，0 表示不限制
}

// S3Options S3 客户端参数，未提供密钥时使用匿名访问
type S3Options struct {
	Region    string
	Endpoint  string // S3 兼容服务地址，设置后使用 path-style
	AccessKey string
	SecretKey string
}

// Options 创建数据源的全部参数
type Options struct {
	Transport TransportOptions
	S3        S3Options
	IMAP      IMAPOptions
}

// StatusError 服务端返回了非 2xx 状态
type StatusError struct {
	Location   string
	StatusCode int
	Err        error // 底层错误，可为空
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("请求 %s 返回状态码 %d: %v", e.Location, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("请求 %s 返回状态码 %d", e.Location, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return e.Err }

// New 按地址前缀选择数据源
// 参数:
//
//	location: http(s)://、s3://、imap(s)://、file:// 或本地路径
//	opts: 传输、S3与邮箱参数
//
// 返回值:
//
//	Source: 数据源
//	error: 地址无法识别
func New(location string, opts Options) (Source, error) {
	switch {
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return NewHTTPSource(location, opts.Transport), nil
	case strings.HasPrefix(location, "s3://"):
		return NewS3Source(location, opts.S3)
	case strings.HasPrefix(location, "imap://"), strings.HasPrefix(location, "imaps://"):
		return NewIMAPSource(location, opts.IMAP)
	case strings.HasPrefix(location, "file://"):
		return NewFileSource(strings.TrimPrefix(location, "file://")), nil
	case strings.Contains(location, "://"):
		return nil, fmt.Errorf("不支持的数据地址: %s", location)
	case location == "":
		return nil, fmt.Errorf("数据地址为空")
	default:
		return NewFileSource(location), nil
	}
}
