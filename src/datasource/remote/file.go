package remote

import (
	"context"
	"fmt"
	"io"
	"os"
)

// FileSource 本地文件，离线运行和测试夹具使用
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Location() string { return s.path }

// Path 本地文件路径，供文件监控使用
func (s *FileSource) Path() string { return s.path }

func (s *FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("打开数据文件失败: %w", err)
	}
	return f, nil
}
