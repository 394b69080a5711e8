package dataset

import (
	"errors"
	"fmt"

	"UberPickups/src/utils"
)

var (
	// ErrInvalidRowLimit 行数限制必须为正整数
	ErrInvalidRowLimit = errors.New("行数限制必须为正整数")
	// ErrColumnCollision 两列转成小写后重名
	ErrColumnCollision = errors.New("列名转小写后重复")
	// ErrMissingColumn 缺少必需的列
	ErrMissingColumn = errors.New("缺少必需的列")
	// ErrUnknownTimeFormat 时间值无法解析
	ErrUnknownTimeFormat = utils.ErrUnknownTimeFormat
)

// FetchError 数据资源不可达、返回非 2xx 状态或读取中断
type FetchError struct {
	Location   string
	StatusCode int // 0 表示没有拿到 HTTP 响应
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("获取数据失败 %s (状态码 %d): %v", e.Location, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("获取数据失败 %s: %v", e.Location, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError 数据内容无法解析
// Row 是数据行下标(从0开始，不含表头)，-1 表示与具体行无关
type ParseError struct {
	Row    int
	Column string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	switch {
	case e.Row >= 0 && e.Column != "":
		return fmt.Sprintf("解析第 %d 行 %s 列的值 %q 失败: %v", e.Row, e.Column, e.Value, e.Err)
	case e.Column != "":
		return fmt.Sprintf("解析 %s 列失败: %v", e.Column, e.Err)
	default:
		return fmt.Sprintf("解析数据失败: %v", e.Err)
	}
}

func (e *ParseError) Unwrap() error { return e.Err }
