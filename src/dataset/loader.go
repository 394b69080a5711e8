// Package dataset 下载、规范化并缓存上车记录
package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"UberPickups/src/config"
	"UberPickups/src/datasource/file"
	"UberPickups/src/datasource/remote"
	"UberPickups/src/storage"
)

// Loader 从固定数据源加载前 N 行数据
type Loader struct {
	source  remote.Source
	format  file.Format
	fixed   bool // 格式由调用方指定
	sheet   string
	columns *config.Columns
	cache   *Cache
	logger  *storage.Logger
}

// LoaderOption 加载器可选参数
type LoaderOption func(*Loader)

// WithFormat 指定数据格式，默认按地址或附件的扩展名判断
func WithFormat(f file.Format) LoaderOption {
	return func(l *Loader) {
		if f != "" {
			l.format = f
			l.fixed = true
		}
	}
}

// WithSheet 指定 xlsx 工作表
func WithSheet(name string) LoaderOption {
	return func(l *Loader) { l.sheet = name }
}

// WithColumns 指定列名配置
func WithColumns(c *config.Columns) LoaderOption {
	return func(l *Loader) {
		if c != nil {
			l.columns = c
		}
	}
}

func WithLogger(logger *storage.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader 创建加载器
// 参数:
//
//	src: 数据源
//	opts: 可选参数
//
// 返回值:
//
//	*Loader: 加载器
func NewLoader(src remote.Source, opts ...LoaderOption) *Loader {
	l := &Loader{
		source:  src,
		format:  file.DetectFormat(src.Location()),
		columns: config.Default().Columns,
		cache:   NewCache(),
		logger:  storage.NewWriterLogger(io.Discard),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) Cache() *Cache { return l.cache }

func (l *Loader) Source() remote.Source { return l.source }

func (l *Loader) Columns() *config.Columns { return l.columns }

// Load 返回前 rowLimit 行数据，同一 rowLimit 只下载一次
// 参数:
//
//	ctx: 调用方上下文，取消只结束本次等待，共享的下载继续
//	rowLimit: 最多读取的行数，必须为正
//
// 返回值:
//
//	*Table: 列名为小写、时间列已解析的数据表
//	error: *FetchError 或 *ParseError
func (l *Loader) Load(ctx context.Context, rowLimit int) (*Table, error) {
	if rowLimit <= 0 {
		return nil, &FetchError{
			Location: l.source.Location(),
			Err:      fmt.Errorf("%w: %d", ErrInvalidRowLimit, rowLimit),
		}
	}

	t, _, err := l.cache.GetOrLoad(ctx, rowLimit, func(loadCtx context.Context) (*Table, error) {
		return l.fetch(loadCtx, rowLimit)
	})
	var fetchErr *FetchError
	var parseErr *ParseError
	if err != nil && !errors.As(err, &fetchErr) && !errors.As(err, &parseErr) {
		// 调用方取消或超时
		return nil, &FetchError{Location: l.source.Location(), Err: err}
	}
	return t, err
}

// Reload 丢弃 rowLimit 对应的缓存后重新加载
func (l *Loader) Reload(ctx context.Context, rowLimit int) (*Table, error) {
	l.cache.Invalidate(rowLimit)
	return l.Load(ctx, rowLimit)
}

func (l *Loader) fetch(ctx context.Context, rowLimit int) (*Table, error) {
	l.logger.Info("Loading data...")
	start := time.Now()

	body, err := l.source.Open(ctx)
	if err != nil {
		fetchErr := &FetchError{Location: l.source.Location(), Err: err}
		var statusErr *remote.StatusError
		if errors.As(err, &statusErr) {
			fetchErr.StatusCode = statusErr.StatusCode
		}
		l.logger.Error(fetchErr.Error())
		return nil, fetchErr
	}
	defer body.Close()

	format := l.format
	if named, ok := body.(interface{ Name() string }); ok && !l.fixed {
		format = file.DetectFormat(named.Name())
	}

	records, err := file.ReadRecords(body, format, file.ReadOptions{Limit: rowLimit, SheetName: l.sheet})
	if err != nil {
		err = l.classify(err)
		l.logger.Error(err.Error())
		return nil, err
	}

	t, err := FromRecords(records, l.columns.GetTime())
	if err != nil {
		l.logger.Error(err.Error())
		return nil, err
	}

	l.logger.Logf(storage.INFO, "Done! %d 行，耗时 %v", t.Nrow(), time.Since(start).Round(time.Millisecond))
	return t, nil
}

// classify 内容格式错误归为 ParseError，读取中断归为 FetchError
func (l *Loader) classify(err error) error {
	var csvErr *csv.ParseError
	switch {
	case errors.As(err, &csvErr):
		// csv 行号从1开始且包含表头
		return &ParseError{Row: csvErr.Line - 2, Err: err}
	case errors.Is(err, file.ErrInvalidXLSX):
		return &ParseError{Row: -1, Err: err}
	case errors.Is(err, file.ErrEmptySource):
		return &ParseError{Row: -1, Column: l.columns.GetTime(), Err: fmt.Errorf("%w: %v", ErrMissingColumn, err)}
	default:
		return &FetchError{Location: l.source.Location(), Err: err}
	}
}

// FromRecords 由记录构建 Table，第一行为表头
// 列名统一转小写，timeCol 按小写匹配
func FromRecords(records [][]string, timeCol string) (*Table, error) {
	lower := cases.Lower(language.Und)
	if len(records) == 0 {
		return nil, &ParseError{Row: -1, Column: lower.String(timeCol), Err: ErrMissingColumn}
	}

	header, err := normalizeHeader(records[0])
	if err != nil {
		return nil, err
	}
	return fromRecords(header, records[1:], lower.String(timeCol))
}

// normalizeHeader 列名转小写，转换后重名时报错
func normalizeHeader(header []string) ([]string, error) {
	lower := cases.Lower(language.Und)
	seen := make(map[string]string, len(header))
	out := make([]string, len(header))
	for i, name := range header {
		n := lower.String(name)
		if prev, ok := seen[n]; ok {
			return nil, &ParseError{
				Row:    -1,
				Column: n,
				Err:    fmt.Errorf("%w: %q 与 %q", ErrColumnCollision, prev, name),
			}
		}
		seen[n] = name
		out[i] = n
	}
	return out, nil
}
