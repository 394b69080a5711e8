// reader.go
package file

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/tealeg/xlsx"
)

// Format 数据文件格式
type Format string

const (
	FormatCSV     Format = "csv"
	FormatCSVGzip Format = "csv.gz"
	FormatXLSX    Format = "xlsx"
)

var (
	// ErrEmptySource 数据源没有表头
	ErrEmptySource = errors.New("数据源为空")
	// ErrInvalidXLSX 内容不是有效的xlsx
	ErrInvalidXLSX = errors.New("无效的xlsx文件")
)

// ReadOptions 读取参数
type ReadOptions struct {
	Limit     int    // 最多读取的数据行数(不含表头)，<=0 表示不限制
	SheetName string // xlsx 工作表名，为空时取第一个工作表
}

// DetectFormat 根据地址扩展名判断格式
func DetectFormat(location string) Format {
	path := location
	if u, err := url.Parse(location); err == nil && u.Scheme != "" {
		path = u.Path
	}
	path = strings.ToLower(path)

	switch {
	case strings.HasSuffix(path, ".gz"):
		return FormatCSVGzip
	case strings.HasSuffix(path, ".xlsx"):
		return FormatXLSX
	default:
		return FormatCSV
	}
}

// ParseFormat 解析配置中的格式名，空字符串返回 ""
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatCSV, FormatCSVGzip, FormatXLSX:
		return f, nil
	case "gz", "gzip":
		return FormatCSVGzip, nil
	default:
		return "", fmt.Errorf("不支持的数据格式: %q", s)
	}
}

// ReadRecords 读取表头和至多 opts.Limit 行数据
// 返回的第一行是表头
func ReadRecords(r io.Reader, format Format, opts ReadOptions) ([][]string, error) {
	switch format {
	case FormatXLSX:
		return readXLSX(r, opts)
	case FormatCSVGzip:
		zr, err := maybeGzip(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return readCSV(zr, opts.Limit)
	default:
		return readCSV(r, opts.Limit)
	}
}

// maybeGzip 按魔数判断是否需要解压
// 服务端带 Content-Encoding: gzip 时 net/http 已经解压过
func maybeGzip(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("解压gzip失败: %w", err)
		}
		return zr, nil
	}
	return io.NopCloser(br), nil
}

func readCSV(r io.Reader, limit int) ([][]string, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptySource
	}
	if err != nil {
		return nil, err
	}

	records := [][]string{header}
	for limit <= 0 || len(records)-1 < limit {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func readXLSX(r io.Reader, opts ReadOptions) ([][]string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}

	xlFile, err := xlsx.OpenBinary(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidXLSX, err)
	}
	if len(xlFile.Sheets) == 0 {
		return nil, fmt.Errorf("excel文件中没有工作表: %w", ErrEmptySource)
	}

	sheet := xlFile.Sheets[0]
	if opts.SheetName != "" {
		s, ok := xlFile.Sheet[opts.SheetName]
		if !ok {
			return nil, fmt.Errorf("工作表 %q 不存在", opts.SheetName)
		}
		sheet = s
	}
	return convertSheet(sheet, opts.Limit)
}

// convertSheet 第一行为表头，其余行按表头宽度补齐或截断
func convertSheet(sheet *xlsx.Sheet, limit int) ([][]string, error) {
	if len(sheet.Rows) == 0 {
		return nil, ErrEmptySource
	}

	var header []string
	for _, cell := range sheet.Rows[0].Cells {
		header = append(header, cell.String())
	}

	records := [][]string{header}
	for _, row := range sheet.Rows[1:] {
		if limit > 0 && len(records)-1 >= limit {
			break
		}
		if row == nil || isBlankRow(row) {
			continue
		}
		rec := make([]string, len(header))
		for i, cell := range row.Cells {
			if i < len(header) {
				rec[i] = cell.String()
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func isBlankRow(row *xlsx.Row) bool {
	for _, cell := range row.Cells {
		if strings.TrimSpace(cell.String()) != "" {
			return false
		}
	}
	return true
}
