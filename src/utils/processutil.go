package utils

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/xuri/excelize/v2"
)

// TimeLayout 表格中时间列的统一展示格式
const TimeLayout = "2006-01-02 15:04:05"

// ErrUnknownTimeFormat 时间字符串不匹配任何已知格式
var ErrUnknownTimeFormat = errors.New("无法识别的时间格式")

// 按顺序尝试的时间格式，第一条是原始数据的格式(9/1/2014 0:01:00)
var timeLayouts = []string{
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	TimeLayout,
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006/01/02 15:04:05",
	"01-02-2006 15:04:05",
	"2006-01-02",
}

func Contains[T comparable](slice []T, item T) bool {
	for _, v := range slice {
		if v == item {
			return true
		}
	}
	return false
}

// HasColumn 判断DataFrame是否有某列
func HasColumn(df dataframe.DataFrame, name string) bool {
	return Contains(df.Names(), name)
}

// ParseTime 依次尝试已知格式解析时间字符串
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrUnknownTimeFormat
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownTimeFormat, s)
}

// WriteExcel 将DataFrame写成xlsx
func WriteExcel(df dataframe.DataFrame, w io.Writer) error {
	if df.Err != nil {
		return df.Err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Sheet1"

	// 写入列名
	colNames := df.Names()
	for i, name := range colNames {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, name); err != nil {
			return err
		}
	}

	// 写入数据
	for colIdx, colName := range colNames {
		col := df.Col(colName)
		for rowIdx := 0; rowIdx < df.Nrow(); rowIdx++ {
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, cell, col.Val(rowIdx)); err != nil {
				return err
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("写入Excel失败: %w", err)
	}
	return nil
}
