package dataset

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"UberPickups/src/utils"
)

// Table 加载后的只读数据表
//
// 时间列在 DataFrame 中保存为 utils.TimeLayout 格式的字符串，
// 解析后的值按行保存在 times 中，两者下标一一对应。
type Table struct {
	df      dataframe.DataFrame
	timeCol string
	times   []time.Time
}

func newTable(df dataframe.DataFrame, timeCol string, times []time.Time) *Table {
	return &Table{df: df, timeCol: timeCol, times: times}
}

// Frame 返回 DataFrame 的副本
func (t *Table) Frame() dataframe.DataFrame { return t.df.Copy() }

func (t *Table) Names() []string { return t.df.Names() }

func (t *Table) Nrow() int { return len(t.times) }

func (t *Table) Ncol() int { return t.df.Ncol() }

// TimeColumn 时间列的列名(小写)
func (t *Table) TimeColumn() string { return t.timeCol }

func (t *Table) Time(i int) time.Time { return t.times[i] }

// Times 返回时间列的副本
func (t *Table) Times() []time.Time {
	out := make([]time.Time, len(t.times))
	copy(out, t.times)
	return out
}

// Float 取数值列
func (t *Table) Float(col string) ([]float64, error) {
	if !utils.HasColumn(t.df, col) {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
	}
	return t.df.Col(col).Float(), nil
}

// Subset 按行下标生成新表
func (t *Table) Subset(idx []int) *Table {
	times := make([]time.Time, len(idx))
	for k, i := range idx {
		times[k] = t.times[i]
	}
	return newTable(t.df.Subset(idx), t.timeCol, times)
}

// Head 前 n 行
func (t *Table) Head(n int) *Table {
	if n > t.Nrow() {
		n = t.Nrow()
	}
	if n < 0 {
		n = 0
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return t.Subset(idx)
}

// Records 第一行为列名，其余为各行的字符串形式
func (t *Table) Records() [][]string {
	return t.df.Records()
}

// fromRecords 由表头和数据行构建 Table
// 全部可以解析为数字的列保存为 Float，其余为 String
func fromRecords(header []string, rows [][]string, timeCol string) (*Table, error) {
	timeIdx := -1
	for i, name := range header {
		if name == timeCol {
			timeIdx = i
		}
	}
	if timeIdx < 0 {
		return nil, &ParseError{Row: -1, Column: timeCol, Err: ErrMissingColumn}
	}

	times := make([]time.Time, len(rows))
	columns := make([]series.Series, len(header))
	for c, name := range header {
		values := make([]string, len(rows))
		for r, row := range rows {
			if c < len(row) {
				values[r] = row[c]
			}
		}

		if c == timeIdx {
			for r, v := range values {
				ts, err := utils.ParseTime(v)
				if err != nil {
					return nil, &ParseError{Row: r, Column: name, Value: v, Err: ErrUnknownTimeFormat}
				}
				times[r] = ts
				values[r] = ts.Format(utils.TimeLayout)
			}
			columns[c] = series.New(values, series.String, name)
			continue
		}

		if floats, ok := parseFloats(values); ok {
			columns[c] = series.New(floats, series.Float, name)
		} else {
			columns[c] = series.New(values, series.String, name)
		}
	}

	df := dataframe.New(columns...)
	if df.Err != nil {
		return nil, &ParseError{Row: -1, Err: df.Err}
	}
	return newTable(df, timeCol, times), nil
}

// parseFloats 空列不算数值列
func parseFloats(values []string) ([]float64, bool) {
	if len(values) == 0 {
		return nil, false
	}
	out := make([]float64, len(values))
	for i, v := range values {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}
