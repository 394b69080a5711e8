// hourly.go
package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"UberPickups/src/dataset"
)

// HoursPerDay 直方图桶数
const HoursPerDay = 24

var (
	// ErrHourOutOfRange 小时不在 0-23 之间
	ErrHourOutOfRange = errors.New("小时超出范围 0-23")
	// ErrEmptySelection 筛选结果为空，无法计算中心点
	ErrEmptySelection = errors.New("筛选结果为空")
)

// Histogram 按小时统计的上车次数，Counts[h] 对应 [h, h+1)
type Histogram struct {
	Counts [HoursPerDay]int `json:"counts"`
}

// Total 各桶之和，等于数据行数
func (h Histogram) Total() int {
	total := 0
	for _, c := range h.Counts {
		total += c
	}
	return total
}

// Max 最大桶的值，画图时用来缩放
func (h Histogram) Max() int {
	m := 0
	for _, c := range h.Counts {
		if c > m {
			m = c
		}
	}
	return m
}

// MarshalJSON 附带 total 方便前端使用
func (h Histogram) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Counts [HoursPerDay]int `json:"counts"`
		Total  int              `json:"total"`
	}{h.Counts, h.Total()})
}

// HourlyHistogram 统计每小时的上车次数
func HourlyHistogram(t *dataset.Table) Histogram {
	var h Histogram
	if t.Nrow() == 0 {
		return h
	}

	hours := make([]float64, t.Nrow())
	for i, ts := range t.Times() {
		hours[i] = float64(ts.Hour())
	}
	sort.Float64s(hours)

	// 0,1,...,24 共25个分界点
	dividers := floats.Span(make([]float64, HoursPerDay+1), 0, HoursPerDay)
	counts := stat.Histogram(nil, dividers, hours, nil)
	for i, c := range counts {
		h.Counts[i] = int(c)
	}
	return h
}

// FilterHour 取出小时等于 hour 的行
// 参数:
//
//	t: 数据表
//	hour: 0-23
//
// 返回值:
//
//	*dataset.Table: 保持原顺序的子表
//	error: hour 超出范围
func FilterHour(t *dataset.Table, hour int) (*dataset.Table, error) {
	if hour < 0 || hour >= HoursPerDay {
		return nil, fmt.Errorf("%w: %d", ErrHourOutOfRange, hour)
	}

	idx := []int{}
	for i, ts := range t.Times() {
		if ts.Hour() == hour {
			idx = append(idx, i)
		}
	}
	return t.Subset(idx), nil
}

// Point 经纬度坐标，NaN 在 JSON 中输出为 null
type Point struct {
	Lat float64
	Lon float64
}

func (p Point) IsNaN() bool {
	return math.IsNaN(p.Lat) || math.IsNaN(p.Lon)
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
	}{finite(p.Lat), finite(p.Lon)})
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Centroid 经纬度的算术平均
// 空表返回 NaN 坐标和 ErrEmptySelection
func Centroid(t *dataset.Table, latCol, lonCol string) (Point, error) {
	nan := Point{Lat: math.NaN(), Lon: math.NaN()}
	if t.Nrow() == 0 {
		return nan, ErrEmptySelection
	}

	lat, err := t.Float(latCol)
	if err != nil {
		return nan, err
	}
	lon, err := t.Float(lonCol)
	if err != nil {
		return nan, err
	}

	return Point{
		Lat: stat.Mean(lat, nil),
		Lon: stat.Mean(lon, nil),
	}, nil
}
