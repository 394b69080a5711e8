// Package app 保存每个浏览器会话的交互状态
//
// 状态只在事件处理函数中改变：加载到新数据时重算直方图和小时视图，
// 切换原始数据或拖动滑块时只重算受影响的部分。
package app

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"UberPickups/src/dataset"
	"UberPickups/src/processor"
)

// SessionOptions 新会话的默认值
type SessionOptions struct {
	DefaultHour int
	LatColumn   string
	LonColumn   string
	Style       processor.MapStyle
}

// DefaultSessionOptions 17点，lat/lon 列
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		DefaultHour: 17,
		LatColumn:   "lat",
		LonColumn:   "lon",
		Style:       processor.DefaultMapStyle(),
	}
}

// View 某一时刻的会话快照，渲染时只读
type View struct {
	SessionID string
	Loaded    bool
	ShowRaw   bool
	Hour      int
	Counter   int

	Table     *dataset.Table
	Histogram processor.Histogram
	Filtered  *dataset.Table
	Centroid  processor.Point
	Deck      processor.Deck

	// MapErr 当前小时无法生成地图的原因，ErrEmptySelection 表示该小时没有数据
	MapErr error
}

// Session 单个会话的状态
type Session struct {
	mu       sync.Mutex
	id       string
	opts     SessionOptions
	lastSeen time.Time

	table   *dataset.Table
	showRaw bool
	hour    int
	counter int

	histogram processor.Histogram
	filtered  *dataset.Table
	centroid  processor.Point
	deck      processor.Deck
	mapErr    error
}

func NewSession(id string, opts SessionOptions) *Session {
	return &Session{
		id:       id,
		opts:     opts,
		hour:     opts.DefaultHour,
		lastSeen: time.Now(),
	}
}

func (s *Session) ID() string { return s.id }

// Attach 数据加载完成事件，同一张表不会重复计算
func (s *Session) Attach(t *dataset.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if t == nil || t == s.table {
		return
	}
	s.table = t
	s.histogram = processor.HourlyHistogram(t)
	s.recomputeHour()
}

// ToggleRaw 原始数据复选框
func (s *Session) ToggleRaw(show bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.showRaw = show
}

// SelectHour 滑块事件
func (s *Session) SelectHour(hour int) error {
	if hour < 0 || hour >= processor.HoursPerDay {
		return fmt.Errorf("%w: %d", processor.ErrHourOutOfRange, hour)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if hour == s.hour {
		return nil
	}
	s.hour = hour
	if s.table != nil {
		s.recomputeHour()
	}
	return nil
}

// View 当前状态快照
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	return View{
		SessionID: s.id,
		Loaded:    s.table != nil,
		ShowRaw:   s.showRaw,
		Hour:      s.hour,
		Counter:   s.counter,
		Table:     s.table,
		Histogram: s.histogram,
		Filtered:  s.filtered,
		Centroid:  s.centroid,
		Deck:      s.deck,
		MapErr:    s.mapErr,
	}
}

// Rerun 页面重新渲染一次，计数加一
// 表单提交后重定向到页面，提交本身不计数
func (s *Session) Rerun() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.counter++
	return s.counter
}

// LastSeen 最近一次事件的时间
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// touch 调用方需持有锁
func (s *Session) touch() {
	s.lastSeen = time.Now()
}

// MapAt 按给定小时生成地图，不改变会话状态
// 返回值:
//
//	processor.Deck: 地图规格，该小时没有数据时不设视图中心
//	error: 数据未加载、小时越界或缺少经纬度列
func (s *Session) MapAt(hour int) (processor.Deck, error) {
	s.mu.Lock()
	t := s.table
	s.mu.Unlock()

	if t == nil {
		return processor.Deck{}, errors.New("数据尚未加载")
	}
	hv := s.computeHour(t, hour)
	if hv.err != nil && !errors.Is(hv.err, processor.ErrEmptySelection) {
		return processor.Deck{}, hv.err
	}
	return hv.deck, nil
}

// hourView 某一小时的派生数据
type hourView struct {
	filtered *dataset.Table
	centroid processor.Point
	deck     processor.Deck
	err      error
}

func (s *Session) computeHour(t *dataset.Table, hour int) hourView {
	filtered, err := processor.FilterHour(t, hour)
	if err != nil {
		return hourView{err: err}
	}

	hv := hourView{filtered: filtered}
	hv.centroid, hv.err = processor.Centroid(filtered, s.opts.LatColumn, s.opts.LonColumn)
	if hv.err != nil && !errors.Is(hv.err, processor.ErrEmptySelection) {
		return hv
	}

	deck, err := processor.NewDeck(filtered, hv.centroid, s.opts.LatColumn, s.opts.LonColumn, s.opts.Style)
	if err != nil {
		hv.err = err
		return hv
	}
	hv.deck = deck
	return hv
}

// recomputeHour 调用方需持有锁
func (s *Session) recomputeHour() {
	hv := s.computeHour(s.table, s.hour)
	s.filtered, s.centroid, s.deck, s.mapErr = hv.filtered, hv.centroid, hv.deck, hv.err
}
