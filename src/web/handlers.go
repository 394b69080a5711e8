package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"UberPickups/src/dataset"
	"UberPickups/src/processor"
	"UberPickups/src/utils"
)

// Page 主页面
func (s *Server) Page(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	sess.Rerun()
	if _, err := s.load(r, sess); err != nil {
		renderHTML(w, statusOf(err), errorPage(err))
		return
	}
	renderHTML(w, http.StatusOK, dashboardPage(sess.View(), s.opts.RawRows))
}

// ToggleRaw 复选框提交，show=on 表示显示原始数据
func (s *Server) ToggleRaw(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// 隐藏字段在前，勾选时复选框的值排在最后
	var value string
	if values := r.PostForm["show"]; len(values) > 0 {
		value = values[len(values)-1]
	}
	show, _ := strconv.ParseBool(value)
	show = show || value == "on"
	s.session(w, r).ToggleRaw(show)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// SelectHour 滑块提交
func (s *Server) SelectHour(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hour, err := strconv.Atoi(r.PostForm.Get("hour"))
	if err != nil {
		http.Error(w, fmt.Sprintf("无效的小时: %q", r.PostForm.Get("hour")), http.StatusBadRequest)
		return
	}
	if err := s.session(w, r).SelectHour(hour); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HistogramJSON 每小时上车次数
func (s *Server) HistogramJSON(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if _, err := s.load(r, sess); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View().Histogram)
}

type pickupsResponse struct {
	Hour     int             `json:"hour"`
	Count    int             `json:"count"`
	Centroid processor.Point `json:"centroid"`
	Columns  []string        `json:"columns"`
	Rows     [][]string      `json:"rows"`
}

// PickupsJSON 某一小时的上车记录，hour 为空时使用会话当前的小时
func (s *Server) PickupsJSON(w http.ResponseWriter, r *http.Request) {
	filtered, hour, err := s.filtered(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := pickupsResponse{Hour: hour, Count: filtered.Nrow(), Columns: filtered.Names(), Rows: [][]string{}}
	cols := s.loader.Columns()
	resp.Centroid, err = processor.Centroid(filtered, cols.GetLat(), cols.GetLon())
	if err != nil && !errors.Is(err, processor.ErrEmptySelection) {
		writeError(w, err)
		return
	}
	if records := filtered.Records(); len(records) > 1 {
		resp.Rows = records[1:]
	}
	writeJSON(w, http.StatusOK, resp)
}

// MapJSON 某一小时的地图规格，hour 为空时使用会话当前的小时
func (s *Server) MapJSON(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if _, err := s.load(r, sess); err != nil {
		writeError(w, err)
		return
	}

	if r.URL.Query().Get("hour") != "" {
		hour, err := queryHour(r)
		if err != nil {
			writeError(w, err)
			return
		}
		deck, err := sess.MapAt(hour)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deck)
		return
	}

	view := sess.View()
	if view.MapErr != nil && !errors.Is(view.MapErr, processor.ErrEmptySelection) {
		writeError(w, view.MapErr)
		return
	}
	writeJSON(w, http.StatusOK, view.Deck)
}

type sessionResponse struct {
	ID      string `json:"id"`
	Loaded  bool   `json:"loaded"`
	ShowRaw bool   `json:"show_raw"`
	Hour    int    `json:"hour"`
	Counter int    `json:"counter"`
}

// SessionJSON 会话状态，包括交互计数
func (s *Server) SessionJSON(w http.ResponseWriter, r *http.Request) {
	v := s.session(w, r).View()
	writeJSON(w, http.StatusOK, sessionResponse{
		ID:      v.SessionID,
		Loaded:  v.Loaded,
		ShowRaw: v.ShowRaw,
		Hour:    v.Hour,
		Counter: v.Counter,
	})
}

// Export 导出某一小时的记录为xlsx，hour=all 导出全部
func (s *Server) Export(w http.ResponseWriter, r *http.Request) {
	var (
		t    *dataset.Table
		name string
		err  error
	)
	if r.URL.Query().Get("hour") == "all" {
		t, err = s.load(r, s.session(w, r))
		name = "uber-pickups.xlsx"
	} else {
		var hour int
		t, hour, err = s.filtered(w, r)
		name = fmt.Sprintf("uber-pickups-%02d.xlsx", hour)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := utils.WriteExcel(t.Frame(), w); err != nil {
		s.logger.Error("导出Excel失败: " + err.Error())
	}
}

// ResetCache 清空数据缓存，下次请求重新下载
func (s *Server) ResetCache(w http.ResponseWriter, r *http.Request) {
	cache := s.loader.Cache()
	n := cache.Len()
	cache.Reset()
	s.logger.Info(fmt.Sprintf("缓存已清空，共 %d 项", n))
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

// Logs 实时输出日志
func (s *Server) Logs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	logChan, cancel := s.logger.Subscribe()
	defer cancel()

	for {
		select {
		case msg, ok := <-logChan:
			if !ok {
				return
			}
			// 写入失败说明客户端已断开
			if _, err := fmt.Fprint(w, msg); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

// filtered 加载数据并按 hour 参数筛选，参数为空时使用会话的小时
func (s *Server) filtered(w http.ResponseWriter, r *http.Request) (*dataset.Table, int, error) {
	sess := s.session(w, r)
	t, err := s.load(r, sess)
	if err != nil {
		return nil, 0, err
	}

	hour := sess.View().Hour
	if r.URL.Query().Get("hour") != "" {
		if hour, err = queryHour(r); err != nil {
			return nil, 0, err
		}
	}

	filtered, err := processor.FilterHour(t, hour)
	if err != nil {
		return nil, 0, err
	}
	return filtered, hour, nil
}

func queryHour(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("hour")
	hour, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", processor.ErrHourOutOfRange, raw)
	}
	if hour < 0 || hour >= processor.HoursPerDay {
		return 0, fmt.Errorf("%w: %d", processor.ErrHourOutOfRange, hour)
	}
	return hour, nil
}
