// Package web 提供页面、JSON 接口、xlsx 导出和实时日志
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"UberPickups/src/app"
	"UberPickups/src/dataset"
	"UberPickups/src/processor"
	"UberPickups/src/storage"
)

// SessionCookie 保存会话ID的 cookie 名
const SessionCookie = "uber_session"

// Options 服务参数
type Options struct {
	RowLimit int // 页面加载的行数
	RawRows  int // 原始数据表最多展示的行数
}

// Server 处理所有 HTTP 请求
type Server struct {
	loader   *dataset.Loader
	sessions *app.Registry
	logger   *storage.Logger
	opts     Options
}

// NewServer 创建服务
// 参数:
//
//	loader: 数据加载器，缓存在所有请求间共享
//	sessions: 会话表
//	logger: 日志记录器，同时供 /logs 订阅
//	opts: 服务参数
func NewServer(loader *dataset.Loader, sessions *app.Registry, logger *storage.Logger, opts Options) *Server {
	if opts.RowLimit <= 0 {
		opts.RowLimit = 10000
	}
	if opts.RawRows <= 0 {
		opts.RawRows = 100
	}
	return &Server{
		loader:   loader,
		sessions: sessions,
		logger:   logger,
		opts:     opts,
	}
}

// Handler 返回挂好所有路由的 chi 路由器
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	s.MountRoutes(r)
	return r
}

// MountRoutes 注册路由
func (s *Server) MountRoutes(r chi.Router) {
	r.Get("/", s.Page)
	r.Post("/raw", s.ToggleRaw)
	r.Post("/hour", s.SelectHour)
	r.Get("/export.xlsx", s.Export)
	r.Get("/logs", s.Logs)

	r.Route("/api", func(r chi.Router) {
		r.Get("/histogram", s.HistogramJSON)
		r.Get("/pickups", s.PickupsJSON)
		r.Get("/map", s.MapJSON)
		r.Get("/session", s.SessionJSON)
		r.Post("/cache/reset", s.ResetCache)
	})
}

type requestIDKey struct{}

// RequestID 复用请求头中的 X-Request-ID，没有时生成新的
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext 取出请求ID，没有时返回空字符串
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// /logs 本身的请求不写日志，避免订阅者收到自己的访问记录
		if r.URL.Path == "/logs" {
			return
		}
		s.logger.Logf(storage.DEBUG, "[%s] %s %s %d %v",
			RequestIDFromContext(r.Context()), r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Microsecond))
	})
}

// session 取出或新建会话，并写回 cookie
func (s *Server) session(w http.ResponseWriter, r *http.Request) *app.Session {
	var id string
	if c, err := r.Cookie(SessionCookie); err == nil {
		id = c.Value
	}

	sess, created := s.sessions.GetOrCreate(id)
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    sess.ID(),
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return sess
}

// load 加载数据并通知会话
func (s *Server) load(r *http.Request, sess *app.Session) (*dataset.Table, error) {
	t, err := s.loader.Load(r.Context(), s.opts.RowLimit)
	if err != nil {
		return nil, err
	}
	sess.Attach(t)
	return t, nil
}

// statusOf 错误对应的状态码
func statusOf(err error) int {
	var fetchErr *dataset.FetchError
	var parseErr *dataset.ParseError
	switch {
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway
	case errors.As(err, &parseErr):
		return http.StatusInternalServerError
	case errors.Is(err, processor.ErrHourOutOfRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), map[string]string{"error": err.Error()})
}
