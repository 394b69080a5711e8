// monitor.go
package file

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileMonitor 监控单个数据文件的变更
type FileMonitor struct {
	target  string
	watcher *fsnotify.Watcher
	lastMod time.Time
	mu      sync.Mutex
}

// NewFileMonitor 监控 path 所在目录，只上报 path 本身的事件
// 直接监控目录是为了覆盖"写临时文件再改名"的替换方式
func NewFileMonitor(path string) (*FileMonitor, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}

	return &FileMonitor{
		target:  abs,
		watcher: watcher,
	}, nil
}

// Watch 阻塞直到 ctx 结束或监控出错，文件有更新时调用 handler
func (m *FileMonitor) Watch(ctx context.Context, handler func(string)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-m.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != m.target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if m.changed() {
				handler(event.Name)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

// changed 同一次修改可能触发多个事件，按修改时间去重
func (m *FileMonitor) changed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := os.Stat(m.target)
	if err != nil {
		// 文件被移走，同样视为变更
		return true
	}
	if info.ModTime().After(m.lastMod) {
		m.lastMod = info.ModTime()
		return true
	}
	return false
}

// Close 停止监控
func (m *FileMonitor) Close() error {
	return m.watcher.Close()
}
