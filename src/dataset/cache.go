package dataset

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache 按行数限制缓存加载结果
// 同一个 key 的并发加载只执行一次，失败的结果不缓存
type Cache struct {
	mu      sync.RWMutex
	entries map[int]*Table
	gen     uint64 // 每次失效加一，防止失效前开始的加载写回旧数据
	group   singleflight.Group
}

func NewCache() *Cache {
	return &Cache{entries: make(map[int]*Table)}
}

// Get 只查缓存，不加载
func (c *Cache) Get(key int) (*Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.entries[key]
	return t, ok
}

// GetOrLoad 命中时直接返回，否则调用 fn 并缓存结果
// fn 使用不随 ctx 取消的上下文，调用方取消只结束自己的等待
// 参数:
//
//	ctx: 调用方上下文
//	key: 行数限制
//	fn: 加载函数
//
// 返回值:
//
//	*Table: 数据表
//	bool: 是否命中缓存
//	error: fn 返回的错误或 ctx.Err()
func (c *Cache) GetOrLoad(ctx context.Context, key int, fn func(context.Context) (*Table, error)) (*Table, bool, error) {
	if t, ok := c.Get(key); ok {
		return t, true, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(strconv.Itoa(key), func() (any, error) {
		c.mu.RLock()
		t, ok := c.entries[key]
		gen := c.gen
		c.mu.RUnlock()
		if ok {
			return t, nil
		}

		t, err := fn(loadCtx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.gen == gen {
			c.entries[key] = t
		}
		c.mu.Unlock()
		return t, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*Table), false, nil
	}
}

// Invalidate 删除一个 key
func (c *Cache) Invalidate(key int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.gen++
}

// Reset 清空缓存
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[int]*Table)
	c.gen++
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys 已缓存的行数限制，升序
func (c *Cache) Keys() []int {
	c.mu.RLock()
	keys := make([]int, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	sort.Ints(keys)
	return keys
}
