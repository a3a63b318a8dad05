package book

import "sync"

// Registry 按合约 ID 索引的订单簿注册表
// 由连接管理器持有并注入（依赖注入，不使用包级全局变量），
// 消息处理写入、校验循环与外部调用方并发读取，整表由 RWMutex 保护。
// 订单簿创建后随进程存活，不显式销毁；取消订阅后状态保留，
// 重新订阅时会被新快照整体覆盖。
type Registry struct {
	mu sync.RWMutex
	// books 合约 ID -> 订单簿
	books map[string]*OrderBook
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{
		books: make(map[string]*OrderBook),
	}
}

// GetOrCreate 获取指定合约的订单簿，不存在则创建
// 首次收到某合约的快照或更新时调用。
func (r *Registry) GetOrCreate(instID string) *OrderBook {
	r.mu.RLock()
	b, ok := r.books[instID]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.books[instID]; ok {
		return b
	}
	b = New(instID)
	r.books[instID] = b
	return b
}

// Get 获取指定合约的订单簿
// 不存在时返回 nil。
func (r *Registry) Get(instID string) *OrderBook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.books[instID]
}

// InstIDs 获取当前注册的所有合约 ID
func (r *Registry) InstIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.books))
	for id := range r.books {
		ids = append(ids, id)
	}
	return ids
}

// Range 遍历所有订单簿
// fn 返回 false 时提前终止遍历。
func (r *Registry) Range(fn func(instID string, b *OrderBook) bool) {
	r.mu.RLock()
	books := make(map[string]*OrderBook, len(r.books))
	for id, b := range r.books {
		books[id] = b
	}
	r.mu.RUnlock()

	for id, b := range books {
		if !fn(id, b) {
			return
		}
	}
}

// Len 获取当前注册的订单簿数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.books)
}
