// Package nodetable 维护网内节点的在线状态，按最近一次收包时间判活。
package nodetable

import (
	"sync"
	"time"
)

// DefaultCapacity 默认节点容量
const DefaultCapacity = 64

// NodeInfo 节点快照
type NodeInfo struct {
	Addr        uint16
	LastSeen    time.Time
	RSSI        int8
	Online      bool
	ObjectCount uint8
}

// OfflineFunc 节点离线回调，在锁外调用
type OfflineFunc func(addr uint16)

type entry struct {
	addr        uint16
	lastSeen    time.Time
	rssi        int8
	online      bool
	objectCount uint8
}

// Table 节点表。所有方法并发安全，时间由调用方显式传入
type Table struct {
	mu      sync.Mutex
	entries []entry
	max     int
}

// New 创建节点表，capacity<=0 时使用 DefaultCapacity
func New(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table{entries: make([]entry, 0, capacity), max: capacity}
}

func (t *Table) find(addr uint16) int {
	for i := range t.entries {
		if t.entries[i].addr == addr {
			return i
		}
	}
	return -1
}

// Update 记录一次收包。返回值为真表示节点新上线（新节点或离线恢复）。
// 表满时淘汰最久未见的离线节点，无可淘汰则静默丢弃新节点
func (t *Table) Update(addr uint16, rssi int8, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx := t.find(addr); idx >= 0 {
		e := &t.entries[idx]
		e.lastSeen = now
		e.rssi = rssi
		if !e.online {
			e.online = true
			return true
		}
		return false
	}

	idx := -1
	if len(t.entries) >= t.max {
		// 淘汰最老的离线节点
		oldest := -1
		for i := range t.entries {
			if t.entries[i].online {
				continue
			}
			if oldest < 0 || t.entries[i].lastSeen.Before(t.entries[oldest].lastSeen) {
				oldest = i
			}
		}
		if oldest < 0 {
			return false
		}
		idx = oldest
	} else {
		t.entries = append(t.entries, entry{})
		idx = len(t.entries) - 1
	}

	t.entries[idx] = entry{addr: addr, lastSeen: now, rssi: rssi, online: true}
	return true
}

// CheckTimeout 将超时未见的在线节点置为离线，回调在锁外逐个触发
func (t *Table) CheckTimeout(timeout time.Duration, now time.Time, offlineCb OfflineFunc) {
	var gone []uint16

	t.mu.Lock()
	for i := range t.entries {
		e := &t.entries[i]
		if e.online && now.Sub(e.lastSeen) > timeout {
			e.online = false
			gone = append(gone, e.addr)
		}
	}
	t.mu.Unlock()

	if offlineCb != nil {
		for _, addr := range gone {
			offlineCb(addr)
		}
	}
}

// Get 返回节点快照
func (t *Table) Get(addr uint16) (NodeInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.find(addr)
	if idx < 0 {
		return NodeInfo{}, false
	}
	return t.entries[idx].info(), true
}

// GetAll 返回全部已知节点的快照
func (t *Table) GetAll() []NodeInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]NodeInfo, len(t.entries))
	for i := range t.entries {
		out[i] = t.entries[i].info()
	}
	return out
}

// IsOnline 报告节点是否在线，未知节点视为离线
func (t *Table) IsOnline(addr uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.find(addr)
	return idx >= 0 && t.entries[idx].online
}

// OnlineCount 返回当前在线节点数量
func (t *Table) OnlineCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.entries {
		if t.entries[i].online {
			n++
		}
	}
	return n
}

// SetObjectCount 更新节点公布的对象数量
func (t *Table) SetObjectCount(addr uint16, count uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx := t.find(addr); idx >= 0 {
		t.entries[idx].objectCount = count
	}
}

// Remove 删除节点，未知地址为空操作
func (t *Table) Remove(addr uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx := t.find(addr); idx >= 0 {
		t.entries = append(t.entries[:idx], t.entries[idx+1:]...)
	}
}

// Clear 清空节点表
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = t.entries[:0]
}

func (e *entry) info() NodeInfo {
	return NodeInfo{
		Addr:        e.addr,
		LastSeen:    e.lastSeen,
		RSSI:        e.rssi,
		Online:      e.online,
		ObjectCount: e.objectCount,
	}
}
