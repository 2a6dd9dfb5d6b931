package server

import (
	"sort"
	"sync"
)

// RoomManager 管理多个房间的生命周期
type RoomManager struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	newRoom func(id string) *Room
	closed  bool
}

func NewRoomManager(newRoom func(id string) *Room) *RoomManager {
	return &RoomManager{rooms: make(map[string]*Room), newRoom: newRoom}
}

// GetOrCreateRoom 获取或创建房间，并确保开始 Tick；关闭后返回 nil
func (m *RoomManager) GetOrCreateRoom(id string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	r, ok := m.rooms[id]
	if !ok {
		r = m.newRoom(id)
		m.rooms[id] = r
		r.StartTicker()
	}
	return r
}

func (m *RoomManager) Room(id string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok
}

// IDs 按字典序返回所有房间
func (m *RoomManager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close 停止所有房间
func (m *RoomManager) Close() {
	m.mu.Lock()
	rooms := m.rooms
	m.rooms = make(map[string]*Room)
	m.closed = true
	m.mu.Unlock()
	for _, r := range rooms {
		r.Stop()
	}
}
