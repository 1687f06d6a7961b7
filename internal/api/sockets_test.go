package api

import (
	"strconv"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestSocketRegistry_Register(t *testing.T) {
	sm := NewSocketRegistry()
	conn := &websocket.Conn{}
	userID := "user123"
	sessionID := "chat-1"

	sm.Register(userID, sessionID, conn)

	active := sm.GetActive(userID, sessionID)
	if active != conn {
		t.Errorf("Expected connection %v, got %v", conn, active)
	}
}

func TestSocketRegistry_Unregister(t *testing.T) {
	sm := NewSocketRegistry()
	conn := &websocket.Conn{}
	userID := "user123"
	sessionID := "chat-1"

	sm.Register(userID, sessionID, conn)
	sm.Unregister(userID, sessionID, conn)

	active := sm.GetActive(userID, sessionID)
	if active != nil {
		t.Errorf("Expected nil connection, got %v", active)
	}
}

func TestSocketRegistry_UnregisterStale(t *testing.T) {
	sm := NewSocketRegistry()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}
	userID := "user123"
	session1 := "chat-1"
	session2 := "chat-2"

	sm.Register(userID, session1, conn1)

	// Another conversation should remain active when a stale unregister
	// happens.
	sm.Register(userID, session2, conn2)

	sm.Unregister(userID, session1, conn1)

	active := sm.GetActive(userID, session2)
	if active != conn2 {
		t.Errorf("Expected connection %v, got %v", conn2, active)
	}
}

func TestSocketRegistry_ConcurrentAccess(t *testing.T) {
	sm := NewSocketRegistry()
	userID := "concurrentUser"

	go func() {
		for i := 0; i < 1000; i++ {
			sm.Register(userID, "chat-"+strconv.Itoa(i), &websocket.Conn{})
		}
	}()

	go func() {
		for i := 0; i < 1000; i++ {
			sm.GetActive(userID, "chat-"+strconv.Itoa(i))
		}
	}()

	time.Sleep(100 * time.Millisecond)
}
