package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/addressbook-sync/internal/events"
	"github.com/listenupapp/addressbook-sync/internal/logger"
)

func startManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go m.Start(ctx)
	t.Cleanup(func() {
		cancel()
		_ = m.Shutdown(context.Background())
	})
	return m
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case evt := <-c.EventChan:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestFromDomain(t *testing.T) {
	tests := []struct {
		event any
		want  EventType
	}{
		{events.CommandFinished{CommandID: "cmd-1"}, EventCommandFinished},
		{events.GraceTick{SecondsLeft: 3}, EventGraceTick},
		{events.SyncStarted{}, EventSyncStarted},
		{events.SyncUpdate{}, EventSyncUpdate},
		{events.SyncCompleted{}, EventSyncCompleted},
		{events.SyncFailed{Reason: "quota"}, EventSyncFailed},
		{NewHeartbeatEvent(), EventHeartbeat},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			evt, ok := FromDomain(tt.event)
			require.True(t, ok)
			assert.Equal(t, tt.want, evt.Type)
			assert.NotEmpty(t, evt.ID)
		})
	}

	_, ok := FromDomain("nope")
	assert.False(t, ok)
}

func TestManager_Broadcast(t *testing.T) {
	m := startManager(t)

	a, err := m.Connect(0)
	require.NoError(t, err)
	b, err := m.Connect(0)
	require.NoError(t, err)
	assert.Equal(t, 2, m.ClientCount())

	m.Emit(events.CommandFinished{CommandID: "cmd-1", Kind: "Edit", Status: "Succeeded", PersonID: 1})

	for _, c := range []*Client{a, b} {
		evt := receive(t, c)
		assert.Equal(t, EventCommandFinished, evt.Type)
		assert.Equal(t, 1, evt.Data.(events.CommandFinished).PersonID)
	}

	m.Disconnect(a.ID)
	m.Disconnect(a.ID)
	assert.Equal(t, 1, m.ClientCount())
}

func TestManager_DropsUnknownAndPostShutdownEvents(t *testing.T) {
	m := NewManager(logger.Discard())
	m.Emit(42)
	assert.Empty(t, m.queue)

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.NotPanics(t, func() { m.Emit(events.SyncStarted{}) })
}

func TestHandler_StreamsEvents(t *testing.T) {
	m := startManager(t)
	srv := httptest.NewServer(NewHandler(m, logger.Discard()))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, Event) {
		var name string
		var evt Event
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt))
			case line == "":
				return name, evt
			}
		}
	}

	name, _ := readEvent()
	require.Equal(t, "connected", name)

	m.Emit(events.SyncFailed{RunID: "sync-1", Reason: "No active addressbook sync found."})
	name, evt := readEvent()
	assert.Equal(t, string(EventSyncFailed), name)
	data, ok := evt.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "No active addressbook sync found.", data["reason"])
}

func TestHandler_RejectsNonGet(t *testing.T) {
	h := NewHandler(NewManager(logger.Discard()), logger.Discard())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestManager_PersonSubscription(t *testing.T) {
	m := startManager(t)

	ann, err := m.Connect(1)
	require.NoError(t, err)
	all, err := m.Connect(0)
	require.NoError(t, err)

	m.Emit(events.GraceTick{PersonID: 2, SecondsLeft: 4})
	m.Emit(events.GraceTick{PersonID: 1, SecondsLeft: 3})
	m.Emit(events.SyncStarted{})

	tick := receive(t, ann)
	assert.Equal(t, 1, tick.Data.(events.GraceTick).PersonID)
	assert.Equal(t, EventSyncStarted, receive(t, ann).Type, "sync events reach every client")

	assert.Equal(t, 2, receive(t, all).Data.(events.GraceTick).PersonID)
	assert.Equal(t, 1, receive(t, all).Data.(events.GraceTick).PersonID)
	assert.Equal(t, EventSyncStarted, receive(t, all).Type)
}

func TestHandler_RejectsBadPersonFilter(t *testing.T) {
	h := NewHandler(NewManager(logger.Discard()), logger.Discard())

	for _, q := range []string{"abc", "0", "-3"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?person="+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}
