package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/roomchat/internal/auth"
	"github.com/roomchat/internal/config"
	"github.com/roomchat/internal/feed"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/push"
	"github.com/roomchat/internal/service"
	"github.com/roomchat/internal/storage/memory"
	"github.com/roomchat/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	srv    *httptest.Server
	tokens *auth.Tokens
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := memory.New()
	bus := feed.NewMemoryBus()
	svc := service.New(store, store, bus, nil, service.Options{})
	hub := ws.NewHub(svc, bus, 100)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	cfg := &config.Config{SessionCookie: "session", CORSAllowedOrigins: "*", WSSendBufferSize: 16, TypingFreshness: 10 * time.Second}
	tokens := auth.NewTokens("test-secret", time.Hour)
	srv := httptest.NewServer(NewRouter(RouterDeps{
		Config:  cfg,
		Service: svc,
		Hub:     hub,
		Tokens:  tokens,
		Push:    push.NewClient("", ""),
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		_ = bus.Close()
	})
	return &testAPI{srv: srv, tokens: tokens}
}

type session struct {
	api   *testAPI
	id    string
	token string
}

func (a *testAPI) login(t *testing.T, name string) *session {
	t.Helper()
	id := uuid.NewString()
	tok, err := a.tokens.Issue(id, name)
	require.NoError(t, err)
	return &session{api: a, id: id, token: tok}
}

// do sends a request and decodes a JSON answer into out when out is not nil.
func (s *session) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.api.srv.URL+path, rd)
	require.NoError(t, err)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestRequiresSession(t *testing.T) {
	api := newTestAPI(t)
	anon := &session{api: api}
	assert.Equal(t, http.StatusUnauthorized, anon.do(t, http.MethodGet, "/api/rooms", nil, nil))
	assert.Equal(t, http.StatusOK, anon.do(t, http.MethodGet, "/health", nil, nil))
}

func TestProfileEnsuredFromSession(t *testing.T) {
	api := newTestAPI(t)
	alice := api.login(t, "alice")

	var me model.User
	require.Equal(t, http.StatusOK, alice.do(t, http.MethodGet, "/api/users/me", nil, &me))
	assert.Equal(t, alice.id, me.ID)
	assert.Equal(t, "alice", me.Username)

	require.Equal(t, http.StatusOK, alice.do(t, http.MethodPut, "/api/users/me", UpdateProfileRequest{Username: "Alice A."}, &me))
	assert.Equal(t, "Alice A.", me.Username)
	assert.Equal(t, http.StatusBadRequest, alice.do(t, http.MethodPut, "/api/users/me", UpdateProfileRequest{Username: "  "}, nil))
}

func TestPrivateRoomFlow(t *testing.T) {
	api := newTestAPI(t)
	alice := api.login(t, "alice")
	bob := api.login(t, "bob")
	// make bob's profile exist before alice looks him up
	require.Equal(t, http.StatusOK, bob.do(t, http.MethodGet, "/api/users/me", nil, nil))

	var room model.RoomView
	require.Equal(t, http.StatusCreated, alice.do(t, http.MethodPost, "/api/rooms", CreateRoomRequest{Name: "secret", IsPrivate: true}, &room))
	assert.True(t, room.IsMember)
	assert.Equal(t, 1, room.MemberCount)

	var joined map[string]string
	require.Equal(t, http.StatusOK, bob.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/join", nil, &joined))
	assert.Equal(t, "pending", joined["status"])
	assert.Equal(t, http.StatusConflict, bob.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/join", nil, nil))

	assert.Equal(t, http.StatusForbidden, bob.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/messages", SendMessageRequest{Content: "hi"}, nil))
	assert.Equal(t, http.StatusForbidden, bob.do(t, http.MethodGet, "/api/rooms/"+room.ID+"/requests", nil, nil))

	var pending []model.Membership
	require.Equal(t, http.StatusOK, alice.do(t, http.MethodGet, "/api/rooms/"+room.ID+"/requests", nil, &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, bob.id, pending[0].UserID)

	require.Equal(t, http.StatusNoContent, alice.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/requests/"+bob.id+"/accept", nil, nil))

	var rooms []model.RoomView
	require.Equal(t, http.StatusOK, bob.do(t, http.MethodGet, "/api/rooms/joined", nil, &rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, model.MembershipAccepted, rooms[0].ParticipationStatus)
	assert.Equal(t, 2, rooms[0].MemberCount)

	var msg model.Message
	require.Equal(t, http.StatusCreated, bob.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/messages", SendMessageRequest{Content: "hello"}, &msg))
	assert.Equal(t, "bob", msg.SenderName)

	var list service.NotificationList
	require.Equal(t, http.StatusOK, alice.do(t, http.MethodGet, "/api/notifications?unread=true", nil, &list))
	types := make([]model.NotificationType, 0, len(list.Items))
	for _, n := range list.Items {
		types = append(types, n.Type)
	}
	assert.ElementsMatch(t, []model.NotificationType{model.NotificationJoinRequest, model.NotificationNewMessage}, types)
	assert.Equal(t, 2, list.Unread)

	// a notification of another user is invisible
	assert.Equal(t, http.StatusNotFound, bob.do(t, http.MethodPost, "/api/notifications/"+list.Items[0].ID+"/read", nil, nil))
	require.Equal(t, http.StatusNoContent, alice.do(t, http.MethodPost, "/api/notifications/"+list.Items[0].ID+"/read", nil, nil))

	var count map[string]int
	require.Equal(t, http.StatusOK, alice.do(t, http.MethodGet, "/api/notifications/unread-count", nil, &count))
	assert.Equal(t, 1, count["unread"])
}

func TestLeaveIsIdempotent(t *testing.T) {
	api := newTestAPI(t)
	alice := api.login(t, "alice")
	bob := api.login(t, "bob")

	var room model.RoomView
	require.Equal(t, http.StatusCreated, alice.do(t, http.MethodPost, "/api/rooms", CreateRoomRequest{Name: "lobby"}, &room))
	require.Equal(t, http.StatusOK, bob.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/join", nil, nil))
	assert.Equal(t, http.StatusNoContent, bob.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/leave", nil, nil))
	assert.Equal(t, http.StatusNoContent, bob.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/leave", nil, nil))

	var status map[string]string
	require.Equal(t, http.StatusOK, bob.do(t, http.MethodGet, "/api/rooms/"+room.ID+"/membership", nil, &status))
	assert.Equal(t, "none", status["status"])
}

func TestErrorStatusCodes(t *testing.T) {
	api := newTestAPI(t)
	alice := api.login(t, "alice")

	assert.Equal(t, http.StatusNotFound, alice.do(t, http.MethodGet, "/api/rooms/"+uuid.NewString(), nil, nil))
	assert.Equal(t, http.StatusNotFound, alice.do(t, http.MethodGet, "/api/rooms/not-a-uuid", nil, nil))
	assert.Equal(t, http.StatusBadRequest, alice.do(t, http.MethodGet, "/api/rooms/search?q=", nil, nil))
	assert.Equal(t, http.StatusBadRequest, alice.do(t, http.MethodGet, "/api/rooms/search?q=x&limit=51", nil, nil))
	assert.Equal(t, http.StatusBadRequest, alice.do(t, http.MethodGet, "/api/rooms/search?q=x&offset=-1", nil, nil))
	assert.Equal(t, http.StatusBadRequest, alice.do(t, http.MethodGet, "/api/rooms/search?q=x&limit=999999999999999999999", nil, nil))
	assert.Equal(t, http.StatusBadRequest, alice.do(t, http.MethodGet, "/api/rooms/search?q=x&limit=ten", nil, nil))
	assert.Equal(t, http.StatusBadRequest, alice.do(t, http.MethodGet, "/api/rooms/search?q=x&offset=1.5", nil, nil))
	assert.Equal(t, http.StatusBadRequest, alice.do(t, http.MethodGet, "/api/notifications?limit=all", nil, nil))
	assert.Equal(t, http.StatusBadRequest, alice.do(t, http.MethodPost, "/api/rooms", CreateRoomRequest{Name: ""}, nil))

	var room model.RoomView
	require.Equal(t, http.StatusCreated, alice.do(t, http.MethodPost, "/api/rooms", CreateRoomRequest{Name: "lobby"}, &room))
	assert.Equal(t, http.StatusBadRequest, alice.do(t, http.MethodGet, "/api/rooms/"+room.ID+"/messages?before=yesterday", nil, nil))
	before := time.Now().UTC().Format(time.RFC3339Nano)
	assert.Equal(t, http.StatusBadRequest, alice.do(t, http.MethodGet, "/api/rooms/"+room.ID+"/messages?before="+before+"&before_id=x", nil, nil))
	assert.Equal(t, http.StatusOK, alice.do(t, http.MethodGet, "/api/rooms/"+room.ID+"/messages?before="+before+"&before_id="+uuid.NewString(), nil, nil))
	assert.Equal(t, http.StatusBadRequest, alice.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/messages", SendMessageRequest{Content: "   "}, nil))
}

func TestSearchReturnsTotal(t *testing.T) {
	api := newTestAPI(t)
	alice := api.login(t, "alice")
	for _, name := range []string{"go chat", "go news", "rust"} {
		require.Equal(t, http.StatusCreated, alice.do(t, http.MethodPost, "/api/rooms", CreateRoomRequest{Name: name}, nil))
	}
	var page model.RoomPage
	require.Equal(t, http.StatusOK, alice.do(t, http.MethodGet, "/api/rooms/search?q=go&limit=1&offset=0", nil, &page))
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Rooms, 1)
}

func TestMessagePagination(t *testing.T) {
	api := newTestAPI(t)
	alice := api.login(t, "alice")
	var room model.RoomView
	require.Equal(t, http.StatusCreated, alice.do(t, http.MethodPost, "/api/rooms", CreateRoomRequest{Name: "busy"}, &room))
	for i := 0; i < service.PageSize+5; i++ {
		require.Equal(t, http.StatusCreated, alice.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/messages", SendMessageRequest{Content: "m"}, nil))
	}

	var first model.MessagePage
	require.Equal(t, http.StatusOK, alice.do(t, http.MethodGet, "/api/rooms/"+room.ID+"/messages", nil, &first))
	require.Len(t, first.Messages, service.PageSize)
	require.True(t, first.HasMore)
	require.NotNil(t, first.NextCursor)

	path := "/api/rooms/" + room.ID + "/messages?before=" + first.NextCursor.Before.Format(time.RFC3339Nano) + "&before_id=" + first.NextCursor.BeforeID
	var second model.MessagePage
	require.Equal(t, http.StatusOK, alice.do(t, http.MethodGet, path, nil, &second))
	assert.Len(t, second.Messages, 5)
	assert.False(t, second.HasMore)

	seen := map[string]bool{}
	for _, m := range append(first.Messages, second.Messages...) {
		assert.False(t, seen[m.ID], "duplicate message %s", m.ID)
		seen[m.ID] = true
	}
}

func TestDirectChat(t *testing.T) {
	api := newTestAPI(t)
	alice := api.login(t, "alice")
	bob := api.login(t, "bob")
	require.Equal(t, http.StatusOK, bob.do(t, http.MethodGet, "/api/users/me", nil, nil))

	var chat model.DirectChat
	require.Equal(t, http.StatusOK, alice.do(t, http.MethodPost, "/api/direct", OpenDirectRequest{UserID: bob.id}, &chat))
	assert.True(t, chat.Has(alice.id))
	assert.True(t, chat.Has(bob.id))
	assert.Equal(t, http.StatusBadRequest, alice.do(t, http.MethodPost, "/api/direct", OpenDirectRequest{UserID: alice.id}, nil))

	require.Equal(t, http.StatusCreated, alice.do(t, http.MethodPost, "/api/direct/"+chat.ID+"/messages", SendMessageRequest{Content: "psst"}, nil))
	var read map[string]int64
	require.Equal(t, http.StatusOK, bob.do(t, http.MethodPost, "/api/direct/"+chat.ID+"/read", nil, &read))
	assert.Equal(t, int64(1), read["updated"])

	carol := api.login(t, "carol")
	assert.Equal(t, http.StatusForbidden, carol.do(t, http.MethodGet, "/api/direct/"+chat.ID+"/messages", nil, nil))
}

func TestPushConfigDisabled(t *testing.T) {
	api := newTestAPI(t)
	var out map[string]any
	require.Equal(t, http.StatusOK, (&session{api: api}).do(t, http.MethodGet, "/api/config/push", nil, &out))
	assert.Equal(t, false, out["enabled"])
}

func readUntil(t *testing.T, conn *websocket.Conn, typ ws.EventType) ws.OutgoingMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg ws.OutgoingMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func TestWebSocketReceivesRoomMessages(t *testing.T) {
	api := newTestAPI(t)
	alice := api.login(t, "alice")
	bob := api.login(t, "bob")

	var room model.RoomView
	require.Equal(t, http.StatusCreated, alice.do(t, http.MethodPost, "/api/rooms", CreateRoomRequest{Name: "live"}, &room))

	url := "ws" + strings.TrimPrefix(api.srv.URL, "http") + "/ws?token=" + bob.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	topic := model.RoomChannel(room.ID).Topic()
	require.NoError(t, conn.WriteJSON(ws.IncomingMessage{Type: ws.EventSubscribe, Topic: topic}))
	errMsg := readUntil(t, conn, ws.EventError)
	assert.Equal(t, service.ErrNotAMember.Error(), errMsg.Payload)

	require.Equal(t, http.StatusOK, bob.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/join", nil, nil))
	require.NoError(t, conn.WriteJSON(ws.IncomingMessage{Type: ws.EventSubscribe, Topic: topic}))
	sub := readUntil(t, conn, ws.EventSubscribed)
	assert.Equal(t, topic, sub.Topic)

	require.Equal(t, http.StatusCreated, alice.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/messages", SendMessageRequest{Content: "welcome"}, nil))
	for {
		ev := readUntil(t, conn, ws.EventFeed)
		require.NotNil(t, ev.Event)
		if ev.Event.Table != feed.TableMessages {
			continue
		}
		assert.Equal(t, topic, ev.Event.Topic)
		var m model.Message
		require.NoError(t, ev.Event.Decode(&m))
		assert.Equal(t, "welcome", m.Content)
		break
	}

	require.NoError(t, conn.WriteJSON(ws.IncomingMessage{Type: ws.EventSendMessage, RoomID: room.ID, Content: "thanks", ClientID: "c1"}))
	ack := readUntil(t, conn, ws.EventSent)
	assert.Equal(t, "c1", ack.ClientID)
}

func TestWebSocketStopsRoomEventsAfterLeave(t *testing.T) {
	api := newTestAPI(t)
	alice := api.login(t, "alice")
	bob := api.login(t, "bob")

	var left, other model.RoomView
	require.Equal(t, http.StatusCreated, alice.do(t, http.MethodPost, "/api/rooms", CreateRoomRequest{Name: "left"}, &left))
	require.Equal(t, http.StatusCreated, alice.do(t, http.MethodPost, "/api/rooms", CreateRoomRequest{Name: "other"}, &other))
	require.Equal(t, http.StatusOK, bob.do(t, http.MethodPost, "/api/rooms/"+left.ID+"/join", nil, nil))
	require.Equal(t, http.StatusOK, bob.do(t, http.MethodPost, "/api/rooms/"+other.ID+"/join", nil, nil))

	url := "ws" + strings.TrimPrefix(api.srv.URL, "http") + "/ws?token=" + bob.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	leftTopic := model.RoomChannel(left.ID).Topic()
	otherTopic := model.RoomChannel(other.ID).Topic()
	for _, topic := range []string{leftTopic, otherTopic} {
		require.NoError(t, conn.WriteJSON(ws.IncomingMessage{Type: ws.EventSubscribe, Topic: topic}))
		require.Equal(t, topic, readUntil(t, conn, ws.EventSubscribed).Topic)
	}

	require.Equal(t, http.StatusNoContent, bob.do(t, http.MethodPost, "/api/rooms/"+left.ID+"/leave", nil, nil))
	require.Equal(t, http.StatusCreated, alice.do(t, http.MethodPost, "/api/rooms/"+left.ID+"/messages", SendMessageRequest{Content: "after you left"}, nil))
	// events are delivered in publish order, so this marker arrives after anything from the left room
	require.Equal(t, http.StatusCreated, alice.do(t, http.MethodPost, "/api/rooms/"+other.ID+"/messages", SendMessageRequest{Content: "marker"}, nil))

	for {
		ev := readUntil(t, conn, ws.EventFeed)
		require.NotNil(t, ev.Event)
		if ev.Event.Table != feed.TableMessages {
			continue
		}
		require.NotEqual(t, leftTopic, ev.Event.Topic, "message from a room the user left")
		if ev.Event.Topic == otherTopic {
			break
		}
	}
}
