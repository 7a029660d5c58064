// tail follows a room's messages in the terminal. Lines typed on stdin are sent to the room.
//
//	tail -url http://localhost:8080 -token $TOKEN -room <room-id>
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/roomchat/internal/client"
	"github.com/roomchat/internal/feed"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/ws"
)

const typingWindow = 10 * time.Second

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "API base URL")
	token := flag.String("token", os.Getenv("ROOMCHAT_TOKEN"), "session token")
	roomID := flag.String("room", "", "room id to follow")
	flag.Parse()
	logger.SetPrefix("tail")
	if *roomID == "" || *token == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := &apiClient{base: strings.TrimRight(*baseURL, "/"), token: *token, http: &http.Client{Timeout: 15 * time.Second}}
	var me model.User
	if err := api.get(ctx, "/api/users/me", &me); err != nil {
		logger.Errorf("load profile: %v", err)
		os.Exit(1)
	}
	ch := model.RoomChannel(*roomID)
	var page model.MessagePage
	if err := api.get(ctx, "/api/rooms/"+*roomID+"/messages", &page); err != nil {
		logger.Errorf("load messages: %v", err)
		os.Exit(1)
	}

	t := &terminal{
		log:     client.NewMessageLog(me.ID, ch),
		typing:  client.NewTypingView(me.ID, *roomID, typingWindow),
		printed: make(map[string]bool),
	}
	t.log.Seed(page.Messages)
	t.flush()

	conn := client.New(client.Options{
		URL:    wsURL(api.base),
		Token:  *token,
		Topics: []string{ch.Topic()},
	})
	go t.readInput(ctx, conn, me, *roomID)
	if err := conn.Run(ctx, t.handle); err != nil && ctx.Err() == nil {
		logger.Errorf("connection: %v", err)
		os.Exit(1)
	}
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	}
	return base + "/ws"
}

type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, body.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type terminal struct {
	log    *client.MessageLog
	typing *client.TypingView

	mu         sync.Mutex
	printed    map[string]bool
	lastTyping string
}

func (t *terminal) handle(msg ws.OutgoingMessage) {
	switch msg.Type {
	case ws.EventFeed:
		if msg.Event == nil {
			return
		}
		t.apply(*msg.Event)
	case ws.EventSent:
		var m model.Message
		if err := remarshal(msg.Payload, &m); err != nil {
			logger.Errorf("decode ack: %v", err)
			return
		}
		t.log.Confirm(msg.ClientID, m)
		t.flush()
	case ws.EventError:
		if msg.ClientID != "" {
			t.log.Fail(msg.ClientID)
		}
		fmt.Fprintf(os.Stderr, "! %v\n", msg.Payload)
	}
}

func (t *terminal) apply(ev feed.Event) {
	switch ev.Table {
	case feed.TableMessages:
		if changed, err := t.log.Apply(ev); err != nil {
			logger.Errorf("apply message event: %v", err)
		} else if changed {
			t.flush()
		}
	case feed.TableTyping:
		if _, err := t.typing.Apply(ev); err != nil {
			logger.Errorf("apply typing event: %v", err)
			return
		}
		t.showTyping()
	}
}

// flush prints confirmed messages not shown yet. Pending sends are printed once confirmed.
func (t *terminal) flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.log.Messages() {
		if m.ID == "" || t.printed[m.ID] {
			continue
		}
		t.printed[m.ID] = true
		name := m.SenderName
		if name == "" {
			name = m.SenderID
		}
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), name, m.Content)
	}
}

func (t *terminal) showTyping() {
	var ids []string
	for _, st := range t.typing.Typing(time.Now()) {
		ids = append(ids, st.UserID)
	}
	line := ""
	if len(ids) > 0 {
		line = strings.Join(ids, ", ") + " typing..."
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if line != t.lastTyping && line != "" {
		fmt.Fprintln(os.Stderr, line)
	}
	t.lastTyping = line
}

func (t *terminal) readInput(ctx context.Context, conn *client.Conn, me model.User, roomID string) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		clientID := uuid.NewString()
		rid := roomID
		t.log.Optimistic(clientID, model.Message{RoomID: &rid, SenderID: me.ID, SenderName: me.Username, Content: text, CreatedAt: time.Now()})
		err := conn.Send(ws.IncomingMessage{Type: ws.EventSendMessage, RoomID: roomID, Content: text, ClientID: clientID})
		if err != nil {
			t.log.Fail(clientID)
			fmt.Fprintf(os.Stderr, "! not sent: %v\n", err)
		}
	}
}

func remarshal(in any, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
