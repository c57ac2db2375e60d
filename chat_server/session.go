package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"dabubble/auth"
	"dabubble/navigation"
	"dabubble/search"
	"dabubble/stream"

	"github.com/aquilax/truncate"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	jww "github.com/spf13/jwalterweatherman"
)

const (
	sendQueueSize   = 64
	writeWait       = 10 * time.Second
	userWaitTimeout = 5 * time.Second
	logPayloadLen   = 64
)

// Session is one connected browser tab.
type Session struct {
	UserID    string
	IP        string
	Conn      *websocket.Conn
	SendQueue chan WSMessage

	ctx    context.Context
	cancel context.CancelFunc
	srv    *Server

	nav    *navigation.Coordinator
	finder *search.Searcher
	search *search.Coordinator
	chat   *stream.Stream
	thread *stream.Stream
	posts  *rateWindow

	wg sync.WaitGroup
}

func decodeData[T any](raw interface{}) (T, error) {
	var data T
	bytes, err := json.Marshal(raw)
	if err != nil {
		return data, err
	}
	err = json.Unmarshal(bytes, &data)
	return data, err
}

func (s *Server) HandleSocket(c *gin.Context) {
	claims := auth.ClaimsFrom(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	waitCtx, cancel := context.WithTimeout(c.Request.Context(), userWaitTimeout)
	_, err := s.dirs.Users.WaitFor(waitCtx, claims.UserID)
	cancel()
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		jww.WARN.Println("WebSocket upgrade failed:", err)
		return
	}
	conn.SetReadLimit(256 * 1024)

	sess := s.newSession(conn, claims.UserID, c.ClientIP())
	sess.run()
}

func (s *Server) newSession(conn *websocket.Conn, userID, ip string) *Session {
	ctx, cancel := context.WithCancel(s.ctx)
	finder := search.NewSearcher(s.st, s.dirs, userID)
	return &Session{
		UserID:    userID,
		IP:        ip,
		Conn:      conn,
		SendQueue: make(chan WSMessage, sendQueueSize),
		ctx:       ctx,
		cancel:    cancel,
		srv:       s,
		nav:       navigation.New(s.st, s.dirs, userID),
		finder:    finder,
		search:    search.NewCoordinator(ctx, finder, s.searchDelay),
		chat:      stream.New(s.st),
		thread:    stream.New(s.st),
		posts:     newPostLimiter(),
	}
}

func (sess *Session) run() {
	events, unsubscribe := sess.nav.Subscribe()

	sess.spawn(sess.WritePump)
	sess.spawn(func() { sess.forwardNavigation(events) })
	sess.spawn(func() { sess.forwardStream(sess.chat, "messages") })
	sess.spawn(func() { sess.forwardStream(sess.thread, "thread_messages") })
	sess.spawn(sess.forwardSearch)
	followDone := sess.nav.Follow(sess.ctx)

	if err := sess.srv.profile.Heartbeat(sess.ctx, sess.UserID); err != nil {
		jww.WARN.Printf("session %s: heartbeat: %v", sess.UserID, err)
	}
	if err := sess.nav.OpenDefault(sess.ctx); err != nil {
		jww.WARN.Printf("session %s: open default channel: %v", sess.UserID, err)
	}
	jww.INFO.Printf("session %s connected from %s", sess.UserID, sess.IP)

	sess.readLoop()

	sess.cancel()
	unsubscribe()
	sess.chat.Close()
	sess.thread.Close()
	sess.wg.Wait()
	<-followDone

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := sess.srv.auth.Logout(ctx, sess.UserID); err != nil {
		jww.WARN.Printf("session %s: mark offline: %v", sess.UserID, err)
	}
	jww.INFO.Printf("session %s disconnected", sess.UserID)
}

func (sess *Session) spawn(fn func()) {
	sess.wg.Add(1)
	go func() {
		defer sess.wg.Done()
		fn()
	}()
}

func (sess *Session) readLoop() {
	for {
		_, msgBytes, err := sess.Conn.ReadMessage()
		if err != nil {
			return
		}
		var wsMsg WSMessage
		if err := json.Unmarshal(msgBytes, &wsMsg); err != nil {
			jww.DEBUG.Println("Invalid message format:", err)
			sess.sendError("Invalid message format")
			continue
		}
		jww.DEBUG.Printf("session %s <- %s %s", sess.UserID, wsMsg.Type,
			truncate.Truncate(string(msgBytes), logPayloadLen, "...", truncate.PositionMiddle))
		sess.dispatch(wsMsg)
	}
}

// WritePump owns all writes to the socket. It closes the connection on
// exit, which ends the read loop.
func (sess *Session) WritePump() {
	defer sess.Conn.Close()

	for {
		select {
		case msg := <-sess.SendQueue:
			_ = sess.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.Conn.WriteJSON(msg); err != nil {
				jww.DEBUG.Println("WritePump error:", err)
				sess.cancel()
				return
			}
		case <-sess.ctx.Done():
			_ = sess.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// safeSend queues msg for the write pump. A client that cannot keep up is
// disconnected.
func (sess *Session) safeSend(msg WSMessage) {
	if sess.ctx.Err() != nil {
		return
	}
	select {
	case sess.SendQueue <- msg:
	default:
		jww.WARN.Printf("safeSend: send queue full for session %s", sess.UserID)
		sess.cancel()
	}
}

func (sess *Session) sendError(content string) {
	sess.safeSend(WSMessage{Type: "error", Data: ChatError{Content: content}})
}

func (sess *Session) forwardNavigation(events <-chan navigation.Event) {
	for {
		select {
		case <-sess.ctx.Done():
			return
		case ev := <-events:
			sess.follow(ev)
			update := NavigationUpdate{
				Kind:          ev.Kind,
				State:         ev.State,
				SearchContext: sess.nav.SearchContext(),
			}
			if ev.State.Chat != nil {
				if partner, ok := sess.nav.ChatPartnerAsUser(); ok {
					update.Partner = &partner
				}
			}
			sess.safeSend(WSMessage{Type: "navigation", Data: update})
		}
	}
}

// follow points the message streams at whatever the event says is on
// screen.
func (sess *Session) follow(ev navigation.Event) {
	switch ev.Kind {
	case navigation.KindChannel, navigation.KindChat:
		path := ev.State.MessagesPath()
		if path != sess.chat.Path() {
			if path == "" {
				sess.chat.Close()
			} else if err := sess.chat.Switch(sess.ctx, path); err != nil {
				jww.ERROR.Printf("session %s: open %s: %v", sess.UserID, path, err)
				sess.sendError("Failed to load messages")
			}
		}
		if chat := ev.State.Chat; chat != nil && chat.UnreadCount > 0 {
			if err := sess.srv.conv.MarkChatRead(sess.ctx, sess.UserID, chat.ID); err != nil {
				jww.WARN.Printf("session %s: mark chat %s read: %v", sess.UserID, chat.ID, err)
			}
		}
	case navigation.KindThreadSet:
		if err := sess.thread.Switch(sess.ctx, ev.State.ThreadPath); err != nil {
			jww.ERROR.Printf("session %s: open thread %s: %v", sess.UserID, ev.State.ThreadPath, err)
			sess.sendError("Failed to load thread")
		}
	case navigation.KindThreadCleared:
		sess.thread.Close()
	}
}

func (sess *Session) forwardStream(st *stream.Stream, msgType string) {
	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-st.Updates():
			sess.safeSend(WSMessage{Type: msgType, Data: MessagesUpdate{
				Path:     st.Path(),
				Messages: st.Messages(),
				Days:     st.Days(),
			}})
		}
	}
}

func (sess *Session) forwardSearch() {
	for {
		select {
		case <-sess.ctx.Done():
			return
		case res := <-sess.search.Results():
			sess.safeSend(WSMessage{Type: "search_results", Data: res})
		}
	}
}
