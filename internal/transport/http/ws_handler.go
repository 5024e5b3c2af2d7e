package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"livequiz-service/internal/app"
	"livequiz-service/internal/domain"
	"livequiz-service/internal/lobby"
)

// WSHandler exposes the student/host client over one websocket connection.
// Each connection owns a LobbyController (the client-side session-state
// object); realtime presence, start signals, and leaderboard updates all
// flow out through the connection's single writer goroutine.
type WSHandler struct {
	store    app.SessionStore
	channels lobby.Provider
	host     *app.HostControl
	play     *app.PlayService
	refresh  time.Duration
	upgrader websocket.Upgrader
}

func NewWSHandler(store app.SessionStore, channels lobby.Provider, host *app.HostControl, play *app.PlayService, refresh time.Duration) *WSHandler {
	return &WSHandler{
		store:    store,
		channels: channels,
		host:     host,
		play:     play,
		refresh:  refresh,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type sessionRef struct {
	SessionID string `json:"sessionId"`
}

type redeemPayload struct {
	Code string `json:"code"`
}

type answerPayload struct {
	SessionID  string `json:"sessionId"`
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

type joinedPayload struct {
	SessionID string `json:"sessionId"`
	Outcome   string `json:"outcome"`
}

type presencePayload struct {
	SessionID string                  `json:"sessionId"`
	Members   []domain.PresenceMember `json:"members"`
}

type answerResult struct {
	QuestionID string `json:"questionId"`
	Correct    bool   `json:"correct"`
	Awarded    int    `json:"awarded"`
	TotalScore int    `json:"totalScore"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and runs the client loop until disconnect.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	displayName := r.URL.Query().Get("name")
	if userID == "" || displayName == "" {
		http.Error(w, "missing userId or name", http.StatusBadRequest)
		return
	}
	user := domain.User{ID: userID, DisplayName: displayName}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	client := newWSClient(h, conn, user)
	client.run(r.Context())
}

// wsClient is the per-connection state: the controller, the outbound send
// channel, and any live leaderboard subscription.
type wsClient struct {
	h           *WSHandler
	conn        *websocket.Conn
	user        domain.User
	coordinator *app.JoinCoordinator
	controller  *app.LobbyController

	send         chan outboundMessage[any]
	closeSignals chan struct{}
	closeOnce    sync.Once

	mu            sync.Mutex
	leaderboardOf string
	cancelUpdates func()
}

func newWSClient(h *WSHandler, conn *websocket.Conn, user domain.User) *wsClient {
	c := &wsClient{
		h:            h,
		conn:         conn,
		user:         user,
		send:         make(chan outboundMessage[any], 16),
		closeSignals: make(chan struct{}),
	}
	c.coordinator = app.NewJoinCoordinator(h.store)
	c.controller = app.NewLobbyController(h.store, c.coordinator, h.channels, user, h.refresh)
	c.controller.SetOnPresenceChanged(func(sessionID string, members []domain.PresenceMember) {
		c.enqueue(outboundMessage[any]{Type: "presence", Payload: presencePayload{SessionID: sessionID, Members: members}})
	})
	c.controller.SetOnEnterQuiz(func(sessionID string) {
		c.enterQuiz(context.Background(), sessionID)
	})
	return c
}

func (c *wsClient) run(ctx context.Context) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case msg := <-c.send:
				if err := c.conn.WriteJSON(msg); err != nil {
					log.Printf("ws write error: %v", err)
					return
				}
			case <-c.closeSignals:
				return
			}
		}
	}()

	go c.controller.Run(ctx)

	if err := c.controller.Refresh(ctx); err != nil {
		log.Printf("ws: initial refresh for %s: %v", c.user.ID, err)
	}

	for {
		var inbound inboundMessage
		if err := c.conn.ReadJSON(&inbound); err != nil {
			break
		}
		c.dispatch(ctx, inbound)
	}

	// Teardown must run on every exit path: presence untrack, channel
	// disposal, leaderboard unsubscribe. The send channel is never closed;
	// closeSignals ends the writer, and any straggling timer or leaderboard
	// goroutine that still calls enqueue just drops its message.
	c.closeOnce.Do(func() { close(c.closeSignals) })
	c.dropLeaderboard()
	c.controller.Stop()
	<-writerDone
}

func (c *wsClient) dispatch(ctx context.Context, inbound inboundMessage) {
	switch inbound.Type {
	case "join":
		var p sessionRef
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			c.sendError("invalid join payload")
			return
		}
		c.handleJoin(ctx, p.SessionID)
	case "redeem_code":
		var p redeemPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			c.sendError("invalid redeem payload")
			return
		}
		c.handleRedeem(ctx, p.Code)
	case "leave":
		var p sessionRef
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			c.sendError("invalid leave payload")
			return
		}
		c.handleLeave(ctx, p.SessionID)
	case "start":
		var p sessionRef
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			c.sendError("invalid start payload")
			return
		}
		if _, err := c.h.host.StartSession(ctx, p.SessionID, c.user.ID); err != nil {
			c.sendOperationError(err)
		}
	case "end":
		var p sessionRef
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			c.sendError("invalid end payload")
			return
		}
		if _, err := c.h.host.EndSession(ctx, p.SessionID, c.user.ID); err != nil {
			c.sendOperationError(err)
		}
	case "answer":
		var p answerPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			c.sendError("invalid answer payload")
			return
		}
		c.handleAnswer(ctx, p)
	default:
		c.sendError("unsupported message type")
	}
}

func (c *wsClient) handleJoin(ctx context.Context, sessionID string) {
	outcome, err := c.coordinator.RequestJoin(ctx, sessionID, c.user)
	if err != nil {
		c.sendOperationError(err)
		return
	}
	switch outcome {
	case app.OutcomePromptCode:
		c.enqueue(outboundMessage[any]{Type: "prompt_code", Payload: sessionRef{SessionID: sessionID}})
	case app.OutcomeEnterQuiz:
		c.enqueue(outboundMessage[any]{Type: "joined", Payload: joinedPayload{SessionID: sessionID, Outcome: outcome.String()}})
		c.controller.EnterQuiz(sessionID)
	default:
		if err := c.controller.EnterLobby(ctx, sessionID); err != nil {
			c.sendOperationError(err)
			return
		}
		c.enqueue(outboundMessage[any]{Type: "joined", Payload: joinedPayload{SessionID: sessionID, Outcome: outcome.String()}})
	}
}

func (c *wsClient) handleRedeem(ctx context.Context, code string) {
	session, err := c.coordinator.RedeemPrivateCode(ctx, code, c.user)
	if err != nil {
		c.sendOperationError(err)
		return
	}
	if err := c.controller.EnterLobby(ctx, session.ID); err != nil {
		c.sendOperationError(err)
		return
	}
	c.enqueue(outboundMessage[any]{Type: "joined", Payload: joinedPayload{SessionID: session.ID, Outcome: app.OutcomeLobby.String()}})
}

func (c *wsClient) handleLeave(ctx context.Context, sessionID string) {
	c.controller.LeaveLobby(ctx)
	if err := c.coordinator.LeaveWaitlist(ctx, sessionID, c.user); err != nil {
		c.sendOperationError(err)
		return
	}
	c.enqueue(outboundMessage[any]{Type: "left", Payload: sessionRef{SessionID: sessionID}})
}

func (c *wsClient) handleAnswer(ctx context.Context, p answerPayload) {
	lb, total, awarded, correct, err := c.h.play.SubmitAnswer(ctx, p.SessionID, c.user.ID, domain.AnswerSubmission{
		QuestionID: p.QuestionID,
		Answer:     p.Answer,
	})
	if err != nil {
		c.sendOperationError(err)
		return
	}
	c.enqueue(outboundMessage[any]{Type: "answer_result", Payload: answerResult{
		QuestionID: p.QuestionID,
		Correct:    correct,
		Awarded:    awarded,
		TotalScore: total,
	}})
	c.enqueue(outboundMessage[any]{Type: "leaderboard", Payload: lb})
}

// enterQuiz joins the live run and streams leaderboard updates. Reached from
// three triggers (explicit live join, auto-start tick, host broadcast); the
// controller latches so it runs at most once per session.
func (c *wsClient) enterQuiz(ctx context.Context, sessionID string) {
	lb, err := c.h.play.Join(ctx, sessionID, c.user.ID, c.user.DisplayName)
	if err != nil {
		c.sendOperationError(err)
		return
	}
	c.enqueue(outboundMessage[any]{Type: "quiz_started", Payload: sessionRef{SessionID: sessionID}})
	c.enqueue(outboundMessage[any]{Type: "leaderboard", Payload: lb})

	updates, cancel, err := c.h.play.Subscribe(ctx, sessionID)
	if err != nil {
		c.sendOperationError(err)
		return
	}

	c.dropLeaderboard()
	c.mu.Lock()
	c.leaderboardOf = sessionID
	c.cancelUpdates = cancel
	c.mu.Unlock()

	go func() {
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				c.enqueue(outboundMessage[any]{Type: "leaderboard", Payload: update})
			case <-c.closeSignals:
				return
			}
		}
	}()
}

func (c *wsClient) dropLeaderboard() {
	c.mu.Lock()
	cancel := c.cancelUpdates
	sessionID := c.leaderboardOf
	c.cancelUpdates = nil
	c.leaderboardOf = ""
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		c.h.play.Leave(context.Background(), sessionID, c.user.ID)
	}
}

func (c *wsClient) enqueue(msg outboundMessage[any]) {
	select {
	case c.send <- msg:
	case <-c.closeSignals:
	}
}

func (c *wsClient) sendError(message string) {
	c.enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: message}})
}

// sendOperationError converts internal failures to the user-visible
// taxonomy: invalid code stays generic, transient store trouble becomes a
// retryable notice, everything else passes through its sentinel text.
func (c *wsClient) sendOperationError(err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidCode):
		c.sendError("invalid or expired code")
	case errors.Is(err, domain.ErrStoreUnavailable):
		log.Printf("ws: store failure for %s: %v", c.user.ID, err)
		c.sendError("temporary problem, please try again")
	default:
		c.sendError(err.Error())
	}
}
