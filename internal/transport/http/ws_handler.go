package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"challenge-service/internal/app"
	"challenge-service/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type WSHandler struct {
	service  *app.ChallengeService
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

func NewWSHandler(service *app.ChallengeService, log logrus.FieldLogger) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type finishPayload struct {
	Score   *int  `json:"score"`
	Answers []int `json:"answers"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type resultPayload struct {
	reconcileResponse
	Challenge domain.Challenge `json:"challenge"`
}

const (
	msgSnapshot     = "snapshot"
	msgStarted      = "started"
	msgResult       = "result"
	msgError        = "error"
	msgReadyTimeout = "ready_timeout"
)

// ServeWS upgrades HTTP requests to websockets. With challengeId and userId it streams one
// challenge to a participant and accepts ready/finish/reconcile messages; with opponentId it
// streams the challenges addressed to that user.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challengeID, userID, opponentID := q.Get("challengeId"), q.Get("userId"), q.Get("opponentId")
	switch {
	case challengeID != "" && userID != "":
		h.serveChallenge(w, r, challengeID, userID)
	case opponentID != "":
		h.serveIncoming(w, r, opponentID)
	default:
		http.Error(w, "missing challengeId and userId, or opponentId", http.StatusBadRequest)
	}
}

// session serializes writes to one connection through a single writer goroutine.
type session struct {
	conn       *websocket.Conn
	send       chan outboundMessage[any]
	closed     chan struct{}
	writerDone chan struct{}
	log        logrus.FieldLogger
}

func newSession(conn *websocket.Conn, log logrus.FieldLogger) *session {
	s := &session{
		conn:       conn,
		send:       make(chan outboundMessage[any], 16),
		closed:     make(chan struct{}),
		writerDone: make(chan struct{}),
		log:        log,
	}
	go s.writeLoop()
	return s
}

func (s *session) writeLoop() {
	defer close(s.writerDone)
	for msg := range s.send {
		if err := s.conn.WriteJSON(msg); err != nil {
			s.log.WithError(err).Debug("ws write failed")
			return
		}
	}
}

// emit queues a message unless the session is shutting down.
func (s *session) emit(typ string, payload any) bool {
	select {
	case s.send <- outboundMessage[any]{Type: typ, Payload: payload}:
		return true
	case <-s.closed:
		return false
	}
}

func (s *session) emitError(err error) {
	s.emit(msgError, errorPayload{Message: err.Error()})
}

// forward relays change events until the stream ends or the session closes.
func (s *session) forward(updates <-chan domain.ChallengeEvent) {
	for {
		select {
		case ev, ok := <-updates:
			if !ok {
				return
			}
			if !s.emit(string(ev.Type), ev.Challenge) {
				return
			}
		case <-s.closed:
			return
		}
	}
}

// shutdown stops producers, waits for them, then drains the writer.
func (s *session) shutdown(producers *sync.WaitGroup) {
	close(s.closed)
	producers.Wait()
	close(s.send)
	<-s.writerDone
}

func (h *WSHandler) serveChallenge(w http.ResponseWriter, r *http.Request, challengeID, userID string) {
	current, err := h.service.Get(r.Context(), challengeID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if _, ok := current.RoleOf(userID); !ok && current.OpponentID != nil {
		writeError(w, h.log, domain.ErrNotParticipant)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	log := h.log.WithFields(logrus.Fields{"challenge_id": challengeID, "user_id": userID})
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates, unsubscribe, err := h.service.Subscribe(ctx, domain.EventFilter{ChallengeID: challengeID})
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: msgError, Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer unsubscribe()

	// Read after subscribing so no transition falls between snapshot and stream.
	snapshot, err := h.service.Get(ctx, challengeID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: msgError, Payload: errorPayload{Message: err.Error()}})
		return
	}

	sess := newSession(conn, log)
	sess.emit(msgSnapshot, snapshot)

	var producers sync.WaitGroup
	producers.Add(2)
	go func() {
		defer producers.Done()
		sess.forward(updates)
	}()
	go func() {
		defer producers.Done()
		h.watch(ctx, sess, challengeID)
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "ready":
			if _, err := h.service.MarkReady(ctx, challengeID, userID); err != nil {
				sess.emitError(err)
			}
		case "finish":
			var payload finishPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || (payload.Score == nil && payload.Answers == nil) {
				sess.emitError(errors.New("invalid finish payload"))
				continue
			}
			var score int
			if payload.Answers != nil {
				score = domain.ScoreAnswers(snapshot.Questions, payload.Answers)
			} else {
				score = *payload.Score
			}
			if _, err := h.service.Finish(ctx, challengeID, userID, score); err != nil {
				sess.emitError(err)
			}
		case "reconcile":
			c, err := h.service.Reconcile(ctx, app.ReconcileRequest{ChallengeID: challengeID})
			if err != nil {
				sess.emitError(err)
				continue
			}
			sess.emit(msgResult, resultPayload{reconcileResponse: newReconcileResponse(c), Challenge: c.Summary()})
		default:
			sess.emitError(errors.New("unsupported message type"))
		}
	}

	cancel()
	sess.shutdown(&producers)
}

// watch drives the waiting room and the results wait for one connection.
func (h *WSHandler) watch(ctx context.Context, sess *session, challengeID string) {
	started, err := h.service.AwaitStart(ctx, challengeID)
	switch {
	case errors.Is(err, domain.ErrReadyTimeout):
		sess.emit(msgReadyTimeout, errorPayload{Message: err.Error()})
		return
	case err != nil:
		if ctx.Err() == nil {
			sess.emitError(err)
		}
		return
	}
	completed := started
	if started.Status != domain.StatusCompleted {
		if !sess.emit(msgStarted, started) {
			return
		}
		if completed, err = h.service.AwaitOutcome(ctx, challengeID); err != nil {
			if ctx.Err() == nil {
				sess.emitError(err)
			}
			return
		}
	}
	sess.emit(msgResult, resultPayload{reconcileResponse: newReconcileResponse(completed), Challenge: completed.Summary()})
}

func (h *WSHandler) serveIncoming(w http.ResponseWriter, r *http.Request, opponentID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates, unsubscribe, err := h.service.Subscribe(ctx, domain.EventFilter{OpponentID: opponentID})
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: msgError, Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer unsubscribe()

	pending, err := h.service.ListIncoming(ctx, opponentID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: msgError, Payload: errorPayload{Message: err.Error()}})
		return
	}
	summaries := make([]domain.Challenge, 0, len(pending))
	for _, c := range pending {
		summaries = append(summaries, c.Summary())
	}

	sess := newSession(conn, h.log.WithField("user_id", opponentID))
	sess.emit(msgSnapshot, summaries)

	var producers sync.WaitGroup
	producers.Add(1)
	go func() {
		defer producers.Done()
		sess.forward(updates)
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		sess.emitError(errors.New("incoming stream is read-only"))
	}

	cancel()
	sess.shutdown(&producers)
}
