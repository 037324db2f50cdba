package http

import (
	"context"
	"net/http"

	"challenge-service/internal/app"
	"challenge-service/internal/domain"

	"github.com/sirupsen/logrus"
)

// Middleware wraps a route handler; route is a stable label such as "accept_challenge".
type Middleware func(route string, next http.Handler) http.Handler

// Handler serves the challenge REST API.
type Handler struct {
	service   *app.ChallengeService
	generator app.QuestionGenerator
	validate  *requestValidator
	log       logrus.FieldLogger
}

func NewHandler(service *app.ChallengeService, generator app.QuestionGenerator, log logrus.FieldLogger) *Handler {
	return &Handler{
		service:   service,
		generator: generator,
		validate:  newRequestValidator(),
		log:       log,
	}
}

// Register mounts every REST route on mux. A nil middleware mounts the handlers as-is.
func (h *Handler) Register(mux *http.ServeMux, mw Middleware) {
	if mw == nil {
		mw = func(_ string, next http.Handler) http.Handler { return next }
	}
	route := func(pattern, name string, fn http.HandlerFunc) {
		mux.Handle(pattern, mw(name, fn))
	}

	route("POST /v1/challenges", "create_challenge", h.create)
	route("GET /v1/challenges/{id}", "get_challenge", h.get)
	route("POST /v1/challenges/{id}/accept", "accept_challenge", h.transition(h.service.Accept))
	route("POST /v1/challenges/{id}/decline", "decline_challenge", h.transition(h.service.Decline))
	route("POST /v1/challenges/{id}/cancel", "cancel_challenge", h.transition(h.service.Cancel))
	route("POST /v1/challenges/{id}/ready", "ready_challenge", h.transition(h.service.MarkReady))
	route("POST /v1/challenges/{id}/finish", "finish_challenge", h.finish)
	route("POST /v1/reconcile", "reconcile", h.reconcile)
	route("POST /v1/questions/generate", "generate_questions", h.generate)
	route("GET /v1/users/{id}/challenges/incoming", "incoming_challenges", h.incoming)
	route("GET /v1/users/{id}/stats", "user_stats", h.stats)
}

type createRequest struct {
	HostID          string `json:"hostId" validate:"required,notblank"`
	OpponentID      string `json:"opponentId"`
	Subject         string `json:"subject" validate:"required,notblank,max=120"`
	DurationSeconds int    `json:"durationSeconds" validate:"required,min=1,max=3600"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, h.log, err)
		return
	}
	c, err := h.service.Create(r.Context(), app.CreateRequest{
		HostID:          req.HostID,
		OpponentID:      req.OpponentID,
		Subject:         req.Subject,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type userRequest struct {
	UserID string `json:"userId" validate:"required,notblank"`
}

func (h *Handler) transition(op func(ctx context.Context, id, userID string) (domain.Challenge, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req userRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, h.log, err)
			return
		}
		if err := h.validate.Struct(req); err != nil {
			writeError(w, h.log, err)
			return
		}
		c, err := op(r.Context(), r.PathValue("id"), req.UserID)
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		writeJSON(w, http.StatusOK, c.Summary())
	}
}

type finishRequest struct {
	UserID  string `json:"userId" validate:"required,notblank"`
	Score   *int   `json:"score" validate:"required_without=Answers"`
	Answers []int  `json:"answers" validate:"required_without=Score"`
}

func (h *Handler) finish(w http.ResponseWriter, r *http.Request) {
	var req finishRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, h.log, err)
		return
	}
	id := r.PathValue("id")
	score, err := h.resolveScore(r, id, req.Score, req.Answers)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	c, err := h.service.Finish(r.Context(), id, req.UserID, score)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Summary())
}

// resolveScore prefers server-side scoring of submitted answers over a client-reported score.
func (h *Handler) resolveScore(r *http.Request, id string, score *int, answers []int) (int, error) {
	if answers == nil {
		return *score, nil
	}
	c, err := h.service.Get(r.Context(), id)
	if err != nil {
		return 0, err
	}
	return domain.ScoreAnswers(c.Questions, answers), nil
}

type reconcileRequest struct {
	ChallengeID   string `json:"challengeId" validate:"required,notblank"`
	HostScore     *int   `json:"hostScore" validate:"omitempty,min=0"`
	OpponentScore *int   `json:"opponentScore" validate:"omitempty,min=0"`
}

type reconcileResponse struct {
	Success       bool    `json:"success"`
	WinnerID      *string `json:"winnerId"`
	IsDraw        bool    `json:"isDraw"`
	HostScore     int     `json:"hostScore"`
	OpponentScore int     `json:"opponentScore"`
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, h.log, err)
		return
	}
	c, err := h.service.Reconcile(r.Context(), app.ReconcileRequest{
		ChallengeID:   req.ChallengeID,
		HostScore:     req.HostScore,
		OpponentScore: req.OpponentScore,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newReconcileResponse(c))
}

func newReconcileResponse(c domain.Challenge) reconcileResponse {
	outcome := c.Outcome()
	return reconcileResponse{
		Success:       true,
		WinnerID:      outcome.WinnerID,
		IsDraw:        outcome.IsDraw,
		HostScore:     outcome.HostScore,
		OpponentScore: outcome.OpponentScore,
	}
}

type generateRequest struct {
	Subject         string `json:"subject" validate:"required,notblank,max=120"`
	DurationSeconds int    `json:"durationSeconds" validate:"required,min=1,max=3600"`
	HostStreak      int    `json:"hostStreak" validate:"min=0"`
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, h.log, err)
		return
	}
	set, err := h.generator.Generate(r.Context(), domain.GenerateRequest{
		Subject:         req.Subject,
		DurationSeconds: req.DurationSeconds,
		HostStreak:      req.HostStreak,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (h *Handler) incoming(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListIncoming(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	out := make([]domain.Challenge, 0, len(list))
	for _, c := range list {
		out = append(out, c.Summary())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Stats(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
