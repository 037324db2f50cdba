package questions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"challenge-service/internal/domain"

	"github.com/sirupsen/logrus"
)

// HTTPGenerator calls the external question generation endpoint.
type HTTPGenerator struct {
	url    string
	token  string
	client *http.Client
	log    logrus.FieldLogger
}

func NewHTTPGenerator(url, token string, timeout time.Duration, log logrus.FieldLogger) *HTTPGenerator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPGenerator{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

type generateBody struct {
	Subject         string            `json:"subject"`
	DurationSeconds int               `json:"durationSeconds"`
	HostStreak      int               `json:"hostStreak"`
	QuestionCount   int               `json:"questionCount"`
	Difficulty      domain.Difficulty `json:"difficulty"`
}

// rawQuestion accepts both answer index spellings seen in generated payloads.
type rawQuestion struct {
	Question         string   `json:"question"`
	Options          []string `json:"options"`
	AnswerIndex      *int     `json:"answer_index"`
	AnswerIndexCamel *int     `json:"answerIndex"`
	Explanation      string   `json:"explanation"`
}

type generateResponse struct {
	Questions []rawQuestion `json:"questions"`
}

func (g *HTTPGenerator) Generate(ctx context.Context, req domain.GenerateRequest) (domain.QuestionSet, error) {
	count, difficulty := target(req)

	payload, err := json.Marshal(generateBody{
		Subject:         req.Subject,
		DurationSeconds: req.DurationSeconds,
		HostStreak:      req.HostStreak,
		QuestionCount:   count,
		Difficulty:      difficulty,
	})
	if err != nil {
		return domain.QuestionSet{}, fmt.Errorf("marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return domain.QuestionSet{}, fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return domain.QuestionSet{}, fmt.Errorf("call question generator: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.QuestionSet{}, fmt.Errorf("question generator returned %d: %s", resp.StatusCode, body)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.QuestionSet{}, fmt.Errorf("decode generated questions: %w", err)
	}

	qs := domain.SanitizeQuestions(toQuestions(out.Questions))
	if len(qs) == 0 {
		return domain.QuestionSet{}, domain.ErrNoQuestions
	}
	if len(qs) > count {
		qs = qs[:count]
	}
	if len(qs) < count {
		g.log.WithFields(logrus.Fields{
			"subject":  req.Subject,
			"wanted":   count,
			"received": len(qs),
		}).Warn("question generator returned fewer questions than requested")
	}

	return domain.QuestionSet{Questions: qs, Difficulty: difficulty, QuestionCount: len(qs)}, nil
}

func toQuestions(raw []rawQuestion) []domain.Question {
	out := make([]domain.Question, 0, len(raw))
	for _, r := range raw {
		answer := 0
		switch {
		case r.AnswerIndex != nil:
			answer = *r.AnswerIndex
		case r.AnswerIndexCamel != nil:
			answer = *r.AnswerIndexCamel
		}
		out = append(out, domain.Question{
			Question:    r.Question,
			Options:     r.Options,
			AnswerIndex: answer,
			Explanation: r.Explanation,
		})
	}
	return out
}
