package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"challenge-service/internal/domain"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticAddressBook(t *testing.T) {
	book := StaticAddressBook{
		"u1": {Email: "alice@example.com", Name: "Alice"},
		"u2": {Name: "No Mail"},
	}

	addr, err := book.Lookup(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", addr.Email)

	_, err = book.Lookup(context.Background(), "u2")
	assert.ErrorIs(t, err, ErrNoAddress)
	_, err = book.Lookup(context.Background(), "u3")
	assert.ErrorIs(t, err, ErrNoAddress)
}

func TestLogDispatcherWritesEntry(t *testing.T) {
	logger, hook := test.NewNullLogger()
	NewLogDispatcher(logger).Dispatch(context.Background(), domain.Notification{
		UserID: "u1", Kind: domain.KindChallengeWin, Subject: "You won", Body: "3 to 1",
	})

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "3 to 1", entry.Message)
	assert.Equal(t, "u1", entry.Data["user_id"])
}

func TestSendgridDispatcherPostsMail(t *testing.T) {
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer sg-key", r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		bodies <- b
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	d := NewSendgridDispatcher(SendgridConfig{
		APIKey:    "sg-key",
		FromName:  "Challenges",
		FromEmail: "noreply@example.com",
		Host:      srv.URL,
	}, StaticAddressBook{"u1": {Email: "alice@example.com", Name: "Alice"}}, logger)

	d.Dispatch(context.Background(), domain.Notification{
		UserID: "u1", Kind: domain.KindChallengeWin, Subject: "You won a challenge", Body: "You won 3 to 1.",
	})
	d.Wait()

	select {
	case raw := <-bodies:
		var payload struct {
			Personalizations []struct {
				To      []struct{ Email string } `json:"to"`
				Subject string                   `json:"subject"`
			} `json:"personalizations"`
		}
		require.NoError(t, json.NewDecoder(bytes.NewReader(raw)).Decode(&payload))
		require.Len(t, payload.Personalizations, 1)
		assert.Equal(t, "[Challenges] You won a challenge", payload.Personalizations[0].Subject)
		assert.Equal(t, "alice@example.com", payload.Personalizations[0].To[0].Email)
	case <-time.After(2 * time.Second):
		t.Fatal("sendgrid was not called")
	}
}

func TestSendgridDispatcherSkipsUnknownUser(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	d := NewSendgridDispatcher(SendgridConfig{APIKey: "k", Host: srv.URL}, StaticAddressBook{}, logger)
	d.Dispatch(context.Background(), domain.Notification{UserID: "ghost", Kind: domain.KindLeaderboardReward})
	d.Wait()

	assert.False(t, called)
}
