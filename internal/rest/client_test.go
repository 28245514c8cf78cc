package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/chatsync/pkg/models"
)

func TestErrorClass(t *testing.T) {
	tests := []struct {
		name   string
		err    *APIError
		expect ErrorClass
	}{
		{"unauthorized", &APIError{StatusCode: 401}, ClassUnauthorized},
		{"forbidden", &APIError{StatusCode: 403}, ClassForbidden},
		{"not found", &APIError{StatusCode: 404}, ClassNotFound},
		{"conflict is validation", &APIError{StatusCode: 409}, ClassValidation},
		{"bad request is validation", &APIError{StatusCode: 400}, ClassValidation},
		{"server error is generic", &APIError{StatusCode: 500}, ClassGeneric},
		{"network failure is generic", &APIError{Err: errors.New("dial refused")}, ClassGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Class(); got != tt.expect {
				t.Errorf("Class() = %s, want %s", got, tt.expect)
			}
		})
	}
}

func TestClassifyWrappedError(t *testing.T) {
	wrapped := errors.Join(errors.New("outer"), &APIError{StatusCode: 401})
	if got := Classify(wrapped); got != ClassUnauthorized {
		t.Errorf("Classify(wrapped) = %s, want unauthorized", got)
	}
	if got := Classify(errors.New("plain")); got != ClassGeneric {
		t.Errorf("Classify(plain) = %s, want generic", got)
	}
}

func TestCreateMessageRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/conversations/c1/messages" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Content string `json:"content"`
			Type    string `json:"type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("request body: %v", err)
		}
		if body.Content != "hello" || body.Type != "text" {
			t.Errorf("body = %+v", body)
		}
		json.NewEncoder(w).Encode(models.Message{
			ID:             "m-server",
			ConversationID: "c1",
			Content:        body.Content,
			Type:           models.MessageText,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), nil, nil)
	msg, err := c.CreateMessage(context.Background(), "c1", "hello", models.MessageText)
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if msg.ID != "m-server" {
		t.Fatalf("id = %q, want server-assigned m-server", msg.ID)
	}
}

func TestErrorResponseCarriesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"friend request already pending"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), nil, nil)
	_, err := c.CreateFriendRequest(context.Background(), "bob")
	if err == nil {
		t.Fatal("CreateFriendRequest succeeded against 409")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.Class() != ClassValidation {
		t.Fatalf("class = %s, want validation", apiErr.Class())
	}
	if apiErr.Message != "friend request already pending" {
		t.Fatalf("message = %q", apiErr.Message)
	}
}

func TestAvatarNotFoundIsResolvedAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), nil, nil)
	url, err := c.Avatar(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Avatar: %v", err)
	}
	if url != nil {
		t.Fatalf("url = %v, want nil for a user without an avatar", *url)
	}
}

func TestAvatarReturnsURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/alice/avatar" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"avatar":"https://cdn/alice.png"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), nil, nil)
	url, err := c.Avatar(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Avatar: %v", err)
	}
	if url == nil || *url != "https://cdn/alice.png" {
		t.Fatalf("url = %v", url)
	}
}

func TestSearchUsersEscapesQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), nil, nil)
	if _, err := c.SearchUsers(context.Background(), "a b&c"); err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if gotQuery != "a b&c" {
		t.Fatalf("query = %q, want a b&c", gotQuery)
	}
}

func TestBaseURLTrailingSlashNormalized(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", srv.Client(), nil, nil)
	if _, err := c.Friends(context.Background()); err != nil {
		t.Fatalf("Friends: %v", err)
	}
	if gotPath != "/friends" {
		t.Fatalf("path = %q, want /friends", gotPath)
	}
}
