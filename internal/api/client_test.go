package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatsync/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	c := New(Options{BaseURL: ts.URL + "/api/", Timeout: 5 * time.Second})
	c.SetToken("tok")
	return c, ts
}

func TestClient_SendsBearerAndDecodes(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations/mine" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer header, got %q", got)
		}
		_, _ = io.WriteString(w, `[{"_id":"c1","participants":[{"_id":"u1","name":"Ana"}]}]`)
	})

	convs, err := c.Conversations(context.Background())
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != "c1" || !convs[0].HasParticipant("u1") {
		t.Fatalf("unexpected conversations %+v", convs)
	}
}

func TestClient_UnauthorizedRunsHook(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	called := 0
	c.SetOnUnauthorized(func() { called++ })

	_, err := c.Profile(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if called != 1 {
		t.Fatalf("expected hook to run once, ran %d", called)
	}
}

func TestClient_StatusError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	})

	err := c.SendFriendRequest(context.Background(), "u2")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != http.StatusBadRequest || se.Body != "nope" || se.Method != http.MethodPost {
		t.Fatalf("unexpected status error %+v", se)
	}
}

func TestClient_JSONBodies(t *testing.T) {
	var got map[string]string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations/create-private" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = io.WriteString(w, `{"_id":"c9"}`)
	})

	conv, err := c.CreatePrivateConversation(context.Background(), "u2")
	if err != nil {
		t.Fatalf("CreatePrivateConversation: %v", err)
	}
	if conv.ID != "c9" || got["friendId"] != "u2" {
		t.Fatalf("unexpected result %+v body %v", conv, got)
	}
}

func TestClient_SendMessageMultipart(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		if r.FormValue("text") != "hi" {
			t.Errorf("unexpected text %q", r.FormValue("text"))
		}
		files := r.MultipartForm.File["files"]
		if len(files) != 2 || files[0].Filename != "a.txt" {
			t.Errorf("unexpected files %+v", files)
		}
		_ = json.NewEncoder(w).Encode(model.Message{ID: "m1", ConversationID: "c1", Text: "hi"})
	})

	msg, err := c.SendMessage(context.Background(), "c1", OutgoingMessage{
		Text: "hi",
		Files: []Attachment{
			{Name: "a.txt", Content: strings.NewReader("a")},
			{Name: "b.txt", Content: strings.NewReader("b")},
		},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.ID != "m1" {
		t.Fatalf("expected server-assigned id, got %q", msg.ID)
	}
}

func TestClient_UploadAvatar(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("avatar")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		if hdr.Filename != "me.png" {
			t.Errorf("unexpected filename %q", hdr.Filename)
		}
		_, _ = io.WriteString(w, `{"avatar":"/uploads/me.png"}`)
	})

	path, err := c.UploadAvatar(context.Background(), "me.png", strings.NewReader("png"))
	if err != nil {
		t.Fatalf("UploadAvatar: %v", err)
	}
	if path != "/uploads/me.png" {
		t.Fatalf("unexpected avatar path %q", path)
	}
}
