package threads

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/civiclens/civiclens/internal/model"
)

func newTestReplier(t *testing.T, baseURL, template string) *Replier {
	t.Helper()
	replier, err := NewReplier(model.ThreadsConfig{
		BaseURL:     baseURL,
		UserID:      "user-1",
		AccessToken: "test-token",
		Timeout:     5 * time.Second,
	}, template, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewReplier failed: %v", err)
	}
	return replier
}

func TestSendReply_TwoStepFlow(t *testing.T) {
	var createForm, publishForm map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		form := map[string]string{}
		for key := range r.PostForm {
			form[key] = r.PostForm.Get(key)
		}
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/user-1/threads":
			createForm = form
			w.Write([]byte(`{"id":"container-9"}`))
		case "/user-1/threads_publish":
			publishForm = form
			w.Write([]byte(`{"id":"media-42"}`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	replier := newTestReplier(t, server.URL, "Tracking as {{issue}}.")

	mediaID, err := replier.SendReply(context.Background(), "t1", "ISSUE-0007")
	if err != nil {
		t.Fatalf("SendReply failed: %v", err)
	}
	if mediaID != "media-42" {
		t.Errorf("expected published media id, got %q", mediaID)
	}

	if createForm["media_type"] != "TEXT" {
		t.Errorf("expected TEXT media type, got %q", createForm["media_type"])
	}
	if createForm["reply_to_id"] != "t1" {
		t.Errorf("expected reply_to_id=t1, got %q", createForm["reply_to_id"])
	}
	if createForm["text"] != "Tracking as ISSUE-0007." {
		t.Errorf("unexpected reply text: %q", createForm["text"])
	}
	if publishForm["creation_id"] != "container-9" {
		t.Errorf("expected creation_id from create step, got %q", publishForm["creation_id"])
	}
}

func TestSendReply_CreateFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"reply_to_id is invalid"}}`))
	}))
	defer server.Close()

	replier := newTestReplier(t, server.URL, "")

	_, err := replier.SendReply(context.Background(), "t1", "ISSUE-0001")
	if err == nil {
		t.Fatal("expected error when container creation fails")
	}
	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("expected *DispatchError, got %T: %v", err, err)
	}
	if dispatchErr.Stage != StageCreate {
		t.Errorf("expected create stage, got %q", dispatchErr.Stage)
	}
}

func TestSendReply_PublishFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/threads_publish") {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"message":"publish backend unavailable"}}`))
			return
		}
		w.Write([]byte(`{"id":"container-9"}`))
	}))
	defer server.Close()

	replier := newTestReplier(t, server.URL, "")

	_, err := replier.SendReply(context.Background(), "t1", "ISSUE-0001")
	if err == nil {
		t.Fatal("expected error when publish fails")
	}
	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("expected *DispatchError, got %T: %v", err, err)
	}
	if dispatchErr.Stage != StagePublish {
		t.Errorf("expected publish stage, got %q", dispatchErr.Stage)
	}
}

func TestRenderReply_DefaultTemplate(t *testing.T) {
	replier := newTestReplier(t, "http://unused", "")

	text := replier.RenderReply("ISSUE-0031")
	if !strings.Contains(text, "ISSUE-0031") {
		t.Errorf("expected issue id in rendered reply, got %q", text)
	}
	if strings.Contains(text, IssuePlaceholder) {
		t.Errorf("placeholder left unexpanded: %q", text)
	}
}
