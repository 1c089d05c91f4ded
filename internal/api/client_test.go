package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nhle/securemail/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL + "/")
}

func TestHealth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("health probe must not carry credentials")
		}
		if r.Header.Get(RequestIDHeader) == "" {
			t.Error("missing request id")
		}
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	})

	status, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if status != "ok" {
		t.Errorf("status = %q", status)
	}
}

func TestLoginSendsCredentialsAndReturnsToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth/login" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if body["email"] != "alice@smail.com" || body["password"] != "s3cret-pass" || body["totp_code"] != "123456" {
			t.Errorf("unexpected body %v", body)
		}
		_, _ = io.WriteString(w, `{"access_token":"tok-1","token_type":"bearer"}`)
	})

	token, err := c.Login(context.Background(), "alice@smail.com", "s3cret-pass", "123456")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token != "tok-1" {
		t.Errorf("token = %q", token)
	}
}

func TestLoginRejectedIsProtocolNotUnauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"Invalid credentials"}`)
	})

	_, err := c.Login(context.Background(), "a@smail.com", "password1", "000000")
	if err == nil {
		t.Fatal("expected error")
	}
	if IsUnauthorized(err) {
		t.Error("a rejected login carries no token and must not look like an expired session")
	}
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError, got %T", err)
	}
	if perr.Status != http.StatusUnauthorized || perr.Message != "Invalid credentials" {
		t.Errorf("got %+v", perr)
	}
}

func TestRegisterReturnsTOTPURI(t *testing.T) {
	const uri = "otpauth://totp/SecureMail:bob%40smail.com?secret=ABC&issuer=SecureMail"
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"user":{"id":1,"email":"bob@smail.com"},"totp_uri":"`+uri+`"}`)
	})

	got, err := c.Register(context.Background(), "bob@smail.com", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got != uri {
		t.Errorf("uri = %q", got)
	}
}

func TestRegisterValidationErrorIsNormalized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"detail":[{"loc":["body","email"],"msg":"value is not a valid email address"}]}`)
	})

	_, err := c.Register(context.Background(), "nope", "password123")
	if err == nil || err.Error() != "value is not a valid email address" {
		t.Fatalf("err = %v", err)
	}
}

func TestMailboxCallsWithoutTokenNeverHitTheNetwork(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	})
	ctx := context.Background()

	if _, err := c.ListMessages(ctx, ""); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("ListMessages err = %v", err)
	}
	if _, err := c.GetMessage(ctx, "", 1); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("GetMessage err = %v", err)
	}
	if _, err := c.SendMessage(ctx, "", model.OutgoingMessage{}); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("SendMessage err = %v", err)
	}
	if err := c.MarkRead(ctx, "", 1); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("MarkRead err = %v", err)
	}
	if err := c.MarkUnread(ctx, "", 1); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("MarkUnread err = %v", err)
	}
	if err := c.DeleteMessage(ctx, "", 1); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("DeleteMessage err = %v", err)
	}
	if _, err := c.DownloadAttachment(ctx, "", 1); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("DownloadAttachment err = %v", err)
	}
	if n := hits.Load(); n != 0 {
		t.Errorf("server saw %d requests, want 0", n)
	}
}

func TestListMessagesParsesNaiveTimestamps(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		_, _ = io.WriteString(w, `[
			{"id": 2, "subject": "newer", "sender_email": "a@smail.com", "created_at": "2025-03-01T10:00:00.123456", "read_at": null},
			{"id": 1, "subject": "older", "sender_email": "b@smail.com", "created_at": "2025-02-28T09:00:00Z", "read_at": "2025-02-28T09:30:00"}
		]`)
	})

	items, err := c.ListMessages(context.Background(), "tok")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d", len(items))
	}
	if items[0].ID != 2 || items[1].ID != 1 {
		t.Error("server order must be preserved")
	}
	if !items[0].Unread() || items[1].Unread() {
		t.Error("unexpected read state")
	}
	want := time.Date(2025, 3, 1, 10, 0, 0, 123456000, time.UTC)
	if !items[0].CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", items[0].CreatedAt, want)
	}
}

func TestUnauthorizedWithTokenIsClassified(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"Could not validate credentials"}`)
	})

	_, err := c.ListMessages(context.Background(), "stale")
	if !IsUnauthorized(err) {
		t.Fatalf("expected UnauthorizedError, got %v", err)
	}
	if err.Error() != "Could not validate credentials" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestGetMessageMapsDetail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/messages/9" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{
			"id": 9, "subject": "hi", "body": "hello", "sender_email": "a@smail.com",
			"created_at": "2025-03-01T10:00:00", "recipients": ["b@smail.com"],
			"verified": true, "read_at": null,
			"attachments": [{"id": 4, "filename": "a.pdf", "content_type": "application/pdf", "size": 2048}]
		}`)
	})

	d, err := c.GetMessage(context.Background(), "tok", 9)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if d.Verified != model.Verified {
		t.Errorf("Verified = %v", d.Verified)
	}
	if !d.Unread() {
		t.Error("expected unread")
	}
	if len(d.Attachments) != 1 || d.Attachments[0].SizeBytes != 2048 || d.Attachments[0].ID != 4 {
		t.Errorf("attachments = %+v", d.Attachments)
	}
}

func TestSendMessagePayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Recipients  []string `json:"recipients"`
			Subject     string   `json:"subject"`
			Body        string   `json:"body"`
			Attachments []struct {
				Filename    string `json:"filename"`
				ContentType string `json:"content_type"`
				DataBase64  string `json:"data_base64"`
			} `json:"attachments"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding: %v", err)
		}
		if len(body.Recipients) != 2 || body.Subject != "s" || body.Body != "b" {
			t.Errorf("unexpected body %+v", body)
		}
		if len(body.Attachments) != 1 || body.Attachments[0].DataBase64 != "aGk=" {
			t.Errorf("unexpected attachments %+v", body.Attachments)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id": 77, "subject": "s"}`)
	})

	id, err := c.SendMessage(context.Background(), "tok", model.OutgoingMessage{
		Recipients: []string{"a@smail.com", "b@smail.com"},
		Subject:    "s",
		Body:       "b",
		Attachments: []model.OutgoingAttachment{
			{Filename: "hi.txt", ContentType: "text/plain", EncodedData: "aGk="},
		},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if id != 77 {
		t.Errorf("id = %d", id)
	}
}

func TestSendMessageWithoutAttachmentsSendsEmptyList(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding: %v", err)
		}
		if string(body["attachments"]) != "[]" {
			t.Errorf("attachments = %s, want []", body["attachments"])
		}
		_, _ = io.WriteString(w, `{"id": 1}`)
	})

	if _, err := c.SendMessage(context.Background(), "tok", model.OutgoingMessage{
		Recipients: []string{"a@smail.com"},
		Subject:    "s",
	}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
}

func TestMutationsHitExpectedEndpoints(t *testing.T) {
	var seen []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = io.WriteString(w, `{"status":"read"}`)
	})
	ctx := context.Background()

	if err := c.MarkRead(ctx, "tok", 3); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if err := c.MarkUnread(ctx, "tok", 3); err != nil {
		t.Fatalf("MarkUnread: %v", err)
	}
	if err := c.DeleteMessage(ctx, "tok", 3); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}

	want := []string{
		"POST /api/messages/3/read",
		"POST /api/messages/3/unread",
		"DELETE /api/messages/3",
	}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("request %d = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestDownloadAttachmentReadsHeaders(t *testing.T) {
	payload := []byte{0x00, 0xff, 0x10, 0x80, 'P', 'D', 'F'}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/attachments/4" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename*=UTF-8''na%C3%AFve%20report.pdf`)
		_, _ = w.Write(payload)
	})

	data, err := c.DownloadAttachment(context.Background(), "tok", 4)
	if err != nil {
		t.Fatalf("DownloadAttachment: %v", err)
	}
	if string(data.Data) != string(payload) {
		t.Errorf("data = %v", data.Data)
	}
	if data.Filename != "naïve report.pdf" {
		t.Errorf("filename = %q", data.Filename)
	}
	if data.ContentType != "application/pdf" {
		t.Errorf("content type = %q", data.ContentType)
	}
}

func TestNetworkErrorWhenServerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(url)
	_, err := c.Health(context.Background())
	if !IsNetwork(err) {
		t.Fatalf("expected NetworkError, got %T %v", err, err)
	}
}

func TestUndecodableSuccessBodyIsProtocolError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>proxy page</html>")
	})

	_, err := c.Health(context.Background())
	if !IsProtocol(err) {
		t.Fatalf("expected ProtocolError, got %T %v", err, err)
	}
}
