package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nhle/securemail/internal/model"
)

// Timestamp accepts RFC 3339 values as well as the naive ISO-8601
// datetimes the backend emits for UTC columns.
type Timestamp struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// ptr converts an optional wire timestamp into a model pointer.
func (t *Timestamp) ptr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status string `json:"status"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	TOTPURI string `json:"totp_uri"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TOTPCode string `json:"totp_code"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type messageListItem struct {
	ID          int64      `json:"id"`
	Subject     string     `json:"subject"`
	SenderEmail string     `json:"sender_email"`
	CreatedAt   Timestamp  `json:"created_at"`
	ReadAt      *Timestamp `json:"read_at"`
}

func (m messageListItem) toModel() model.MessageSummary {
	return model.MessageSummary{
		ID:            m.ID,
		Subject:       m.Subject,
		SenderAddress: m.SenderEmail,
		CreatedAt:     m.CreatedAt.Time,
		ReadAt:        m.ReadAt.ptr(),
	}
}

type attachmentMeta struct {
	ID          int64  `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

type messageDetail struct {
	ID          int64            `json:"id"`
	Subject     string           `json:"subject"`
	Body        string           `json:"body"`
	SenderEmail string           `json:"sender_email"`
	CreatedAt   Timestamp        `json:"created_at"`
	Recipients  []string         `json:"recipients"`
	Verified    *bool            `json:"verified"`
	ReadAt      *Timestamp       `json:"read_at"`
	Attachments []attachmentMeta `json:"attachments"`
}

func (m messageDetail) toModel() *model.MessageDetail {
	d := &model.MessageDetail{
		ID:            m.ID,
		Subject:       m.Subject,
		Body:          m.Body,
		SenderAddress: m.SenderEmail,
		Recipients:    m.Recipients,
		CreatedAt:     m.CreatedAt.Time,
		ReadAt:        m.ReadAt.ptr(),
		Verified:      model.VerificationFromFlag(m.Verified),
	}
	for _, a := range m.Attachments {
		d.Attachments = append(d.Attachments, model.AttachmentRef{
			ID:          a.ID,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			SizeBytes:   a.Size,
		})
	}
	return d
}

type attachmentCreate struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	DataBase64  string `json:"data_base64"`
}

type messageCreate struct {
	Recipients  []string           `json:"recipients"`
	Subject     string             `json:"subject"`
	Body        string             `json:"body"`
	Attachments []attachmentCreate `json:"attachments"`
}

func newMessageCreate(msg model.OutgoingMessage) messageCreate {
	req := messageCreate{
		Recipients:  msg.Recipients,
		Subject:     msg.Subject,
		Body:        msg.Body,
		Attachments: make([]attachmentCreate, 0, len(msg.Attachments)),
	}
	for _, a := range msg.Attachments {
		req.Attachments = append(req.Attachments, attachmentCreate{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			DataBase64:  a.EncodedData,
		})
	}
	return req
}

type sendResponse struct {
	ID int64 `json:"id"`
}
