package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/securemail/internal/model"
)

const (
	pathHealth      = "/api/health"
	pathRegister    = "/api/auth/register"
	pathLogin       = "/api/auth/login"
	pathMessages    = "/api/messages"
	pathAttachments = "/api/attachments"
)

// Health queries the unauthenticated liveness endpoint and returns the
// reported status value.
func (c *Client) Health(ctx context.Context) (string, error) {
	var resp HealthResponse
	if err := c.Get(ctx, pathHealth, "", &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// Register creates an account and returns the TOTP provisioning URI the
// user must enroll in an authenticator app.
func (c *Client) Register(
	ctx context.Context,
	email string,
	password string,
) (string, error) {
	var resp registerResponse
	err := c.Post(ctx, pathRegister, "", registerRequest{
		Email:    email,
		Password: password,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.TOTPURI == "" {
		return "", &ProtocolError{Message: "registration response did not include a TOTP URI"}
	}
	return resp.TOTPURI, nil
}

// Login exchanges credentials and a one-time code for a bearer token.
func (c *Client) Login(
	ctx context.Context,
	email string,
	password string,
	code string,
) (string, error) {
	var resp tokenResponse
	err := c.Post(ctx, pathLogin, "", loginRequest{
		Email:    email,
		Password: password,
		TOTPCode: code,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", &ProtocolError{Message: "login response did not include a token"}
	}
	return resp.AccessToken, nil
}

// ListMessages returns the inbox in server order.
func (c *Client) ListMessages(
	ctx context.Context,
	token string,
) ([]model.MessageSummary, error) {
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	var items []messageListItem
	if err := c.Get(ctx, pathMessages, token, &items); err != nil {
		return nil, err
	}

	out := make([]model.MessageSummary, 0, len(items))
	for _, it := range items {
		out = append(out, it.toModel())
	}
	return out, nil
}

// GetMessage fetches the full detail of one message.
func (c *Client) GetMessage(
	ctx context.Context,
	token string,
	id int64,
) (*model.MessageDetail, error) {
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp messageDetail
	if err := c.Get(ctx, messagePath(id), token, &resp); err != nil {
		return nil, err
	}
	return resp.toModel(), nil
}

// SendMessage submits a new message and returns its server-assigned id.
func (c *Client) SendMessage(
	ctx context.Context,
	token string,
	msg model.OutgoingMessage,
) (int64, error) {
	if token == "" {
		return 0, ErrNotAuthenticated
	}

	var resp sendResponse
	if err := c.Post(ctx, pathMessages, token, newMessageCreate(msg), &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// MarkRead records a read receipt for the message.
func (c *Client) MarkRead(ctx context.Context, token string, id int64) error {
	if token == "" {
		return ErrNotAuthenticated
	}
	return c.Post(ctx, messagePath(id)+"/read", token, nil, nil)
}

// MarkUnread clears the read receipt of the message.
func (c *Client) MarkUnread(ctx context.Context, token string, id int64) error {
	if token == "" {
		return ErrNotAuthenticated
	}
	return c.Post(ctx, messagePath(id)+"/unread", token, nil, nil)
}

// DeleteMessage removes the message from the caller's inbox.
func (c *Client) DeleteMessage(ctx context.Context, token string, id int64) error {
	if token == "" {
		return ErrNotAuthenticated
	}
	return c.Delete(ctx, messagePath(id), token, nil)
}

// DownloadAttachment fetches the raw bytes of one attachment. The
// filename and content type come from the response headers.
func (c *Client) DownloadAttachment(
	ctx context.Context,
	token string,
	id int64,
) (*model.AttachmentData, error) {
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	raw, err := c.GetRaw(ctx, fmt.Sprintf("%s/%d", pathAttachments, id), token)
	if err != nil {
		return nil, err
	}

	var h mail.AttachmentHeader
	if cd := raw.Header.Get("Content-Disposition"); cd != "" {
		h.Set("Content-Disposition", cd)
	}
	if ct := raw.Header.Get("Content-Type"); ct != "" {
		h.Set("Content-Type", ct)
	}

	data := &model.AttachmentData{Data: raw.Body}
	if name, err := h.Filename(); err == nil {
		data.Filename = strings.TrimSpace(name)
	}
	if mediaType, _, err := h.ContentType(); err == nil {
		data.ContentType = mediaType
	}
	return data, nil
}

func messagePath(id int64) string {
	return fmt.Sprintf("%s/%d", pathMessages, id)
}
