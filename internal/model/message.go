package model

import (
	"slices"
	"time"
)

// Verification is the outcome of the server-side signature check on a
// message. It is tri-state because the result is not known while the
// detail is still loading.
type Verification int

const (
	VerificationUnknown Verification = iota
	Verified
	VerificationFailed
)

// String returns the label shown next to a message detail.
func (v Verification) String() string {
	switch v {
	case Verified:
		return "verified"
	case VerificationFailed:
		return "not verified"
	default:
		return "verifying"
	}
}

// VerificationFromFlag maps the optional wire flag onto a Verification.
func VerificationFromFlag(flag *bool) Verification {
	switch {
	case flag == nil:
		return VerificationUnknown
	case *flag:
		return Verified
	default:
		return VerificationFailed
	}
}

// MessageSummary is one inbox row as listed by the server.
type MessageSummary struct {
	ID            int64
	Subject       string
	SenderAddress string
	CreatedAt     time.Time
	ReadAt        *time.Time
}

// Unread reports whether the message has never been marked read.
func (m MessageSummary) Unread() bool {
	return m.ReadAt == nil
}

// AttachmentRef describes an attachment of a received message. The
// bytes are fetched separately, one attachment at a time.
type AttachmentRef struct {
	ID          int64
	Filename    string
	ContentType string
	SizeBytes   int64
}

// MessageDetail is the full content of a single message.
type MessageDetail struct {
	ID            int64
	Subject       string
	Body          string
	SenderAddress string
	Recipients    []string
	CreatedAt     time.Time
	ReadAt        *time.Time
	Verified      Verification
	Attachments   []AttachmentRef
}

// Unread reports whether the message has never been marked read.
func (m MessageDetail) Unread() bool {
	return m.ReadAt == nil
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (m *MessageDetail) Clone() *MessageDetail {
	if m == nil {
		return nil
	}
	c := *m
	c.ReadAt = cloneTime(m.ReadAt)
	c.Recipients = slices.Clone(m.Recipients)
	c.Attachments = slices.Clone(m.Attachments)
	return &c
}

// OutgoingAttachment is a local file prepared for the JSON send
// endpoint. EncodedData holds the base64 text of the raw file bytes.
type OutgoingAttachment struct {
	Filename    string
	ContentType string
	EncodedData string
}

// OutgoingMessage is the payload of a send request.
type OutgoingMessage struct {
	Recipients  []string
	Subject     string
	Body        string
	Attachments []OutgoingAttachment
}

// AttachmentData is a downloaded attachment body.
type AttachmentData struct {
	Filename    string
	ContentType string
	Data        []byte
}

// CloneSummaries copies a listing including its ReadAt pointers.
func CloneSummaries(in []MessageSummary) []MessageSummary {
	if in == nil {
		return nil
	}
	out := make([]MessageSummary, len(in))
	for i, s := range in {
		s.ReadAt = cloneTime(s.ReadAt)
		out[i] = s
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
