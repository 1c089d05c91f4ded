// Package attachment moves files through the JSON transport: base64 on
// the way out, bytes-to-disk on the way in.
package attachment

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/nhle/securemail/internal/api"
	"github.com/nhle/securemail/internal/model"
)

const (
	// DefaultContentType is used when the extension says nothing.
	DefaultContentType = "application/octet-stream"

	fallbackName = "attachment"

	// maxNameBytes leaves room under the usual 255 byte limit for the
	// " (n)" suffix added on collisions.
	maxNameBytes = 200
	maxExtBytes  = 16
)

// Codec encodes outgoing files and saves downloaded ones. It also holds
// the single pending attachment of the compose form.
type Codec struct {
	downloadDir string
	log         zerolog.Logger

	mu      sync.Mutex
	pending *model.OutgoingAttachment
}

// New returns a codec that saves downloads under downloadDir.
func New(downloadDir string, log zerolog.Logger) *Codec {
	return &Codec{downloadDir: downloadDir, log: log}
}

// DownloadDir returns where DecodeForDownload writes files.
func (c *Codec) DownloadDir() string {
	return c.downloadDir
}

// Encode reads the file at path and returns it ready for sending.
func (c *Codec) Encode(ctx context.Context, path string) (model.OutgoingAttachment, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.OutgoingAttachment{}, fmt.Errorf("opening attachment: %w", err)
	}
	defer f.Close()

	return c.EncodeReader(ctx, filepath.Base(path), "", f)
}

// EncodeReader encodes everything r yields. An empty contentType is
// derived from the name's extension.
func (c *Codec) EncodeReader(
	ctx context.Context,
	name string,
	contentType string,
	r io.Reader,
) (model.OutgoingAttachment, error) {
	if err := ctx.Err(); err != nil {
		return model.OutgoingAttachment{}, err
	}

	var b strings.Builder
	enc := base64.NewEncoder(base64.StdEncoding, &b)
	n, err := io.Copy(enc, r)
	if err != nil {
		return model.OutgoingAttachment{}, fmt.Errorf("reading attachment %s: %w", name, err)
	}
	if err := enc.Close(); err != nil {
		return model.OutgoingAttachment{}, fmt.Errorf("encoding attachment %s: %w", name, err)
	}
	if err := ctx.Err(); err != nil {
		return model.OutgoingAttachment{}, err
	}

	if contentType == "" {
		contentType = ContentTypeFor(name)
	}

	c.log.Debug().
		Str("filename", name).
		Str("content_type", contentType).
		Int64("bytes", n).
		Msg("attachment encoded")

	return model.OutgoingAttachment{
		Filename:    name,
		ContentType: contentType,
		EncodedData: b.String(),
	}, nil
}

// Attach encodes the file at path and makes it the pending attachment,
// replacing any previous one. A blank path clears the slot.
func (c *Codec) Attach(ctx context.Context, path string) (model.OutgoingAttachment, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		c.Clear()
		return model.OutgoingAttachment{}, nil
	}

	att, err := c.Encode(ctx, model.ExpandPath(path))
	if err != nil {
		return model.OutgoingAttachment{}, err
	}

	c.mu.Lock()
	c.pending = &att
	c.mu.Unlock()
	return att, nil
}

// Pending returns the pending attachment, if any, as a zero or one
// element slice.
func (c *Codec) Pending() []model.OutgoingAttachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return []model.OutgoingAttachment{}
	}
	return []model.OutgoingAttachment{*c.pending}
}

// Clear empties the pending slot.
func (c *Codec) Clear() {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
}

// Decode reverses the transport encoding.
func Decode(att model.OutgoingAttachment) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(att.EncodedData)
	if err != nil {
		return nil, &api.ValidationError{
			Field:   "attachment",
			Message: fmt.Sprintf("%s is not valid base64", att.Filename),
		}
	}
	return data, nil
}

// DecodeForDownload writes raw into the download directory under a name
// derived from filename and returns the final path. Existing files are
// never replaced: "report.pdf" becomes "report (1).pdf" and so on.
func (c *Codec) DecodeForDownload(ctx context.Context, raw []byte, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(c.downloadDir, 0o755); err != nil {
		return "", fmt.Errorf("creating download directory: %w", err)
	}

	tmp, err := os.CreateTemp(c.downloadDir, ".securemail-*.part")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("writing download: %w", err)
	}

	name := SafeFilename(filename)
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		dest := filepath.Join(c.downloadDir, numbered(name, i))
		err := claim(tmpPath, dest)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("saving %s: %w", dest, err)
		}
		c.log.Info().Str("path", dest).Int("bytes", len(raw)).Msg("attachment saved")
		return dest, nil
	}
}

// claim moves src to dest without replacing an existing dest. A hard link
// fails atomically when dest exists; filesystems without links fall back
// to a check-then-rename.
func claim(src, dest string) error {
	err := os.Link(src, dest)
	if err == nil || errors.Is(err, os.ErrExist) {
		return err
	}
	if _, statErr := os.Lstat(dest); statErr == nil {
		return os.ErrExist
	}
	return os.Rename(src, dest)
}

func numbered(name string, i int) string {
	if i == 0 {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s (%d)%s", stem, i, ext)
}

// SafeFilename reduces a server or user supplied name to a plain file
// name with no directory parts or control characters.
func SafeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = name[strings.LastIndex(name, "/")+1:]
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.Trim(name, " .")
	if name == "" {
		return fallbackName
	}
	if len(name) > maxNameBytes {
		name = shorten(name)
	}
	return name
}

// shorten cuts the stem so the name fits maxNameBytes, keeping a short
// extension intact.
func shorten(name string) string {
	ext := filepath.Ext(name)
	if len(ext) > maxExtBytes {
		ext = ""
	}
	stem := strings.TrimSuffix(name, ext)
	for len(stem)+len(ext) > maxNameBytes {
		_, size := utf8.DecodeLastRuneInString(stem)
		stem = stem[:len(stem)-size]
	}
	stem = strings.TrimRight(stem, " .")
	if stem == "" {
		stem = fallbackName
	}
	return stem + ext
}

// ContentTypeFor guesses a media type from the file extension.
func ContentTypeFor(name string) string {
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if ct == "" {
		return DefaultContentType
	}
	if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
		return mediaType
	}
	return ct
}
