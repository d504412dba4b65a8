// Package mailbox finds report attachments in a directory of exported .eml messages.
package mailbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"inverter-report/models"
	"inverter-report/utils"
)

// reportExtensions are the attachment types worth downloading.
var reportExtensions = []string{".csv", ".xlsx", ".xls"}

// Options configures a Fetcher.
type Options struct {
	Dir      string
	Subject  string
	TempDir  string
	Location *time.Location
}

// Fetcher scans exported messages newest-first and saves matching attachments.
type Fetcher struct {
	opts   Options
	logger *utils.Logger
	words  *mime.WordDecoder
}

// New creates a Fetcher. A nil Location means time.Local.
func New(opts Options, logger *utils.Logger) *Fetcher {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Fetcher{opts: opts, logger: logger, words: new(mime.WordDecoder)}
}

type message struct {
	path     string
	received time.Time
	msg      *mail.Message
}

// Fetch saves the report attachments of every message received after the day of
// since whose subject contains the configured subject. Messages are visited
// newest-first and scanning stops at the first one that is not newer than since.
func (f *Fetcher) Fetch(ctx context.Context, since time.Time) ([]models.Attachment, error) {
	messages, err := f.load()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(f.opts.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("mailbox: create temp dir: %w", err)
	}

	sinceDay := day(since.In(f.opts.Location))
	f.logger.Info("[mailbox] Scanning %d messages in %s for reports after %s",
		len(messages), f.opts.Dir, sinceDay.Format(models.DateLayout))

	saved := utils.NewKeySet[string]()
	var out []models.Attachment
	for _, m := range messages {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}

		received := day(m.received.In(f.opts.Location))
		if !received.After(sinceDay) {
			break
		}
		if !f.subjectMatches(m.msg.Header.Get("Subject")) {
			continue
		}

		atts, err := f.saveAttachments(m, received, saved)
		if err != nil {
			f.logger.Warn("[mailbox] Skipping %s: %v", filepath.Base(m.path), err)
			continue
		}
		out = append(out, atts...)
	}
	return out, nil
}

// load parses every .eml file and sorts the messages newest-first. Unparseable files
// are skipped.
func (f *Fetcher) load() ([]message, error) {
	entries, err := os.ReadDir(f.opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("mailbox: read %q: %w", f.opts.Dir, err)
	}

	var messages []message
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".eml") {
			continue
		}
		path := filepath.Join(f.opts.Dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			f.logger.Warn("[mailbox] Cannot read %s: %v", e.Name(), err)
			continue
		}
		msg, err := mail.ReadMessage(bytes.NewReader(data))
		if err != nil {
			f.logger.Warn("[mailbox] Cannot parse %s: %v", e.Name(), err)
			continue
		}
		received, err := msg.Header.Date()
		if err != nil {
			f.logger.Warn("[mailbox] %s has no usable Date header: %v", e.Name(), err)
			continue
		}
		messages = append(messages, message{path: path, received: received, msg: msg})
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].received.After(messages[j].received)
	})
	return messages, nil
}

func (f *Fetcher) subjectMatches(raw string) bool {
	subject, err := f.words.DecodeHeader(raw)
	if err != nil {
		subject = raw
	}
	return strings.Contains(strings.ToLower(subject), strings.ToLower(f.opts.Subject))
}

func (f *Fetcher) saveAttachments(m message, received time.Time, saved *utils.KeySet[string]) ([]models.Attachment, error) {
	var out []models.Attachment
	date := received.Format(models.DateLayout)

	err := f.walk(textproto.MIMEHeader(m.msg.Header), m.msg.Body, func(filename string, body io.Reader) error {
		if !isReport(filename) {
			return nil
		}
		target := filepath.Join(f.opts.TempDir, date+"_"+filename)
		if !saved.Add(target) {
			f.logger.Debug("[mailbox] Duplicate attachment %s for %s ignored", filename, date)
			return nil
		}

		data, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("read attachment %q: %w", filename, err)
		}
		if err := os.WriteFile(target, data, 0644); err != nil {
			return fmt.Errorf("save attachment %q: %w", filename, err)
		}

		out = append(out, models.Attachment{ReportDate: received, Filename: filename, Path: target})
		f.logger.Info("[mailbox] Downloaded report for %s: %s", date, filename)
		return nil
	})
	if err != nil {
		for _, a := range out {
			_ = os.Remove(a.Path)
		}
		return nil, err
	}
	return out, nil
}

// walk visits every leaf part carrying a filename, decoding its transfer encoding.
func (f *Fetcher) walk(h textproto.MIMEHeader, body io.Reader, visit func(string, io.Reader) error) error {
	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read multipart: %w", err)
			}
			if err := f.walk(part.Header, part, visit); err != nil {
				return err
			}
		}
	}

	filename := f.partFilename(h, params)
	if filename == "" {
		return nil
	}
	if strings.EqualFold(strings.TrimSpace(h.Get("Content-Transfer-Encoding")), "base64") {
		body = base64.NewDecoder(base64.StdEncoding, body)
	}
	return visit(filename, body)
}

func (f *Fetcher) partFilename(h textproto.MIMEHeader, ctParams map[string]string) string {
	name := ""
	if _, params, err := mime.ParseMediaType(h.Get("Content-Disposition")); err == nil {
		name = params["filename"]
	}
	if name == "" {
		name = ctParams["name"]
	}
	if name == "" {
		return ""
	}
	if decoded, err := f.words.DecodeHeader(name); err == nil {
		name = decoded
	}
	return filepath.Base(strings.ReplaceAll(name, "\\", "/"))
}

func isReport(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range reportExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
