package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/netzbremse/netzbremse/internal/model"
)

// WriteSink prints each result to a writer, one JSON document per line.
type WriteSink struct {
	w io.Writer
}

func NewWriteSink(w io.Writer) WriteSink {
	return WriteSink{w: w}
}

func (s WriteSink) Store(_ context.Context, res model.Result) error {
	if s.w == nil {
		s.w = os.Stdout
	}
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(s.w, string(b))
	return err
}

// DirSink writes one timestamped file per successful attempt into a
// directory. The filename carries the attempt timestamp so downstream
// consumers can order results without parsing the content.
type DirSink struct {
	root *os.Root
}

func NewDirSink(dir string) (*DirSink, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	return &DirSink{root: root}, nil
}

func (s *DirSink) Store(ctx context.Context, res model.Result) error {
	if s.root == nil {
		return errors.New("sink already closed")
	}

	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}

	path := res.Filename()
	f, err := s.root.Create(path)
	if err != nil {
		return fmt.Errorf("creating result file: %w", err)
	}
	_, err = f.Write(b)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("saving result: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing result file: %w", err)
	}
	slog.InfoContext(ctx, "result saved", "path", path)
	return nil
}

func (s *DirSink) Close() error {
	if s.root == nil {
		return errors.New("sink already closed")
	}
	err := s.root.Close()
	s.root = nil
	return err
}

// PushSink POSTs each result to a collector endpoint.
type PushSink struct {
	requestURL *url.URL
	client     *http.Client
}

func NewPushSink(serverURL string) (*PushSink, error) {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("push URL needs a scheme and a host, e.g. https://collector.example.com/results")
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")

	return &PushSink{
		requestURL: parsed,
		client:     &http.Client{},
	}, nil
}

func (s *PushSink) Store(ctx context.Context, res model.Result) error {
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.requestURL.String(), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pushing result: status %d, body: %s", resp.StatusCode, string(body))
	}

	slog.DebugContext(ctx, "result pushed", "url", s.requestURL.String(), "status", resp.StatusCode)
	return nil
}
