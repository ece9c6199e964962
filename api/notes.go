// Package api provides thin typed wrappers over the request executor for
// the NoteFlow backend endpoints. Storage, versioning and rendering of the
// returned documents are the application's concern.
package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/NoteFlow-AI/client_core/transport"
)

// Note is the wire representation of a note.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NotesService calls the note endpoints.
type NotesService struct {
	exec    *transport.Executor
	baseURL string
	timeout time.Duration
	retry   transport.RetryConfig
}

// NewNotesService creates a notes service bound to an executor.
func NewNotesService(exec *transport.Executor, baseURL string, timeout time.Duration, retry transport.RetryConfig) *NotesService {
	return &NotesService{exec: exec, baseURL: baseURL, timeout: timeout, retry: retry}
}

// List returns all notes. Reads are retried.
func (s *NotesService) List(ctx context.Context) ([]Note, error) {
	retry := s.retry
	resp, err := s.exec.Execute(ctx, transport.Request{
		Method:      http.MethodGet,
		URL:         s.baseURL + "/api/notes",
		Timeout:     s.timeout,
		Retry:       &retry,
		IncludeAuth: true,
	})
	if err != nil {
		return nil, transport.Normalize(err)
	}

	var notes []Note
	if err := resp.Decode(&notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// Get returns a single note by id.
func (s *NotesService) Get(ctx context.Context, id string) (*Note, error) {
	retry := s.retry
	resp, err := s.exec.Execute(ctx, transport.Request{
		Method:      http.MethodGet,
		URL:         fmt.Sprintf("%s/api/notes/%s", s.baseURL, url.PathEscape(id)),
		Timeout:     s.timeout,
		Retry:       &retry,
		IncludeAuth: true,
	})
	if err != nil {
		return nil, transport.Normalize(err)
	}
	return decodeNote(resp)
}

// Create creates a note. Writes are not retried: the backend does not
// deduplicate resubmitted creates.
func (s *NotesService) Create(ctx context.Context, title, content string) (*Note, error) {
	resp, err := s.exec.Execute(ctx, transport.Request{
		Method:      http.MethodPost,
		URL:         s.baseURL + "/api/notes",
		Body:        map[string]string{"title": title, "content": content},
		Timeout:     s.timeout,
		IncludeAuth: true,
	})
	if err != nil {
		return nil, transport.Normalize(err)
	}
	return decodeNote(resp)
}

// Update replaces a note's title and content.
func (s *NotesService) Update(ctx context.Context, id, title, content string) (*Note, error) {
	resp, err := s.exec.Execute(ctx, transport.Request{
		Method:      http.MethodPut,
		URL:         fmt.Sprintf("%s/api/notes/%s", s.baseURL, url.PathEscape(id)),
		Body:        map[string]string{"title": title, "content": content},
		Timeout:     s.timeout,
		IncludeAuth: true,
	})
	if err != nil {
		return nil, transport.Normalize(err)
	}
	return decodeNote(resp)
}

// Delete removes a note.
func (s *NotesService) Delete(ctx context.Context, id string) error {
	_, err := s.exec.Execute(ctx, transport.Request{
		Method:      http.MethodDelete,
		URL:         fmt.Sprintf("%s/api/notes/%s", s.baseURL, url.PathEscape(id)),
		Timeout:     s.timeout,
		IncludeAuth: true,
	})
	if err != nil {
		return transport.Normalize(err)
	}
	return nil
}

func decodeNote(resp *transport.Response) (*Note, error) {
	var note Note
	if err := resp.Decode(&note); err != nil {
		return nil, err
	}
	return &note, nil
}
