package management

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
)

// JobsManager manages asynchronous jobs: bulk user import/export and
// verification emails.
type JobsManager struct {
	c *Client
}

// UsersImport describes a bulk user import.
type UsersImport struct {
	// ConnectionID is the database connection users are imported into.
	ConnectionID string

	// Users is a JSON array of user objects.
	Users io.Reader

	// Filename is reported to the server for the uploaded file. Default: users.json.
	Filename string

	Upsert              bool
	SendCompletionEmail bool
	ExternalID          string
}

func (m *JobsManager) jobPath(id, suffix string) (string, error) {
	seg, err := pathParam("id", id)
	if err != nil {
		return "", err
	}
	return "/jobs/" + seg + suffix, nil
}

// Get fetches a job's status.
func (m *JobsManager) Get(ctx context.Context, id string) (Document, error) {
	path, err := m.jobPath(id, "")
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := m.c.do(ctx, &request{method: http.MethodGet, path: path}, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Errors returns the per-user errors of a finished import job.
// A job without errors yields an empty slice.
func (m *JobsManager) Errors(ctx context.Context, id string) ([]Document, error) {
	path, err := m.jobPath(id, "/errors")
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := m.c.do(ctx, &request{method: http.MethodGet, path: path}, &raw); err != nil {
		return nil, err
	}

	// The endpoint answers with the job object instead of an array when there is nothing to report
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return []Document{}, nil
	}
	var docs []Document
	if err := json.Unmarshal(trimmed, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode job errors: %w", err)
	}
	return docs, nil
}

// ImportUsers uploads users as multipart/form-data and returns the created job.
func (m *JobsManager) ImportUsers(ctx context.Context, in UsersImport) (Document, error) {
	if in.ConnectionID == "" {
		return nil, fmt.Errorf("management: connection id is required")
	}
	if in.Users == nil {
		return nil, fmt.Errorf("management: users are required")
	}
	filename := in.Filename
	if filename == "" {
		filename = "users.json"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"connection_id", in.ConnectionID},
		{"upsert", strconv.FormatBool(in.Upsert)},
		{"send_completion_email", strconv.FormatBool(in.SendCompletionEmail)},
	}
	if in.ExternalID != "" {
		fields = append(fields, [2]string{"external_id", in.ExternalID})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("writing form field %s: %w", f[0], err)
		}
	}

	part, err := mw.CreateFormFile("users", filename)
	if err != nil {
		return nil, fmt.Errorf("creating users part: %w", err)
	}
	if _, err := io.Copy(part, in.Users); err != nil {
		return nil, fmt.Errorf("reading users: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finishing multipart body: %w", err)
	}

	req := &request{
		method:      http.MethodPost,
		path:        "/jobs/users-imports",
		body:        buf.Bytes(),
		contentType: mw.FormDataContentType(),
	}
	var job Document
	if err := m.c.do(ctx, req, &job); err != nil {
		return nil, err
	}
	return job, nil
}

// ExportUsers starts a user export job. opts holds connection_id, format,
// fields and so on.
func (m *JobsManager) ExportUsers(ctx context.Context, opts Document) (Document, error) {
	return m.post(ctx, "/jobs/users-exports", opts)
}

// VerificationEmail starts a job that sends a verification email to a user.
func (m *JobsManager) VerificationEmail(ctx context.Context, opts Document) (Document, error) {
	if opts["user_id"] == nil {
		return nil, fmt.Errorf("management: user_id is required")
	}
	return m.post(ctx, "/jobs/verification-email", opts)
}

func (m *JobsManager) post(ctx context.Context, path string, body Document) (Document, error) {
	req, err := jsonRequest(http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	var job Document
	if err := m.c.do(ctx, req, &job); err != nil {
		return nil, err
	}
	return job, nil
}
