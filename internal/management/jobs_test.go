package management

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobs_ImportUsers(t *testing.T) {
	t.Parallel()

	ft := newFakeTenant(t)
	ft.mux.HandleFunc("POST /api/v2/jobs/users-imports", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "con_1", r.FormValue("connection_id"))
		assert.Equal(t, "true", r.FormValue("upsert"))
		assert.Equal(t, "false", r.FormValue("send_completion_email"))
		assert.Equal(t, "batch-7", r.FormValue("external_id"))

		file, header, err := r.FormFile("users")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "users.json", header.Filename)
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.JSONEq(t, `[{"email":"jane@example.com"}]`, string(data))

		writeJSON(t, w, http.StatusCreated, map[string]any{"id": "job_1", "status": "pending", "type": "users_import"})
	})

	c := ft.newClient(t)
	job, err := c.Jobs.ImportUsers(context.Background(), UsersImport{
		ConnectionID: "con_1",
		Users:        strings.NewReader(`[{"email":"jane@example.com"}]`),
		Upsert:       true,
		ExternalID:   "batch-7",
	})
	require.NoError(t, err)
	assert.Equal(t, "job_1", job["id"])
}

func TestJobs_ImportUsersValidation(t *testing.T) {
	t.Parallel()

	c := newFakeTenant(t).newClient(t)

	_, err := c.Jobs.ImportUsers(context.Background(), UsersImport{Users: strings.NewReader("[]")})
	require.ErrorContains(t, err, "connection id is required")

	_, err = c.Jobs.ImportUsers(context.Background(), UsersImport{ConnectionID: "con_1"})
	require.ErrorContains(t, err, "users are required")

	_, err = c.Jobs.VerificationEmail(context.Background(), Document{})
	require.ErrorContains(t, err, "user_id is required")
}

func TestJobs_GetAndErrors(t *testing.T) {
	t.Parallel()

	ft := newFakeTenant(t)
	ft.mux.HandleFunc("GET /api/v2/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "status": "completed"})
	})
	ft.mux.HandleFunc("GET /api/v2/jobs/{id}/errors", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "job_clean" {
			writeJSON(t, w, http.StatusOK, map[string]any{"id": "job_clean", "status": "completed"})
			return
		}
		writeJSON(t, w, http.StatusOK, []map[string]any{
			{"user": map[string]any{"email": "bad"}, "errors": []map[string]any{{"code": "INVALID_FORMAT"}}},
		})
	})
	ft.mux.HandleFunc("POST /api/v2/jobs/users-exports", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusCreated, map[string]any{"id": "job_export", "type": "users_export"})
	})

	c := ft.newClient(t)
	ctx := context.Background()

	job, err := c.Jobs.Get(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, "completed", job["status"])

	errs, err := c.Jobs.Errors(ctx, "job_dirty")
	require.NoError(t, err)
	require.Len(t, errs, 1)

	errs, err = c.Jobs.Errors(ctx, "job_clean")
	require.NoError(t, err)
	assert.Empty(t, errs)

	export, err := c.Jobs.ExportUsers(ctx, Document{"connection_id": "con_1", "format": "json"})
	require.NoError(t, err)
	assert.Equal(t, "users_export", export["type"])
}
