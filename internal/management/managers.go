package management

import (
	"context"
	"net/http"
)

// ClientsManager manages applications (OAuth clients).
type ClientsManager struct {
	*Resource
}

// RotateSecret generates a new client secret and returns the updated client.
func (m *ClientsManager) RotateSecret(ctx context.Context, id string) (Document, error) {
	path, err := m.itemPath(id, "/rotate-secret")
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := m.c.do(ctx, &request{method: http.MethodPost, path: path}, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// UsersManager manages users and their role assignments.
type UsersManager struct {
	*Resource
}

// Roles lists the roles assigned to a user.
func (m *UsersManager) Roles(ctx context.Context, userID string, params Query) ([]Document, error) {
	return m.subList(ctx, userID, "/roles", params)
}

// AssignRoles assigns roles to a user.
func (m *UsersManager) AssignRoles(ctx context.Context, userID string, roleIDs []string) error {
	return m.subSend(ctx, http.MethodPost, userID, "/roles", map[string][]string{"roles": roleIDs})
}

// RemoveRoles removes roles from a user.
func (m *UsersManager) RemoveRoles(ctx context.Context, userID string, roleIDs []string) error {
	return m.subSend(ctx, http.MethodDelete, userID, "/roles", map[string][]string{"roles": roleIDs})
}

// Permission identifies a permission by API identifier and name.
type Permission struct {
	ResourceServerIdentifier string `json:"resource_server_identifier"`
	PermissionName           string `json:"permission_name"`
}

// RolesManager manages roles, their permissions and their members.
type RolesManager struct {
	*Resource
}

// Permissions lists the permissions granted by a role.
func (m *RolesManager) Permissions(ctx context.Context, roleID string, params Query) ([]Document, error) {
	return m.subList(ctx, roleID, "/permissions", params)
}

// AddPermissions grants permissions to a role.
func (m *RolesManager) AddPermissions(ctx context.Context, roleID string, permissions []Permission) error {
	return m.subSend(ctx, http.MethodPost, roleID, "/permissions", map[string][]Permission{"permissions": permissions})
}

// RemovePermissions revokes permissions from a role.
func (m *RolesManager) RemovePermissions(ctx context.Context, roleID string, permissions []Permission) error {
	return m.subSend(ctx, http.MethodDelete, roleID, "/permissions", map[string][]Permission{"permissions": permissions})
}

// Users lists the users that have a role.
func (m *RolesManager) Users(ctx context.Context, roleID string, params Query) ([]Document, error) {
	return m.subList(ctx, roleID, "/users", params)
}

// LogsManager reads tenant log events. Logs are read-only.
type LogsManager struct {
	c *Client
}

// Get fetches one log event.
func (m *LogsManager) Get(ctx context.Context, id string) (Document, error) {
	return m.c.resource("/logs").Get(ctx, id)
}

// GetAll searches log events. params are passed through (q, from, take, ...).
func (m *LogsManager) GetAll(ctx context.Context, params Query) ([]Document, error) {
	return m.c.resource("/logs").GetAll(ctx, params)
}

// SettingsManager reads and patches a singleton settings document such as
// /prompts or /tenants/settings.
type SettingsManager struct {
	c    *Client
	path string
}

// GetSettings fetches the settings document.
func (m *SettingsManager) GetSettings(ctx context.Context) (Document, error) {
	var doc Document
	if err := m.c.do(ctx, &request{method: http.MethodGet, path: m.path}, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// UpdateSettings patches the settings document and returns the result.
func (m *SettingsManager) UpdateSettings(ctx context.Context, doc Document) (Document, error) {
	req, err := jsonRequest(http.MethodPatch, m.path, doc)
	if err != nil {
		return nil, err
	}
	var updated Document
	if err := m.c.do(ctx, req, &updated); err != nil {
		return nil, err
	}
	return updated, nil
}
