package management

import (
	"context"
	"net/http"
)

// Resource exposes CRUD operations on one management API collection,
// e.g. /clients or /connections.
type Resource struct {
	c    *Client
	path string
}

// itemPath returns the escaped path of a single item.
func (r *Resource) itemPath(id string, suffix string) (string, error) {
	seg, err := pathParam("id", id)
	if err != nil {
		return "", err
	}
	return r.path + "/" + seg + suffix, nil
}

// Get fetches one item by id.
func (r *Resource) Get(ctx context.Context, id string) (Document, error) {
	path, err := r.itemPath(id, "")
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := r.c.do(ctx, &request{method: http.MethodGet, path: path}, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// GetAll lists the collection. params are passed through as query parameters.
func (r *Resource) GetAll(ctx context.Context, params Query) ([]Document, error) {
	var docs []Document
	if err := r.c.do(ctx, &request{method: http.MethodGet, path: r.path, query: params}, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// Create adds a new item and returns it as stored by the server.
func (r *Resource) Create(ctx context.Context, doc Document) (Document, error) {
	req, err := jsonRequest(http.MethodPost, r.path, doc)
	if err != nil {
		return nil, err
	}
	var created Document
	if err := r.c.do(ctx, req, &created); err != nil {
		return nil, err
	}
	return created, nil
}

// Update patches an existing item with the fields in doc.
func (r *Resource) Update(ctx context.Context, id string, doc Document) (Document, error) {
	path, err := r.itemPath(id, "")
	if err != nil {
		return nil, err
	}
	req, err := jsonRequest(http.MethodPatch, path, doc)
	if err != nil {
		return nil, err
	}
	var updated Document
	if err := r.c.do(ctx, req, &updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes an item.
func (r *Resource) Delete(ctx context.Context, id string) error {
	path, err := r.itemPath(id, "")
	if err != nil {
		return err
	}
	return r.c.do(ctx, &request{method: http.MethodDelete, path: path}, nil)
}

// subList fetches a collection nested under an item, e.g. /users/{id}/roles.
func (r *Resource) subList(ctx context.Context, id, suffix string, params Query) ([]Document, error) {
	path, err := r.itemPath(id, suffix)
	if err != nil {
		return nil, err
	}
	var docs []Document
	if err := r.c.do(ctx, &request{method: http.MethodGet, path: path, query: params}, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// subSend sends body to a path nested under an item and discards the response.
func (r *Resource) subSend(ctx context.Context, method, id, suffix string, body any) error {
	path, err := r.itemPath(id, suffix)
	if err != nil {
		return err
	}
	req, err := jsonRequest(method, path, body)
	if err != nil {
		return err
	}
	return r.c.do(ctx, req, nil)
}
