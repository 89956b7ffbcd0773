// Package management is a client for the tenant management API (/api/v2).
//
// Every request is authenticated with a bearer token obtained from an
// oauth2.TokenSource, normally a *tokenprovider.Provider shared by all managers
// of one tenant:
//
//	p, _ := tokenprovider.New(cfg)
//	c, err := management.NewFromProvider(p, management.WithRetries(3))
//	users, err := c.Users.GetAll(ctx, management.Query{"q": "email:\"jane@example.com\""})
//
// Managers expose CRUD-style methods (Get, GetAll, Create, Update, Delete) on
// Document values. A failure to obtain a token is returned as-is, so callers can
// still match *tokenprovider.APIError or *tokenprovider.TransportError with
// errors.As. Non-2xx API responses are returned as *APIError.
package management
