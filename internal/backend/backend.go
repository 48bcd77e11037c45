// Package backend defines the remote-backend contracts the portal core is
// written against: a document store with live queries and an identity
// provider. Concrete backends live in subpackages.
package backend

import (
	"context"
	"encoding/json"
)

// Collection names used across the portal.
const (
	CollUsers         = "users"
	CollAccounts      = "accounts"
	CollGrades        = "grades"
	CollAttendance    = "attendance"
	CollFaculty       = "faculty"
	CollCourses       = "courses"
	CollNotifications = "notifications"
	CollReviews       = "reviews"
	CollResources     = "resources"
	CollUpdates       = "updates"
)

// Unsubscribe tears down a live subscription. Safe to call more than once.
type Unsubscribe func()

// Document is one record of a collection as delivered by the store.
type Document struct {
	ID     string
	Fields map[string]any
}

// Query selects documents of a collection, optionally filtered by an
// equality predicate on a single field and ordered by another.
type Query struct {
	Collection string
	Field      string // equality predicate field; empty means unfiltered
	Equals     any
	OrderBy    string // optional sort field
	Desc       bool
}

// Write is one entry of a batched multi-write.
type Write struct {
	Collection string
	ID         string
	Fields     map[string]any
	Delete     bool
}

// DocumentStore provides document CRUD plus live subscriptions.
//
// Subscription callbacks fire once with the current state immediately after
// registration and then on every subsequent change until unsubscribed.
// Within one subscription, callbacks are delivered in change order; no
// ordering is guaranteed across subscriptions.
type DocumentStore interface {
	// Get loads one document; errs.ErrNotFound when absent.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Set writes fields of a document. With merge, existing fields not
	// named in fields are kept; otherwise the document is replaced.
	Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error
	// Delete removes a document; deleting an absent document is not an error.
	Delete(ctx context.Context, collection, id string) error
	// AppendToArray appends values to an array field of a document.
	AppendToArray(ctx context.Context, collection, id, field string, values ...any) error
	// Fetch runs a one-shot query.
	Fetch(ctx context.Context, q Query) ([]Document, error)
	// WatchDoc subscribes to one document; exists is false when the
	// document is currently absent.
	WatchDoc(ctx context.Context, collection, id string, fn func(doc Document, exists bool)) (Unsubscribe, error)
	// WatchQuery subscribes to a query result set; every change delivers
	// the full rebuilt snapshot.
	WatchQuery(ctx context.Context, q Query, fn func(docs []Document)) (Unsubscribe, error)
	// BatchWrite applies all writes; used by the seeding utility.
	BatchWrite(ctx context.Context, writes []Write) error
}

// Identity is the provider's view of an authenticated principal. Profile
// fields the portal keeps in the users collection are richer; identity
// fields only seed them.
type Identity struct {
	ID       string
	Email    string
	Name     string
	PhotoURL string
}

// IdentityProvider abstracts the auth provider: password and federated
// sign-in plus an auth-state subscription delivering identity or nil.
type IdentityProvider interface {
	// SignIn authenticates with email/password; errs.ErrInvalidCredentials
	// on rejection.
	SignIn(ctx context.Context, email, password string) (*Identity, error)
	// CreateAccount registers a new email/password account;
	// errs.ErrAccountExists on duplicates.
	CreateAccount(ctx context.Context, email, password string) (*Identity, error)
	// SignOut ends the current session; idempotent.
	SignOut(ctx context.Context) error
	// FederatedSignIn runs the interactive federated flow; isNew reports
	// whether the provider created a fresh account.
	FederatedSignIn(ctx context.Context) (id *Identity, isNew bool, err error)
	// ChangePassword requires a recent sign-in; errs.ErrReauthRequired
	// when the window has passed.
	ChangePassword(ctx context.Context, newPassword string) error
	// OnStateChange registers a standing auth-state callback. The callback
	// fires once with the current state on registration.
	OnStateChange(fn func(*Identity)) Unsubscribe
}

// ScanDoc decodes document fields into a struct via its json tags.
func ScanDoc(d Document, v any) error {
	raw, err := json.Marshal(d.Fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// FieldsOf flattens a struct into document fields via its json tags.
func FieldsOf(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	delete(m, "id") // the document id is not a field
	return m, nil
}
