// Package provider defines the capability interface the execution engine
// consumes to talk to a cloud provider: authenticate, list resources, and
// issue API calls. Concrete adapters (AWS, GCP, Azure, ...) live outside
// this module and implement these contracts; the engine never imports a
// provider SDK directly.
//
// This package is the consumer-side interface layer — it defines contracts
// that the engine and orchestration code depend on, while concrete
// implementations live in their own modules.
package provider

import (
	"context"
	"time"
)

// Resource is a provider-scoped entity discovered at scan time. Resources
// are ephemeral: rebuilt every scan, handed to check logic, and referenced
// by id in findings. They are never persisted by the pipeline.
type Resource struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Service      string            `json:"service"`
	Region       string            `json:"region"`
	Account      string            `json:"account"`
	Tags         map[string]string `json:"tags,omitempty"`
	DiscoveredAt time.Time         `json:"discovered_at"`
}

// Request is one provider API call issued by check logic.
type Request struct {
	Service string
	Action  string
	// Resource scopes the call when the action targets a single entity.
	Resource *Resource
	// Params carries action-specific arguments.
	Params map[string]string
}

// Response is the payload of a provider API call.
type Response struct {
	// Data is the decoded response body. Check logic asserts the shapes
	// it needs; the engine never inspects it.
	Data map[string]any
}

// Session owns authenticated access to one cloud account/tenant for the
// duration of one scan. A session is exclusively owned by the engine
// instance running that scan and is never shared across scans.
type Session interface {
	// Provider returns the provider id this session authenticates to.
	Provider() string

	// Account returns the account/tenant/subscription the session is
	// scoped to.
	Account() string

	// Close releases credentials and any cached connections.
	Close() error
}

// Provider is the capability set the engine consumes:
// {authenticate, list_resources, call}.
type Provider interface {
	// Name returns the provider id (e.g. "aws", "gcp", "azure").
	Name() string

	// Authenticate resolves credentials and opens a session. A failure
	// here is fatal to the scan.
	Authenticate(ctx context.Context) (Session, error)

	// ListResources discovers resources for the given service. An empty
	// filter lists all services the adapter supports.
	ListResources(ctx context.Context, sess Session, serviceFilter string) ([]Resource, error)

	// Call issues one API request. Errors are classified transient or
	// permanent via the helpers in errors.go.
	Call(ctx context.Context, sess Session, req Request) (Response, error)
}

// CallFunc is the call capability bound to a session, as handed to check
// logic. Binding here keeps check signatures free of session plumbing.
type CallFunc func(ctx context.Context, req Request) (Response, error)

// Bind returns a CallFunc that issues calls through p on sess.
func Bind(p Provider, sess Session) CallFunc {
	return func(ctx context.Context, req Request) (Response, error) {
		return p.Call(ctx, sess, req)
	}
}
