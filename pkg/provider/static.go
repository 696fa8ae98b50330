package provider

import (
	"context"
	"time"
)

// Static is an in-memory Provider backed by a fixed resource inventory.
// It exists for tests and the CLI demo path; real scans use external
// adapter modules. Call behavior is programmable per (service, action)
// so failure modes can be simulated.
type Static struct {
	ProviderName string
	AccountID    string
	Resources    []Resource

	// AuthErr, when set, makes Authenticate fail.
	AuthErr error

	// CallFn, when set, handles every Call. When nil, calls succeed with
	// an empty response.
	CallFn func(ctx context.Context, req Request) (Response, error)
}

type staticSession struct {
	provider string
	account  string
}

func (s *staticSession) Provider() string { return s.provider }
func (s *staticSession) Account() string  { return s.account }
func (s *staticSession) Close() error     { return nil }

// Name implements Provider.
func (s *Static) Name() string { return s.ProviderName }

// Authenticate implements Provider.
func (s *Static) Authenticate(ctx context.Context) (Session, error) {
	if s.AuthErr != nil {
		return nil, s.AuthErr
	}
	return &staticSession{provider: s.ProviderName, account: s.AccountID}, nil
}

// ListResources implements Provider. Filtering is by exact service name.
func (s *Static) ListResources(ctx context.Context, sess Session, serviceFilter string) ([]Resource, error) {
	now := time.Now().UTC()
	var out []Resource
	for _, r := range s.Resources {
		if serviceFilter != "" && r.Service != serviceFilter {
			continue
		}
		if r.DiscoveredAt.IsZero() {
			r.DiscoveredAt = now
		}
		if r.Account == "" {
			r.Account = s.AccountID
		}
		out = append(out, r)
	}
	return out, nil
}

// Call implements Provider.
func (s *Static) Call(ctx context.Context, sess Session, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if s.CallFn != nil {
		return s.CallFn(ctx, req)
	}
	return Response{Data: map[string]any{}}, nil
}
