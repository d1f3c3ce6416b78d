// Package registry maps tenant credentials to lazily built messaging clients.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"tgcast/internal/domain"
	"tgcast/internal/transport"
	logx "tgcast/pkg/logx"
)

var (
	ErrMalformedCredential = errors.New("registry: malformed credential")
	ErrUnknownTenant       = errors.New("registry: unknown tenant")
)

var credentialRe = regexp.MustCompile(`^\d{3,}:[A-Za-z0-9_-]{20,}$`)

// Factory builds a client for a well-formed secret.
type Factory func(secret string) (transport.Client, error)

// CredentialID derives the tenant key: the first 16 hex chars of SHA-256(secret).
func CredentialID(secret string) domain.CredentialID {
	sum := sha256.Sum256([]byte(strings.TrimSpace(secret)))
	return domain.CredentialID(hex.EncodeToString(sum[:8]))
}

// Tenant is a registered credential without its secret.
type Tenant struct {
	ID   domain.CredentialID
	Name string
}

// Registry is the process-wide credential -> client cache. Entries are never
// evicted; failed constructions are not cached.
type Registry struct {
	factory Factory
	log     logx.Logger

	clients sync.Map // domain.CredentialID -> transport.Client
	sf      singleflight.Group

	mu      sync.RWMutex
	secrets map[domain.CredentialID]string
	tenants []Tenant
}

func New(factory Factory, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		factory: factory,
		log:     log,
		secrets: make(map[domain.CredentialID]string),
	}
}

// Register records a tenant secret and returns its CredentialID. The client is
// not built until first use, so a malformed secret surfaces on every tick.
func (r *Registry) Register(name, secret string) (domain.CredentialID, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", fmt.Errorf("%w: empty", ErrMalformedCredential)
	}
	id := CredentialID(secret)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.secrets[id]; ok {
		return id, nil
	}
	if strings.TrimSpace(name) == "" {
		name = string(id)
	}
	r.secrets[id] = secret
	r.tenants = append(r.tenants, Tenant{ID: id, Name: name})
	r.log.Info("tenant registered", logx.String("tenant", string(id)), logx.String("name", name))
	return id, nil
}

// Tenants lists registered tenants in registration order.
func (r *Registry) Tenants() []Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Tenant(nil), r.tenants...)
}

// Client returns the cached client for secret, building it on first use.
// Concurrent first calls share one construction.
func (r *Registry) Client(secret string) (transport.Client, error) {
	secret = strings.TrimSpace(secret)
	if !credentialRe.MatchString(secret) {
		return nil, &transport.Error{Kind: transport.KindConfiguration, Op: "registry", Err: ErrMalformedCredential}
	}
	id := CredentialID(secret)
	if c, ok := r.clients.Load(id); ok {
		return c.(transport.Client), nil
	}
	v, err, _ := r.sf.Do(string(id), func() (any, error) {
		if c, ok := r.clients.Load(id); ok {
			return c, nil
		}
		c, err := r.factory(secret)
		if err != nil {
			return nil, err
		}
		r.clients.Store(id, c)
		r.log.Debug("client constructed", logx.String("tenant", string(id)))
		return c, nil
	})
	if err != nil {
		if transport.Classify(err) == transport.KindUnknown {
			err = &transport.Error{Kind: transport.KindConfiguration, Op: "registry", Err: err}
		}
		return nil, err
	}
	return v.(transport.Client), nil
}

// ClientByID resolves a registered tenant's client.
func (r *Registry) ClientByID(id domain.CredentialID) (transport.Client, error) {
	r.mu.RLock()
	secret, ok := r.secrets[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTenant, id)
	}
	return r.Client(secret)
}
