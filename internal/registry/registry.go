// Package registry tracks connected mailbox accounts and the active
// selection. It routes mailbox operations to the right credential and
// refuses operations for accounts whose credential has expired.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultMaxAccounts is the default cap on connected accounts.
const DefaultMaxAccounts = 9

var (
	// ErrRegistryFull is returned by Add when the account cap is reached.
	ErrRegistryFull = errors.New("registry: account limit reached")

	// ErrUnknownAccount is returned when an account ID is not registered.
	ErrUnknownAccount = errors.New("registry: unknown account")

	// ErrNoActiveAccount is returned when no account is selected.
	ErrNoActiveAccount = errors.New("registry: no active account")

	// ErrCredentialExpired means the account must re-authorize before new
	// mailbox operations are attempted. It is never retried automatically.
	ErrCredentialExpired = errors.New("registry: credential expired, re-authorization required")
)

// Account is one connected mailbox identity. The ID is the normalized
// mailbox address, which keeps accounts unique per address.
type Account struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Credential       string    `json:"credential,omitempty"`
	CredentialExpiry time.Time `json:"credential_expiry"`
}

// Expired reports whether the credential has passed its expiry. A zero
// expiry means the credential lifetime is managed externally (e.g. an
// auto-refreshing token source) and is treated as valid.
func (a Account) Expired(now time.Time) bool {
	return !a.CredentialExpiry.IsZero() && now.After(a.CredentialExpiry)
}

// SessionStore persists the account set across process restarts.
// Persistence is best-effort: the registry works with an empty store.
type SessionStore interface {
	Load() ([]Account, error)
	Save([]Account) error
}

// Registry holds the connected accounts and the single active selection.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]Account
	activeID string
	max      int
	store    SessionStore
	logger   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxAccounts overrides the account cap.
func WithMaxAccounts(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.max = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// New creates a registry backed by the given store. Accounts already in the
// store are loaded; a missing or unreadable store yields an empty registry.
func New(store SessionStore, opts ...Option) *Registry {
	r := &Registry{
		accounts: make(map[string]Account),
		max:      DefaultMaxAccounts,
		store:    store,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if store != nil {
		saved, err := store.Load()
		if err != nil {
			r.logger.Warn("failed to load saved accounts, starting empty", "error", err)
		}
		for _, acct := range saved {
			if len(r.accounts) >= r.max {
				break
			}
			acct.ID = normalizeID(acct.Email)
			r.accounts[acct.ID] = acct
		}
		if len(r.accounts) == 1 {
			for id := range r.accounts {
				r.activeID = id
			}
		}
	}

	return r
}

func normalizeID(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Add registers an account. Adding an address that is already registered is
// an idempotent no-op keeping the existing entry. The first account added
// becomes active.
func (r *Registry) Add(acct Account) error {
	acct.ID = normalizeID(acct.Email)
	if acct.ID == "" {
		return fmt.Errorf("registry: account email must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.accounts[acct.ID]; exists {
		return nil
	}
	if len(r.accounts) >= r.max {
		return fmt.Errorf("%w (max %d)", ErrRegistryFull, r.max)
	}

	r.accounts[acct.ID] = acct
	if r.activeID == "" {
		r.activeID = acct.ID
	}
	r.persistLocked()
	return nil
}

// Remove destroys an account on explicit disconnect. Removing the active
// account clears the selection.
func (r *Registry) Remove(id string) error {
	id = normalizeID(id)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.accounts[id]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	delete(r.accounts, id)
	if r.activeID == id {
		r.activeID = ""
	}
	r.persistLocked()
	return nil
}

// SetActive selects the account mailbox operations are routed to.
func (r *Registry) SetActive(id string) error {
	id = normalizeID(id)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.accounts[id]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	r.activeID = id
	return nil
}

// Active returns the currently selected account.
func (r *Registry) Active() (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.activeID == "" {
		return Account{}, ErrNoActiveAccount
	}
	return r.accounts[r.activeID], nil
}

// Get returns the account with the given ID.
func (r *Registry) Get(id string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acct, exists := r.accounts[normalizeID(id)]
	if !exists {
		return Account{}, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	return acct, nil
}

// List returns all accounts sorted by email.
func (r *Registry) List() []Account {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Account, 0, len(r.accounts))
	for _, acct := range r.accounts {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

// Len returns the number of registered accounts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

// CheckCredential returns nil if the account may issue new mailbox
// operations, ErrCredentialExpired if it must re-authorize first.
func (r *Registry) CheckCredential(id string, now time.Time) error {
	acct, err := r.Get(id)
	if err != nil {
		return err
	}
	if acct.Expired(now) {
		return fmt.Errorf("%w: %s", ErrCredentialExpired, acct.Email)
	}
	return nil
}

// UpdateCredential replaces an account's credential after re-authorization.
func (r *Registry) UpdateCredential(id, credential string, expiry time.Time) error {
	id = normalizeID(id)

	r.mu.Lock()
	defer r.mu.Unlock()

	acct, exists := r.accounts[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	acct.Credential = credential
	acct.CredentialExpiry = expiry
	r.accounts[id] = acct
	r.persistLocked()
	return nil
}

// persistLocked saves the account set to the session store. Persistence
// failures are logged, not surfaced: losing the saved set degrades to an
// empty registry on next start. Must be called with the lock held.
func (r *Registry) persistLocked() {
	if r.store == nil {
		return
	}
	out := make([]Account, 0, len(r.accounts))
	for _, acct := range r.accounts {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	if err := r.store.Save(out); err != nil {
		r.logger.Warn("failed to persist accounts", "error", err)
	}
}
