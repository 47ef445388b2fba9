package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/smartdevs17/mine-alert-notifier/internal/models"
)

// Keyring item keys
const (
	tokenKey = "token"
	roleKey  = "role"
)

// ErrNotFound is returned when no credential is cached
var ErrNotFound = errors.New("credential not found")

// Credentials are the cached session credentials
type Credentials struct {
	Token string
	Role  models.Role
}

// Store caches credentials in a keyring
type Store struct {
	ring keyring.Keyring
}

// Open returns a store on the system keyring for the given service
func Open(service string) (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/" + service + "/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt(service + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewStore(ring), nil
}

// NewStore wraps an existing keyring
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Save stores the token and, when set, the role
func (s *Store) Save(creds Credentials) error {
	if creds.Token == "" {
		return errors.New("token is required")
	}
	if err := s.set(tokenKey, creds.Token); err != nil {
		return err
	}
	if creds.Role != "" {
		return s.set(roleKey, string(creds.Role))
	}
	return nil
}

// Load returns the cached credentials, or ErrNotFound when no token is cached
func (s *Store) Load() (Credentials, error) {
	token, err := s.get(tokenKey)
	if err != nil {
		return Credentials{}, err
	}
	role, err := s.get(roleKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Credentials{}, err
	}
	return Credentials{Token: token, Role: models.ParseRole(role)}, nil
}

// Clear removes the cached credentials; missing items are ignored
func (s *Store) Clear() error {
	for _, key := range []string{tokenKey, roleKey} {
		if err := s.ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			return fmt.Errorf("deleting credential %q: %w", key, err)
		}
	}
	return nil
}

func (s *Store) get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

func (s *Store) set(key, value string) error {
	if err := s.ring.Set(keyring.Item{Key: key, Data: []byte(value)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}
