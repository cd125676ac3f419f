// Package users manages the registry's htpasswd credential file.
package users

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLen = 4

var (
	ErrNoUsersFile = errors.New("htpasswd file does not exist")
	ErrUserExists  = errors.New("user already exists")
	ErrNoSuchUser  = errors.New("user does not exist")
)

// User is a single htpasswd account.
type User struct {
	Username string `json:"username"`
}

// Store reads and writes a single htpasswd file.
type Store struct {
	Path string
}

// NewStore returns a store over the given htpasswd file path.
func NewStore(path string) *Store {
	return &Store{Path: path}
}

// List returns all accounts sorted by username. A missing file yields an
// empty list, not an error.
func (s *Store) List() ([]User, error) {
	entries, err := s.load()
	if err != nil {
		if errors.Is(err, ErrNoUsersFile) {
			return []User{}, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]User, 0, len(names))
	for _, name := range names {
		out = append(out, User{Username: name})
	}
	return out, nil
}

// Count returns the number of accounts.
func (s *Store) Count() (int, error) {
	list, err := s.List()
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// Add creates a new account with a bcrypt password hash.
func (s *Store) Add(username, password string) error {
	if err := validateUsername(username); err != nil {
		return err
	}
	if err := validatePassword(password); err != nil {
		return err
	}

	entries, err := s.load()
	if err != nil && !errors.Is(err, ErrNoUsersFile) {
		return err
	}
	if entries == nil {
		entries = map[string]string{}
	}
	if _, ok := entries[username]; ok {
		return fmt.Errorf("user %s: %w", username, ErrUserExists)
	}

	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	entries[username] = hash
	return s.save(entries)
}

// Remove deletes an account.
func (s *Store) Remove(username string) error {
	entries, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := entries[username]; !ok {
		return fmt.Errorf("user %s: %w", username, ErrNoSuchUser)
	}
	delete(entries, username)
	return s.save(entries)
}

// SetPassword replaces an existing account's password hash.
func (s *Store) SetPassword(username, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	entries, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := entries[username]; !ok {
		return fmt.Errorf("user %s: %w", username, ErrNoSuchUser)
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	entries[username] = hash
	return s.save(entries)
}

// Verify checks a password against the stored bcrypt hash.
func (s *Store) Verify(username, password string) error {
	entries, err := s.load()
	if err != nil {
		return err
	}
	hash, ok := entries[username]
	if !ok {
		return fmt.Errorf("user %s: %w", username, ErrNoSuchUser)
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

func (s *Store) load() (map[string]string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoUsersFile
		}
		return nil, fmt.Errorf("read htpasswd: %w", err)
	}
	return parse(string(data)), nil
}

func (s *Store) save(entries map[string]string) error {
	if dir := filepath.Dir(s.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create htpasswd directory: %w", err)
		}
	}
	if err := os.WriteFile(s.Path, []byte(render(entries)), 0o600); err != nil {
		return fmt.Errorf("write htpasswd: %w", err)
	}
	return nil
}

// parse reads "username:hash" lines, skipping blanks and comments.
func parse(content string) map[string]string {
	entries := map[string]string{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, hash, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		entries[name] = hash
	}
	return entries
}

func render(entries map[string]string) string {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(entries[name])
		b.WriteByte('\n')
	}
	return b.String()
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func validateUsername(username string) error {
	if username == "" {
		return errors.New("username must not be empty")
	}
	if strings.ContainsAny(username, ":\n") {
		return errors.New("username contains invalid characters")
	}
	return nil
}

func validatePassword(password string) error {
	if password == "" {
		return errors.New("password must not be empty")
	}
	if len(password) < minPasswordLen {
		return fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}
	return nil
}
