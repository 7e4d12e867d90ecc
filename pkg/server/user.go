package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	RoleAdmin = "admin"
	RoleOwner = "owner"
)

var (
	ErrUserExists     = errors.New("user already exists")
	ErrUserNotFound   = errors.New("user not found")
	ErrIncorrectLogin = errors.New("incorrect username or password")
	ErrInvalidRole    = errors.New("invalid role")
)

// User is a panel account. Owners manage their own projects, admins
// manage everything including other users.
type User struct {
	Name         string    `json:"name"`
	PasswordHash string    `json:"passwordHash"`
	Role         string    `json:"role"`
	Created      time.Time `json:"created"`
}

// UserRegistry holds panel accounts, backed by a single JSON file the
// same way ProjectRegistry is.
type UserRegistry struct {
	path  string
	log   *zap.Logger
	mu    sync.RWMutex
	users map[string]User
}

func NewUserRegistry(path string, log *zap.Logger) (*UserRegistry, error) {
	reg := &UserRegistry{
		path:  path,
		log:   log,
		users: make(map[string]User),
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("NewUserRegistry read: %w", err)
	}

	var list []User
	if err := json.Unmarshal(content, &list); err != nil {
		return nil, fmt.Errorf("NewUserRegistry parse: %w", err)
	}
	for _, user := range list {
		reg.users[user.Name] = user
	}

	return reg, nil
}

// save rewrites the registry file. Callers must hold mu.
func (reg *UserRegistry) save() error {
	list := make([]User, 0, len(reg.users))
	for _, user := range reg.users {
		list = append(list, user)
	}

	content, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("save marshal: %w", err)
	}

	if err := os.WriteFile(reg.path, content, 0600); err != nil {
		reg.log.Error("failed to save user registry", zap.String("path", reg.path), zap.Error(err))
		return fmt.Errorf("save write: %w", err)
	}

	return nil
}

func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleOwner
}

func (reg *UserRegistry) List() []User {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	list := make([]User, 0, len(reg.users))
	for _, user := range reg.users {
		list = append(list, user)
	}

	return list
}

func (reg *UserRegistry) Get(name string) (User, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	user, ok := reg.users[name]
	return user, ok
}

func (reg *UserRegistry) Create(name, password, role string) (User, error) {
	if name == "" || password == "" {
		return User{}, ErrIncorrectLogin
	}
	if !ValidRole(role) {
		return User{}, ErrInvalidRole
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, exists := reg.users[name]; exists {
		return User{}, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("Create hash password: %w", err)
	}

	user := User{
		Name:         name,
		PasswordHash: string(hash),
		Role:         role,
		Created:      time.Now().UTC(),
	}
	reg.users[name] = user

	if err := reg.save(); err != nil {
		delete(reg.users, name)
		return User{}, fmt.Errorf("Create: %w", err)
	}

	reg.log.Info("user created", zap.String("user", name), zap.String("role", role))

	return user, nil
}

func (reg *UserRegistry) Delete(name string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	user, exists := reg.users[name]
	if !exists {
		return ErrUserNotFound
	}

	delete(reg.users, name)
	if err := reg.save(); err != nil {
		reg.users[name] = user
		return fmt.Errorf("Delete: %w", err)
	}

	reg.log.Info("user deleted", zap.String("user", name))

	return nil
}

func (reg *UserRegistry) SetRole(name, role string) (User, error) {
	if !ValidRole(role) {
		return User{}, ErrInvalidRole
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	user, exists := reg.users[name]
	if !exists {
		return User{}, ErrUserNotFound
	}

	old := user
	user.Role = role
	reg.users[name] = user

	if err := reg.save(); err != nil {
		reg.users[name] = old
		return User{}, fmt.Errorf("SetRole: %w", err)
	}

	return user, nil
}

// Authenticate checks a username and password pair, returning the user
// on success. It uses the same error whether the user is missing or the
// password is wrong.
func (reg *UserRegistry) Authenticate(name, password string) (User, error) {
	reg.mu.RLock()
	user, exists := reg.users[name]
	reg.mu.RUnlock()

	if !exists {
		return User{}, ErrIncorrectLogin
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrIncorrectLogin
	}

	return user, nil
}

func (config *Config) CreateUser(name, password, role string) (User, error) {
	return config.users.Create(name, password, role)
}

func (config *Config) DeleteUser(name string) error {
	return config.users.Delete(name)
}
