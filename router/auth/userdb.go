package auth

import (
	"errors"
	"fmt"
	"sync"
)

// UserDB stores per-user authentication info (role, secret, and any other
// key-value attributes an Authenticator's KeyStore needs) keyed by authid.
type UserDB interface {
	CreateUser(authid string, info map[string]string) error
	ReadUserInfo(authid string) (map[string]string, error)
	UpdateUserInfo(authid, key, value string) error
	DeleteUser(authid string) error
}

// StaticUserDB is an in-memory UserDB, also usable directly as a KeyStore
// for the ticket and WAMP-CRA authenticators: "secret" is the signing key,
// "role" is the authrole.
type StaticUserDB struct {
	provider string

	mu    sync.Mutex
	users map[string]map[string]string
}

// NewStaticUserDB creates an empty StaticUserDB that reports provider as
// its KeyStore.Provider() name.
func NewStaticUserDB(provider string) *StaticUserDB {
	return &StaticUserDB{
		provider: provider,
		users:    map[string]map[string]string{},
	}
}

func (db *StaticUserDB) CreateUser(authid string, info map[string]string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.users[authid]; exists {
		return fmt.Errorf("user already exists: %s", authid)
	}
	cp := make(map[string]string, len(info))
	for k, v := range info {
		cp[k] = v
	}
	db.users[authid] = cp
	return nil
}

func (db *StaticUserDB) ReadUserInfo(authid string) (map[string]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	info, ok := db.users[authid]
	if !ok {
		return nil, fmt.Errorf("no such user: %s", authid)
	}
	cp := make(map[string]string, len(info))
	for k, v := range info {
		cp[k] = v
	}
	return cp, nil
}

// UpdateUserInfo sets key to value on the given user's info, or deletes
// key when value is empty.
func (db *StaticUserDB) UpdateUserInfo(authid, key, value string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	info, ok := db.users[authid]
	if !ok {
		return fmt.Errorf("no such user: %s", authid)
	}
	if value == "" {
		delete(info, key)
		return nil
	}
	info[key] = value
	return nil
}

func (db *StaticUserDB) DeleteUser(authid string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.users[authid]; !ok {
		return fmt.Errorf("no such user: %s", authid)
	}
	delete(db.users, authid)
	return nil
}

// AuthKey implements KeyStore, returning the user's "secret" attribute as
// the signing key for the given authmethod.
func (db *StaticUserDB) AuthKey(authid, authmethod string) ([]byte, error) {
	info, err := db.ReadUserInfo(authid)
	if err != nil {
		return nil, err
	}
	secret, ok := info["secret"]
	if !ok {
		return nil, errors.New("user has no secret configured")
	}
	return []byte(secret), nil
}

// PasswordInfo implements KeyStore. StaticUserDB never derives keys with
// PBKDF2, so it always reports no salting.
func (db *StaticUserDB) PasswordInfo(authid string) (string, int, int) {
	return "", 0, 0
}

// AuthRole implements KeyStore.
func (db *StaticUserDB) AuthRole(authid string) (string, error) {
	info, err := db.ReadUserInfo(authid)
	if err != nil {
		return "", err
	}
	role, ok := info["role"]
	if !ok {
		return "", fmt.Errorf("user has no role configured: %s", authid)
	}
	return role, nil
}

// Provider implements KeyStore.
func (db *StaticUserDB) Provider() string { return db.provider }
