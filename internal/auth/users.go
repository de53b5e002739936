package auth

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/store"
)

// UsersKey is the store key of the user directory.
const UsersKey = "users"

var ErrInvalidCredentials = errors.New("invalid username or password")

// User is a login account.
type User struct {
	Username     string `json:"username"`
	FullName     string `json:"full_name,omitempty"`
	PasswordHash string `json:"password_hash"`
	Role         string `json:"role"`
	Department   string `json:"department,omitempty"`
	Active       *bool  `json:"active,omitempty"`
}

func (u User) IsActive() bool { return u.Active == nil || *u.Active }

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Users is the store-backed user directory.
type Users struct {
	docs store.Documents
}

func NewUsers(docs store.Documents) *Users {
	return &Users{docs: docs}
}

func (u *Users) all() []User {
	return store.Load(u.docs, UsersKey, []User{})
}

// Find returns the user with username, case-insensitively.
func (u *Users) Find(username string) (User, bool) {
	for _, usr := range u.all() {
		if strings.EqualFold(usr.Username, username) {
			return usr, true
		}
	}
	return User{}, false
}

// Authenticate checks credentials.
func (u *Users) Authenticate(username, password string) (User, error) {
	usr, ok := u.Find(username)
	if !ok || !usr.IsActive() {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(usr.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return usr, nil
}

// VerifyElevated reports which elevated user, if any, owns password. It is
// used to authorize a sensitive action performed at someone else's terminal.
func (u *Users) VerifyElevated(password string) (User, bool) {
	if password == "" {
		return User{}, false
	}
	for _, usr := range u.all() {
		if !usr.IsActive() || !enum.IsElevated(usr.Role) {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(usr.PasswordHash), []byte(password)) == nil {
			return usr, true
		}
	}
	return User{}, false
}

// Upsert creates or replaces a user, hashing password when given.
func (u *Users) Upsert(ctx context.Context, usr User, password string) (User, error) {
	if strings.TrimSpace(usr.Username) == "" {
		return User{}, apperr.Validation("username is required")
	}
	if password != "" {
		hash, err := HashPassword(password)
		if err != nil {
			return User{}, apperr.Internal("hash password", err)
		}
		usr.PasswordHash = hash
	}
	if usr.PasswordHash == "" {
		return User{}, apperr.Validation("password is required")
	}
	err := u.docs.WithLock(ctx, UsersKey, func() error {
		users := u.all()
		replaced := false
		for i := range users {
			if strings.EqualFold(users[i].Username, usr.Username) {
				users[i] = usr
				replaced = true
			}
		}
		if !replaced {
			users = append(users, usr)
		}
		return u.docs.Write(UsersKey, users)
	})
	if err != nil {
		return User{}, err
	}
	return usr, nil
}
