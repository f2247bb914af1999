package user

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stlalpha/mailcore/internal/config"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrHandleExists = errors.New("handle already exists")
)

const userFile = "users.json"

// UserMgr manages the users.json account table.
type UserMgr struct {
	users      map[int]*User
	mu         sync.RWMutex
	path       string
	nextUserID int
}

// NewUserManager loads users.json from dataPath. A missing file creates a
// table holding only the sysop account (#1).
func NewUserManager(dataPath string) (*UserMgr, error) {
	um := &UserMgr{
		users:      make(map[int]*User),
		path:       filepath.Join(dataPath, userFile),
		nextUserID: 1,
	}

	if err := um.loadUsers(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load users: %w", err)
		}
		log.Println("INFO: users.json not found, creating default sysop user.")
		if _, addErr := um.AddUser("Sysop", "System Operator", ""); addErr != nil {
			return nil, fmt.Errorf("failed to create default sysop user: %w", addErr)
		}
		return um, nil
	}
	um.determineNextUserID()
	return um, nil
}

func (um *UserMgr) loadUsers() error {
	data, err := os.ReadFile(um.path)
	if err != nil {
		return err
	}

	var usersList []*User
	if err := json.Unmarshal(data, &usersList); err != nil {
		return fmt.Errorf("failed to unmarshal users array: %w", err)
	}

	um.mu.Lock()
	defer um.mu.Unlock()
	for _, u := range usersList {
		if u == nil || u.ID <= 0 {
			continue
		}
		if _, exists := um.users[u.ID]; exists {
			log.Printf("WARN: Duplicate user ID %d in users.json (%s). Skipping subsequent entry.", u.ID, u.Handle)
			continue
		}
		um.users[u.ID] = u
	}
	log.Printf("INFO: Loaded %d users from %s", len(um.users), um.path)
	return nil
}

func (um *UserMgr) determineNextUserID() {
	um.mu.Lock()
	defer um.mu.Unlock()
	maxID := 0
	for id := range um.users {
		if id > maxID {
			maxID = id
		}
	}
	um.nextUserID = maxID + 1
}

func (um *UserMgr) saveUsersLocked() error {
	usersList := make([]*User, 0, len(um.users))
	for _, u := range um.users {
		usersList = append(usersList, u)
	}
	sort.Slice(usersList, func(i, j int) bool { return usersList[i].ID < usersList[j].ID })

	data, err := json.MarshalIndent(usersList, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal users slice: %w", err)
	}

	dir := filepath.Dir(um.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp := um.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write users file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, um.path); err != nil {
		return fmt.Errorf("failed to replace users file %s: %w", um.path, err)
	}
	return nil
}

// SaveUsers saves the current user data to the JSON file.
func (um *UserMgr) SaveUsers() error {
	um.mu.Lock()
	defer um.mu.Unlock()
	return um.saveUsersLocked()
}

// AddUser creates an account with the next free ID.
func (um *UserMgr) AddUser(handle, realName, email string) (*User, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, fmt.Errorf("handle cannot be empty")
	}

	um.mu.Lock()
	defer um.mu.Unlock()

	for _, u := range um.users {
		if strings.EqualFold(u.Handle, handle) {
			return nil, ErrHandleExists
		}
	}

	now := time.Now()
	newUser := &User{
		ID:        um.nextUserID,
		Handle:    handle,
		RealName:  realName,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	um.users[newUser.ID] = newUser
	um.nextUserID++

	if err := um.saveUsersLocked(); err != nil {
		log.Printf("ERROR: Failed to save users after adding %s: %v", handle, err)
		delete(um.users, newUser.ID)
		um.nextUserID--
		return nil, err
	}

	log.Printf("INFO: Added user %s (ID: %d)", newUser.Handle, newUser.ID)
	userCopy := *newUser
	return &userCopy, nil
}

// UpdateUser replaces the stored copy of u and saves.
func (um *UserMgr) UpdateUser(u *User) error {
	if u == nil {
		return fmt.Errorf("cannot update nil user")
	}
	um.mu.Lock()
	defer um.mu.Unlock()
	if _, exists := um.users[u.ID]; !exists {
		return ErrUserNotFound
	}
	userCopy := *u
	userCopy.UpdatedAt = time.Now()
	um.users[u.ID] = &userCopy
	return um.saveUsersLocked()
}

// DeleteUser soft-deletes an account.
func (um *UserMgr) DeleteUser(id int) error {
	um.mu.Lock()
	defer um.mu.Unlock()
	u, exists := um.users[id]
	if !exists {
		return ErrUserNotFound
	}
	now := time.Now()
	u.DeletedUser = true
	u.DeletedAt = &now
	u.UpdatedAt = now
	log.Printf("INFO: Soft-deleted user %s (ID: %d)", u.Handle, u.ID)
	return um.saveUsersLocked()
}

// GetUserByID returns a copy of the user with the given ID.
func (um *UserMgr) GetUserByID(id int) (*User, bool) {
	um.mu.RLock()
	defer um.mu.RUnlock()
	u, ok := um.users[id]
	if !ok {
		return nil, false
	}
	userCopy := *u
	return &userCopy, true
}

// GetUserByHandle finds a user by handle (case-insensitive).
func (um *UserMgr) GetUserByHandle(handle string) (*User, bool) {
	um.mu.RLock()
	defer um.mu.RUnlock()
	for _, u := range um.users {
		if strings.EqualFold(u.Handle, handle) {
			userCopy := *u
			return &userCopy, true
		}
	}
	return nil, false
}

// UserName returns the handle for id, or "" if unknown.
func (um *UserMgr) UserName(id int) string {
	if u, ok := um.GetUserByID(id); ok {
		return u.Handle
	}
	return ""
}

// NameEntries lists live accounts for local name lookup, ordered by ID.
func (um *UserMgr) NameEntries() []config.DirectoryEntry {
	um.mu.RLock()
	defer um.mu.RUnlock()
	out := make([]config.DirectoryEntry, 0, len(um.users))
	for _, u := range um.users {
		if u.DeletedUser {
			continue
		}
		out = append(out, config.DirectoryEntry{User: u.ID, System: 0, Name: u.Handle})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out
}

// GetAllUsers returns copies of every account, ordered by ID.
func (um *UserMgr) GetAllUsers() []*User {
	um.mu.RLock()
	defer um.mu.RUnlock()
	out := make([]*User, 0, len(um.users))
	for _, u := range um.users {
		userCopy := *u
		out = append(out, &userCopy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
