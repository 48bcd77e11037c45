// Package localcache is the durable client-side key-value cache. It holds the
// last-known session snapshot, the verified-admin marker, and per-identity
// last-seen notification counts; only the session manager and the unread
// counter write these keys.
package localcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/academe-app/academe/internal/model"
)

const (
	profileKey = "profile.json"
	adminKey   = "admin_id"
	seenPrefix = "seen_"
)

// Cache stores one value per key as a small file under dir.
type Cache struct {
	dir string
}

// DefaultDir resolves the per-user config directory for the portal.
func DefaultDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "academe")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "academe")
}

// New opens a cache rooted at dir; empty dir selects DefaultDir.
func New(dir string) *Cache {
	if dir == "" {
		dir = DefaultDir()
	}
	return &Cache{dir: dir}
}

// Get returns the stored value for key, if any.
func (c *Cache) Get(key string) (string, bool) {
	b, err := os.ReadFile(filepath.Join(c.dir, key))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(b)), true
}

// Set stores value under key.
func (c *Cache) Set(key, value string) error {
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.dir, key), []byte(value), 0o600)
}

// Remove deletes the value for key; removing an absent key is not an error.
func (c *Cache) Remove(key string) {
	_ = os.Remove(filepath.Join(c.dir, key))
}

// SaveProfile persists the session snapshot used for optimistic hydration.
func (c *Cache) SaveProfile(s *model.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.Set(profileKey, string(raw))
}

// Profile loads the cached session snapshot, if present and well-formed.
func (c *Cache) Profile() (*model.Session, bool) {
	raw, ok := c.Get(profileKey)
	if !ok {
		return nil, false
	}
	var s model.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, false
	}
	return &s, true
}

// ClearProfile drops the cached session snapshot.
func (c *Cache) ClearProfile() { c.Remove(profileKey) }

// SetAdminID persists the PIN-verified admin marker for an identity id.
func (c *Cache) SetAdminID(uid string) error { return c.Set(adminKey, uid) }

// AdminID returns the identity id previously verified as admin, if any.
func (c *Cache) AdminID() string {
	v, _ := c.Get(adminKey)
	return v
}

// ClearAdminID drops the verified-admin marker.
func (c *Cache) ClearAdminID() { c.Remove(adminKey) }

// SeenCount returns the persisted last-seen notification total for uid.
func (c *Cache) SeenCount(uid string) int {
	v, ok := c.Get(seenPrefix + uid)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// SetSeenCount persists the last-seen notification total for uid.
func (c *Cache) SetSeenCount(uid string, n int) error {
	return c.Set(seenPrefix+uid, strconv.Itoa(n))
}
