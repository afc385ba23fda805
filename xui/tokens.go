package xui

import (
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
)

// SessionCache keeps authenticated session cookies per panel so callers
// skip a login round-trip on every request. Entries expire on their own
// TTL regardless of the remote session lifetime; absence just means the
// client logs in on demand. Concurrent overwrites are harmless and only
// cost an extra login.
type SessionCache struct {
	store *cache.Cache
}

func NewSessionCache(ttl time.Duration) *SessionCache {
	return &SessionCache{store: cache.New(ttl, ttl)}
}

func (s *SessionCache) Get(panelId int) (string, bool) {
	v, ok := s.store.Get(strconv.Itoa(panelId))
	if !ok {
		return "", false
	}
	cookie, ok := v.(string)
	return cookie, ok
}

func (s *SessionCache) Put(panelId int, cookie string) {
	s.store.SetDefault(strconv.Itoa(panelId), cookie)
}

// Invalidate drops the cached session, used when a panel is deleted or a
// session is known to be stale.
func (s *SessionCache) Invalidate(panelId int) {
	s.store.Delete(strconv.Itoa(panelId))
}
