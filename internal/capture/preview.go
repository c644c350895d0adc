package capture

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

type previewEntry struct {
	owner string
	image *Image
}

// PreviewRegistry hands out revocable preview tokens for captured images.
// Every token is released by Revoke, by RevokeAll or by expiry.
type PreviewRegistry struct {
	cache *cache.Cache

	mu      sync.Mutex
	byOwner map[string]map[string]struct{}
}

// NewPreviewRegistry creates a registry whose tokens expire after ttl.
func NewPreviewRegistry(ttl time.Duration) *PreviewRegistry {
	r := &PreviewRegistry{
		cache:   cache.New(ttl, ttl/2+time.Second),
		byOwner: make(map[string]map[string]struct{}),
	}
	r.cache.OnEvicted(func(token string, v any) {
		if entry, ok := v.(previewEntry); ok {
			r.forget(entry.owner, token)
		}
	})
	return r
}

// Acquire registers img for owner and returns its preview token.
func (r *PreviewRegistry) Acquire(owner string, img *Image) string {
	token := uuid.NewString()

	r.mu.Lock()
	tokens, ok := r.byOwner[owner]
	if !ok {
		tokens = make(map[string]struct{})
		r.byOwner[owner] = tokens
	}
	tokens[token] = struct{}{}
	r.mu.Unlock()

	r.cache.SetDefault(token, previewEntry{owner: owner, image: img})
	return token
}

// Get returns the image behind a live token.
func (r *PreviewRegistry) Get(token string) (*Image, bool) {
	v, ok := r.cache.Get(token)
	if !ok {
		return nil, false
	}
	return v.(previewEntry).image, true
}

// Revoke releases a single token.
func (r *PreviewRegistry) Revoke(token string) {
	r.cache.Delete(token)
}

// RevokeAll releases every token held by owner and returns how many were live.
func (r *PreviewRegistry) RevokeAll(owner string) int {
	r.mu.Lock()
	tokens := r.byOwner[owner]
	delete(r.byOwner, owner)
	r.mu.Unlock()

	for token := range tokens {
		r.cache.Delete(token)
	}
	return len(tokens)
}

// Outstanding returns the number of live tokens for owner.
func (r *PreviewRegistry) Outstanding(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byOwner[owner])
}

func (r *PreviewRegistry) forget(owner, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tokens, ok := r.byOwner[owner]; ok {
		delete(tokens, token)
		if len(tokens) == 0 {
			delete(r.byOwner, owner)
		}
	}
}
