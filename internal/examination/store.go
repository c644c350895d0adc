package examination

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// VisitStore holds in-flight visits in memory. Visits idle for longer than
// the TTL are evicted and released.
type VisitStore struct {
	cache *cache.Cache
}

// NewVisitStore creates a store. onEvict runs for every visit removed by
// expiry or Delete.
func NewVisitStore(ttl time.Duration, onEvict func(v *Visit)) *VisitStore {
	s := &VisitStore{cache: cache.New(ttl, ttl/4+time.Second)}
	if onEvict != nil {
		s.cache.OnEvicted(func(_ string, item any) {
			if v, ok := item.(*Visit); ok {
				onEvict(v)
			}
		})
	}
	return s
}

func (s *VisitStore) Put(v *Visit) {
	s.cache.SetDefault(v.id, v)
}

// Get returns a visit and extends its lifetime.
func (s *VisitStore) Get(id string) (*Visit, bool) {
	item, ok := s.cache.Get(id)
	if !ok {
		return nil, false
	}
	v := item.(*Visit)
	s.cache.SetDefault(id, v)
	return v, true
}

func (s *VisitStore) Delete(id string) {
	s.cache.Delete(id)
}

// Count includes visits that expired but were not yet swept.
func (s *VisitStore) Count() int {
	return s.cache.ItemCount()
}

// DeleteAll evicts every visit, running the eviction callback for each.
func (s *VisitStore) DeleteAll() {
	for id := range s.cache.Items() {
		s.cache.Delete(id)
	}
}
