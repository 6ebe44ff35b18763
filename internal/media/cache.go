package media

import "sync"

// FileState is the backend processing state of an uploaded file.
type FileState string

const (
	StateUnspecified FileState = ""
	StateProcessing  FileState = "PROCESSING"
	StateActive      FileState = "ACTIVE"
	StateFailed      FileState = "FAILED"
)

// CachedUpload maps an external attachment to its uploaded backend resource.
type CachedUpload struct {
	ExternalID string
	Handle     string
	URI        string
	MIMEType   string
	State      FileState
}

// Cache holds at most one upload per attachment identity for the process
// lifetime. Entries are replaced as a whole.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]CachedUpload
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]CachedUpload)}
}

// Get returns the entry for externalID.
func (c *Cache) Get(externalID string) (CachedUpload, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[externalID]
	return entry, ok
}

// Put stores entry, replacing any previous one for the same identity.
func (c *Cache) Put(entry CachedUpload) {
	if entry.ExternalID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.ExternalID] = entry
}

// PutIfAbsent stores entry unless its identity is already cached.
func (c *Cache) PutIfAbsent(entry CachedUpload) bool {
	if entry.ExternalID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[entry.ExternalID]; ok {
		return false
	}
	c.entries[entry.ExternalID] = entry
	return true
}

// Delete evicts externalID.
func (c *Cache) Delete(externalID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, externalID)
}

// Len returns the number of cached uploads.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
