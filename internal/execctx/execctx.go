// Package execctx builds isolated execution contexts for request-scoped
// work. A context owns its metadata outright: values are deep-copied at
// every boundary so no two contexts can observe each other's mutations,
// and a caller-owned map can never back more than one context.
package execctx

import (
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSharedMetadata reports a metadata map that already backs another
// context. Sharing one map across contexts defeats the isolation the
// deep copy provides, so registration is identity-checked and refused.
var ErrSharedMetadata = errors.New("execctx: metadata map already registered to another context")

// Context is an isolated execution scope. The zero value is not usable;
// contexts come from a Factory or from Fork.
type Context struct {
	id        string
	service   string
	createdAt time.Time

	mu       sync.RWMutex
	metadata map[string]any
}

// ID returns the unique context identifier.
func (c *Context) ID() string { return c.id }

// Service returns the service name the context was created for.
func (c *Context) Service() string { return c.service }

// CreatedAt returns the creation time in UTC.
func (c *Context) CreatedAt() time.Time { return c.createdAt }

// Get returns a copy of the named metadata value. Mutating the returned
// value never changes the context.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.metadata[key]
	if !ok {
		return nil, false
	}
	return copyValue(value), true
}

// Set stores a copy of value under key.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = copyValue(value)
}

// MetadataSnapshot returns a deep copy of the full metadata map.
func (c *Context) MetadataSnapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyMap(c.metadata)
}

// Fork creates a child context with a fresh ID and a deep copy of the
// parent's metadata. Parent and child diverge freely afterwards.
func (c *Context) Fork() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Context{
		id:        uuid.New().String(),
		service:   c.service,
		createdAt: time.Now().UTC(),
		metadata:  copyMap(c.metadata),
	}
}

// registration pins a caller-owned metadata map to the context that
// first registered it. Holding the map keeps its allocation live, so
// an address in the seen table always refers to exactly this map and
// never to a later allocation that happened to reuse the address.
type registration struct {
	metadata map[string]any
	owner    string
}

// Factory creates contexts and remembers which caller-owned metadata
// maps already back one. Registered maps are retained for the lifetime
// of the Factory.
type Factory struct {
	mu   sync.Mutex
	seen map[uintptr]registration
}

// NewFactory returns an empty Factory.
func NewFactory() *Factory {
	return &Factory{seen: make(map[uintptr]registration)}
}

// New creates a context for the named service. The metadata map is
// deep-copied on entry; passing the same map a second time returns
// ErrSharedMetadata. A nil map yields an empty context.
func (f *Factory) New(service string, metadata map[string]any) (*Context, error) {
	id := uuid.New().String()

	if metadata != nil {
		ptr := reflect.ValueOf(metadata).Pointer()
		f.mu.Lock()
		if reg, ok := f.seen[ptr]; ok {
			f.mu.Unlock()
			return nil, &SharedMetadataError{Owner: reg.owner}
		}
		f.seen[ptr] = registration{metadata: metadata, owner: id}
		f.mu.Unlock()
	}

	return &Context{
		id:        id,
		service:   service,
		createdAt: time.Now().UTC(),
		metadata:  copyMap(metadata),
	}, nil
}

// SharedMetadataError names the context that first registered the map.
type SharedMetadataError struct {
	Owner string
}

func (e *SharedMetadataError) Error() string {
	return ErrSharedMetadata.Error() + " (owner " + e.Owner + ")"
}

// Is lets errors.Is match against ErrSharedMetadata.
func (e *SharedMetadataError) Is(target error) bool {
	return target == ErrSharedMetadata
}

// copyMap deep-copies a metadata map. A nil input yields an empty map
// so every context owns a writable store.
func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = copyValue(value)
	}
	return out
}

// copyValue deep-copies the container shapes metadata is made of.
// Scalars are returned as-is.
func copyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return copyMap(v)
	case map[string]string:
		out := make(map[string]string, len(v))
		for key, item := range v {
			out[key] = item
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	default:
		return v
	}
}
