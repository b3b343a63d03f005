package flight

// TagHost is anything that carries tag metadata: machines and run records.
type TagHost interface {
	GetTag(tag any) (any, bool)
	SetTag(tag any, val any)
}

// Tag is a type-safe key for metadata
type Tag[T any] struct {
	key string
}

// NewTag creates a new tag with the given key
func NewTag[T any](key string) Tag[T] {
	return Tag[T]{key: key}
}

// Key returns the tag's key (for debugging)
func (t Tag[T]) Key() string {
	return t.key
}

// Get retrieves the tag value from a host
func (t Tag[T]) Get(h TagHost) (T, bool) {
	val, ok := h.GetTag(t)
	if !ok {
		var zero T
		return zero, false
	}
	return val.(T), true
}

// MustGet retrieves the tag value or panics if not found
func (t Tag[T]) MustGet(h TagHost) T {
	val, ok := t.Get(h)
	if !ok {
		panic("tag " + t.key + " not found")
	}
	return val
}

// GetOrDefault retrieves the tag value or returns a default
func (t Tag[T]) GetOrDefault(h TagHost, defaultVal T) T {
	if val, ok := t.Get(h); ok {
		return val
	}
	return defaultVal
}

// Set stores the tag value on a host
func (t Tag[T]) Set(h TagHost, val T) {
	h.SetTag(t, val)
}
