package swcache

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// coalesceSlice returns a copy of v, or of def when v is empty.
func coalesceSlice[T any](v, def []T) []T {
	if len(v) == 0 {
		v = def
	}
	return append([]T(nil), v...)
}
