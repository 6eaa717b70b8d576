package query

// GetData returns the data stored under key when it holds a T.
func GetData[T any](c *Cache, key string) (T, bool) {
	var zero T
	v, ok := c.Data(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// SetData is SetQueryData with a typed updater. previous is the zero value
// when key holds no data or data of another type.
func SetData[T any](c *Cache, key string, updater func(previous T) T) {
	if updater == nil {
		return
	}
	c.SetQueryData(key, func(previous any) any {
		typed, _ := previous.(T)
		return updater(typed)
	})
}
