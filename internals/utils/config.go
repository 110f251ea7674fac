package utils

// GetDefaultValue returns config[key] when it holds a T, otherwise defaultValue.
func GetDefaultValue[T any](config map[string]interface{}, key string, defaultValue T) T {
	if config == nil {
		return defaultValue
	}
	if value, ok := config[key].(T); ok {
		return value
	}
	return defaultValue
}
