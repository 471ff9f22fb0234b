package utils

// Contains reports whether value is present in list.
func Contains[T comparable](value T, list []T) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
