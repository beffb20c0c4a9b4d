package helpers

// Float64Pointer returns a pointer to the given float64 value.
func Float64Pointer(f float64) *float64 {
	return &f
}

// IntPointer returns a pointer to the given int value.
func IntPointer(i int) *int {
	return &i
}

// StringPointer returns a pointer to the given string value.
func StringPointer(s string) *string {
	return &s
}

// BoolPointer returns a pointer to the given bool value.
func BoolPointer(b bool) *bool {
	return &b
}
