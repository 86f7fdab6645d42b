package testutil

// FixedRandom returns a RAND6 source that always yields s.
//
// If s is empty it yields "TEST00".
func FixedRandom(s string) func() string {
	if s == "" {
		s = "TEST00"
	}
	return func() string { return s }
}
