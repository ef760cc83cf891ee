package vm

// dangerousKeys are the host prototype-chain entry points. Scripts may never
// read, write or construct properties under these names.
var dangerousKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

// IsDangerousKey reports whether key is a sandbox-escaping property name.
func IsDangerousKey(key string) bool {
	return dangerousKeys[key]
}

// DangerousKeys lists the rejected names.
func DangerousKeys() []string {
	return []string{"__proto__", "constructor", "prototype"}
}

// CheckKey fails with a SecurityError when key is a dangerous name. Non-string
// keys never are.
func CheckKey(key any) error {
	if s, ok := key.(string); ok && dangerousKeys[s] {
		return SecurityViolation(s)
	}
	return nil
}
