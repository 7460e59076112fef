package failover

// Mode is the process-wide store mode.
type Mode int32

const (
	// Shared routes state operations to the shared store.
	Shared Mode = iota

	// LocalFallback routes state operations to the in-process store.
	LocalFallback
)

// String returns the snake_case name of the mode.
func (m Mode) String() string {
	switch m {
	case Shared:
		return "shared"
	case LocalFallback:
		return "local_fallback"
	default:
		return "unknown"
	}
}

// Observer is notified of coordinator events.
type Observer interface {
	// FailoverTransition is called after the mode changed.
	FailoverTransition(from, to Mode)

	// StoreError is called for every failed shared store call. op is
	// "probe", "request" or "reconcile".
	StoreError(op string)

	// KeysReconciled is called with the number of keys pushed by a
	// reconciliation pass.
	KeysReconciled(n int)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
