package transport

// Kind categorizes the outcome of a call
type Kind int

const (
	KindOK              Kind = iota
	KindUnauthenticated      // No credential, no request issued
	KindUnauthorized         // HTTP 401, credential dropped
	KindTransient            // Network error, timeout or non-2xx
	KindMalformed            // 2xx with a payload that failed to decode
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindUnauthorized:
		return "unauthorized"
	case KindTransient:
		return "transient"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Counted reports whether the outcome feeds the failure streak
func (k Kind) Counted() bool {
	return k == KindTransient || k == KindMalformed
}

// Request describes one call to the job server
type Request struct {
	Method string // GET when empty
	Path   string
	Body   []byte

	// Decode parses a 2xx body. A decode error turns the call into
	// KindMalformed.
	Decode func(body []byte, contentType string) error
}

// Result is the uniform outcome of a guarded call
type Result struct {
	OK          bool
	Status      int
	Kind        Kind
	Body        []byte
	ContentType string
	Err         error
}
