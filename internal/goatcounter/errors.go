package goatcounter

import "fmt"

// TransportError reports a network failure, a non-2xx response or an
// undecodable body from GoatCounter. It is fatal to the current run; the
// whole job is safe to retry later.
type TransportError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("goatcounter %s: unexpected status %d: %s", e.URL, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("goatcounter %s: unexpected status %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("goatcounter %s: %v", e.URL, e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
