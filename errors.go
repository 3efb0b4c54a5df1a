package imgpipe

import (
	"context"
	"errors"
	"fmt"
)

// NetworkError wraps transport failures and non-success HTTP statuses from
// the streaming loader.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("imgpipe: network: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DecodeError reports a payload that could not be converted to a bitmap.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("imgpipe: decode %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsCancelled reports whether err stems from cooperative cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func acquireErr(url string, err error) error {
	return fmt.Errorf("imgpipe: acquire %s: %w", url, err)
}
