package common

import "errors"

var (
	ErrEncoding         = errors.New("encoding error")
	ErrKeyAccess        = errors.New("key access error")
	ErrNetwork          = errors.New("network error")
	ErrCapacityExceeded = errors.New("plaintext exceeds shielding key capacity")
	ErrBoundary         = errors.New("sealed boundary reported failure")
	ErrValueDecode      = errors.New("value decode error")
	ErrSubmit           = errors.New("transaction submission failed")
	ErrNotServed        = errors.New("shard not served by worker")
)
