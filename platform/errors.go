package platform

import "errors"

var (
	ErrInvalidAPIEndpoint = errors.New("invalid api endpoint")
	ErrUnexpectedResponse = errors.New("unexpected platform response")
	ErrBatchSizeMismatch  = errors.New("platform returned a different number of results than calls")
)
