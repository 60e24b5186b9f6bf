package tinyurl

import (
	"errors"
	"strconv"
)

var errUnexpectedBody = errors.New("tinyurl: unexpected response body")

type statusError struct{ code int }

func (e *statusError) Error() string { return "tinyurl: http " + strconv.Itoa(e.code) }
