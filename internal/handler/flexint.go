package handler

import (
	"errors"
	"strconv"
	"strings"
)

var errHostelFormat = errors.New("hostel_id must be an integer")

// flexInt accepts a JSON number or a numeric string. Scanner apps send the
// hostel id both ways.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = 0
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
		if s == "" {
			*f = 0
			return nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return errHostelFormat
	}
	*f = flexInt(n)
	return nil
}
