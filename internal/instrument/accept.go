package instrument

import (
	"fmt"
	"strconv"
	"strings"
)

// AcceptFunc decides whether a received status code counts as success.
type AcceptFunc func(code int) bool

// DefaultAccept treats 2xx and 3xx responses as successful.
var DefaultAccept = StatusRange(200, 399)

// StatusRange accepts codes in [lo, hi].
func StatusRange(lo, hi int) AcceptFunc {
	return func(code int) bool {
		return code >= lo && code <= hi
	}
}

// AnyOf accepts a code when any of fns does.
func AnyOf(fns ...AcceptFunc) AcceptFunc {
	return func(code int) bool {
		for _, fn := range fns {
			if fn != nil && fn(code) {
				return true
			}
		}
		return false
	}
}

// ParseAcceptStatus parses a comma separated list of codes, inclusive ranges
// and classes, e.g. "200-299,304,4xx".
func ParseAcceptStatus(spec string) (AcceptFunc, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return DefaultAccept, nil
	}

	var fns []AcceptFunc
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fn, err := parseAcceptTerm(part)
		if err != nil {
			return nil, err
		}
		fns = append(fns, fn)
	}
	if len(fns) == 0 {
		return nil, fmt.Errorf("accept status %q: no status codes", spec)
	}
	if len(fns) == 1 {
		return fns[0], nil
	}
	return AnyOf(fns...), nil
}

func parseAcceptTerm(term string) (AcceptFunc, error) {
	lower := strings.ToLower(term)
	if len(lower) == 3 && strings.HasSuffix(lower, "xx") {
		class, err := strconv.Atoi(lower[:1])
		if err != nil || class < 1 || class > 5 {
			return nil, fmt.Errorf("accept status: invalid class %q", term)
		}
		return StatusRange(class*100, class*100+99), nil
	}

	if lo, hi, ok := strings.Cut(term, "-"); ok {
		from, err := parseStatusCode(lo)
		if err != nil {
			return nil, err
		}
		to, err := parseStatusCode(hi)
		if err != nil {
			return nil, err
		}
		if from > to {
			return nil, fmt.Errorf("accept status: range %q is reversed", term)
		}
		return StatusRange(from, to), nil
	}

	code, err := parseStatusCode(term)
	if err != nil {
		return nil, err
	}
	return StatusRange(code, code), nil
}

func parseStatusCode(s string) (int, error) {
	code, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("accept status: invalid code %q", s)
	}
	if code < 100 || code > 599 {
		return 0, fmt.Errorf("accept status: code %d out of range 100-599", code)
	}
	return code, nil
}
