package binder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/morezero/automation-client/pkg/handler"
)

// Coerce converts a wire string to the declared parameter type: "true"/"false"
// to bool, a decimal string to int (base 10, truncating anything after the
// leading integer), anything else is passed through as a string.
func Coerce(t handler.ParameterType, raw string) (interface{}, error) {
	switch t {
	case handler.TypeBoolean:
		switch raw {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("%q is not a boolean", raw)
	case handler.TypeNumber:
		return parseLeadingInt(raw)
	default:
		return raw, nil
	}
}

func parseLeadingInt(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, fmt.Errorf("%q is not a number", raw)
	}
	n, err := strconv.ParseInt(s[:end], 10, 0)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number: %w", raw, err)
	}
	return int(n), nil
}
