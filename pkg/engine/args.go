package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMalformed = errors.New("malformed event")

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// intArg accepts both json numbers and numeric strings since browser clients send either.
func intArg(raw json.RawMessage) (int, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := strconv.Atoi(n.String()); err == nil {
			return v, nil
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return v, nil
		}
	}
	return 0, malformed("expected an integer, got %s", string(raw))
}

func stringArg(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", malformed("expected a string, got %s", string(raw))
	}
	return s, nil
}

func arrayArg(raw json.RawMessage, min int) ([]json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, malformed("expected an array, got %s", string(raw))
	}
	if len(parts) < min {
		return nil, malformed("expected at least %d values, got %d", min, len(parts))
	}
	return parts, nil
}

// parseSlot decodes a "stage<N>_<I>" label into a 0-based stage and card index.
func parseSlot(label string) (int, int, error) {
	rest, ok := strings.CutPrefix(label, "stage")
	if !ok {
		return 0, 0, malformed("bad slot label %q", label)
	}
	stagePart, indexPart, ok := strings.Cut(rest, "_")
	if !ok {
		return 0, 0, malformed("bad slot label %q", label)
	}
	stage, err := strconv.Atoi(stagePart)
	if err != nil || stage < 1 || stage > 2 {
		return 0, 0, malformed("bad stage in slot label %q", label)
	}
	index, err := strconv.Atoi(indexPart)
	if err != nil {
		return 0, 0, malformed("bad index in slot label %q", label)
	}
	return stage - 1, index, nil
}

// optionalInts decodes a list of totals, leaving nil for every entry that is not numeric.
func optionalInts(raw json.RawMessage) ([]*int, error) {
	parts, err := arrayArg(raw, 0)
	if err != nil {
		return nil, err
	}
	out := make([]*int, len(parts))
	for i, p := range parts {
		if v, err := intArg(p); err == nil {
			out[i] = &v
		}
	}
	return out, nil
}
