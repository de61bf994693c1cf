package qa

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/noor-live/backend/pkg/errs"
)

// Boundary payloads are decoded into interface{} values whose runtime
// representation depends on the sender's serializer. These helpers coerce
// them with explicit type checks and fail closed on anything unexpected
// instead of casting.

func coerceInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("number %q is not an integer: %w", n.String(), errs.ErrMalformedPayload)
		}
		return int(i), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("number %v is not an integer: %w", n, errs.ErrMalformedPayload)
		}
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T: %w", v, errs.ErrMalformedPayload)
	}
}

func coerceString(v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T: %w", v, errs.ErrMalformedPayload)
	}
	return s, nil
}
