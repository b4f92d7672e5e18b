package httptransport

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	dErrors "meshgate/pkg/domain-errors"
)

// Params are the merged call parameters. Body numbers arrive as json.Number,
// query and path values as strings.
type Params map[string]any

// String returns the param as text, or "" when it is absent.
func (p Params) String(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the param as an integer. Absent or non-integral values are
// validation errors.
func (p Params) Int(key string) (int64, error) {
	invalid := dErrors.New(dErrors.CodeValidation, key+" must be an integer")
	switch v := p[key].(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, invalid
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, invalid
		}
		return n, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, invalid
		}
		return int64(v), nil
	default:
		return 0, invalid
	}
}

// Decode fills dst from the params by their JSON names.
func (p Params) Decode(dst any) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid parameters")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid parameters")
	}
	return nil
}

// Get adapts Params to paging.ParseQuery.
func (p Params) Get(key string) string { return p.String(key) }
