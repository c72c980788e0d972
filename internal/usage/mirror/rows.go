package mirror

import (
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"
)

func stripNulls(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

func rowInt64(row map[string]any, key string) (int64, bool) {
	switch v := row[key].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func rowString(row map[string]any, key string) (string, bool) {
	switch v := row[key].(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

func rowDecimal(row map[string]any, key string) (decimal.Decimal, bool) {
	switch v := row[key].(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case string:
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, false
		}
		return parsed, true
	case json.Number:
		parsed, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero, false
		}
		return parsed, true
	default:
		return decimal.Zero, false
	}
}
