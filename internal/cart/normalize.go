package cart

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pahana-edu/bookshop-checkout/internal/money"
)

// Field name variants seen in bookshop cart payloads, in priority order.
var (
	productIDKeys   = []string{"productId", "id"}
	productNameKeys = []string{"productName", "name"}
	quantityKeys    = []string{"quantity", "productQuantity", "qty"}
	priceKeys       = []string{"productPrice", "price", "unitPrice"}
)

// Correction records a field that was defaulted while normalizing a record.
type Correction struct {
	Index  int    `json:"index"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
	Raw    any    `json:"raw,omitempty"`
}

const (
	ReasonMissing    = "missing"
	ReasonUnparsable = "unparsable"
	ReasonBelowMin   = "below_minimum"
	ReasonNegative   = "negative"
	ReasonAboveMax   = "above_maximum"
)

var leadingDecimal = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// Normalize maps heterogeneous cart records onto Line values. It never fails: missing or
// unparsable fields fall back to defaults and are reported as corrections.
func Normalize(records []map[string]any) ([]Line, []Correction) {
	lines := make([]Line, 0, len(records))
	var corrections []Correction
	for i, rec := range records {
		line, fixes := normalizeOne(i, rec)
		lines = append(lines, line)
		corrections = append(corrections, fixes...)
	}
	return lines, corrections
}

func normalizeOne(idx int, rec map[string]any) (Line, []Correction) {
	var fixes []Correction
	note := func(field, reason string, raw any) {
		fixes = append(fixes, Correction{Index: idx, Field: field, Reason: reason, Raw: raw})
	}

	var line Line

	if raw, ok := firstTruthy(rec, productIDKeys); ok {
		line.ProductID, _ = text(raw)
		line.ProductID = strings.TrimSpace(line.ProductID)
	}
	if line.ProductID == "" {
		note("productId", ReasonMissing, nil)
	}

	if raw, ok := firstTruthy(rec, productNameKeys); ok {
		line.ProductName, _ = text(raw)
		line.ProductName = strings.TrimSpace(line.ProductName)
	}
	if line.ProductName == "" {
		line.ProductName = UnknownProductName
		note("productName", ReasonMissing, nil)
	}

	line.Quantity = 1
	if raw, ok := firstTruthy(rec, quantityKeys); !ok {
		note("quantity", ReasonMissing, nil)
	} else if q, ok := parseQuantity(raw); !ok {
		note("quantity", ReasonUnparsable, raw)
	} else if q < 1 {
		note("quantity", ReasonBelowMin, raw)
	} else if q > MaxQuantity {
		line.Quantity = MaxQuantity
		note("quantity", ReasonAboveMax, raw)
	} else {
		line.Quantity = q
	}

	if raw, ok := firstTruthy(rec, priceKeys); !ok {
		note("unitPrice", ReasonMissing, nil)
	} else if p, ok := parsePrice(raw); !ok {
		note("unitPrice", ReasonUnparsable, raw)
	} else if p < 0 {
		note("unitPrice", ReasonNegative, raw)
	} else if p > MaxUnitPrice {
		line.UnitPrice = MaxUnitPrice
		note("unitPrice", ReasonAboveMax, raw)
	} else {
		line.UnitPrice = p
	}

	return line, fixes
}

// FromQuantities adapts the legacy {productId: quantity} cart map into records Normalize accepts.
// Records are ordered by product id.
func FromQuantities(quantities map[string]any) []map[string]any {
	ids := make([]string, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	records := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		records = append(records, map[string]any{
			"productId": id,
			"quantity":  quantities[id],
		})
	}
	return records
}

// firstTruthy returns the first variant whose value is set and not a zero value
// (nil, "", 0, false or NaN).
func firstTruthy(rec map[string]any, keys []string) (any, bool) {
	for _, key := range keys {
		v, ok := rec[key]
		if ok && truthy(v) {
			return v, true
		}
	}
	return nil, false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0 && !math.IsNaN(t)
	case float32:
		return t != 0 && !math.IsNaN(float64(t))
	case int:
		return t != 0
	case int64:
		return t != 0
	case int32:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err != nil || (f != 0 && !math.IsNaN(f))
	default:
		return true
	}
}

func text(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// parseQuantity reads the leading integer of the value, so "3.9" is 3 and "12abc" is 12.
func parseQuantity(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) || math.Abs(t) > math.MaxInt32 {
			return 0, false
		}
		return int(t), true
	case int:
		return t, true
	case int64:
		if t > math.MaxInt32 || t < math.MinInt32 {
			return 0, false
		}
		return int(t), true
	}
	s, ok := text(v)
	if !ok {
		return 0, false
	}
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	n, err := strconv.ParseInt(s[:end], 10, 32)
	if err != nil {
		return 0, false
	}
	return int(n), true
}

// parsePrice reads the leading decimal of the value in major units.
func parsePrice(v any) (money.Money, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return money.FromFloat(t), true
	case int:
		return money.Money(t) * 100, true
	case int64:
		return money.Money(t) * 100, true
	}
	s, ok := text(v)
	if !ok {
		return 0, false
	}
	m := leadingDecimal.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	if m[2] != "" {
		f, err := strconv.ParseFloat(m[0], 64)
		if err != nil || math.IsInf(f, 0) {
			return 0, false
		}
		return money.FromFloat(f), true
	}
	p, err := money.Parse(m[0])
	if err != nil {
		return 0, false
	}
	return p, true
}
