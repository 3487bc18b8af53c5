// Package offer models bookshop promotional offers and resolves the one selected at checkout.
package offer

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pahana-edu/bookshop-checkout/internal/money"
)

var (
	// ErrNotFound is returned when the selected offer id is not among the published offers.
	ErrNotFound = errors.New("offer not found")
	// ErrInactive is returned when the offer has been switched off.
	ErrInactive = errors.New("offer not active")
	// ErrNotStarted is returned before the offer's validFrom instant.
	ErrNotStarted = errors.New("offer not yet valid")
	// ErrExpired is returned after the offer's validTo instant.
	ErrExpired = errors.New("offer expired")
)

var leadingDecimal = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)`)

// Offer is a percentage discount published by the bookshop.
type Offer struct {
	OfferID     string     `json:"offerId"`
	Title       string     `json:"offerTitle"`
	Description string     `json:"offerDescription,omitempty"`
	Value       string     `json:"offerValue"`
	Active      bool       `json:"isActive"`
	ValidFrom   *time.Time `json:"validFrom,omitempty"`
	ValidTo     *time.Time `json:"validTo,omitempty"`
}

// PercentBps parses Value ("20%", "12.5", 20) into basis points. The second result is false
// when the value is missing, unparsable or not positive, in which case no discount applies.
func (o Offer) PercentBps() (int64, bool) {
	raw := strings.TrimSpace(strings.Replace(o.Value, "%", "", 1))
	prefix := leadingDecimal.FindString(raw)
	if prefix == "" {
		return 0, false
	}
	// Percent with two fraction digits is the same integer as basis points.
	bps, err := money.Parse(prefix)
	if err != nil || bps <= 0 {
		return 0, false
	}
	return int64(bps), true
}

// Validate reports whether the offer may be applied at now.
func (o Offer) Validate(now time.Time) error {
	if !o.Active {
		return ErrInactive
	}
	if o.ValidFrom != nil && now.Before(*o.ValidFrom) {
		return ErrNotStarted
	}
	if o.ValidTo != nil && now.After(*o.ValidTo) {
		return ErrExpired
	}
	return nil
}

// Resolve finds the offer with the given id and checks it can be applied at now.
// An empty id means no offer was selected and yields (nil, nil).
func Resolve(offers []Offer, id string, now time.Time) (*Offer, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	for i := range offers {
		if offers[i].OfferID != id {
			continue
		}
		if err := offers[i].Validate(now); err != nil {
			return nil, err
		}
		o := offers[i]
		return &o, nil
	}
	return nil, ErrNotFound
}

// Applicable filters the offers a customer can pick at now.
func Applicable(offers []Offer, now time.Time) []Offer {
	out := make([]Offer, 0, len(offers))
	for _, o := range offers {
		if o.Validate(now) == nil {
			out = append(out, o)
		}
	}
	return out
}

// UnmarshalJSON accepts both the backend's offer records and this service's own encoding.
func (o *Offer) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*o = Offer{
		OfferID:     pickString(raw, "offerId", "id"),
		Title:       pickString(raw, "offerTitle", "title", "offerName"),
		Description: pickString(raw, "offerDescription", "description"),
		Value:       pickString(raw, "offerValue", "value", "discountPercentage"),
		Active:      true,
		ValidFrom:   pickTime(raw, "validFrom"),
		ValidTo:     pickTime(raw, "validTo"),
	}
	if v, ok := raw["isActive"]; ok && v != nil {
		switch t := v.(type) {
		case bool:
			o.Active = t
		case float64:
			o.Active = t != 0
		case string:
			o.Active, _ = strconv.ParseBool(t)
		}
	}
	return nil
}

func pickString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		switch t := raw[key].(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s
			}
		case float64:
			if t != 0 {
				return strconv.FormatFloat(t, 'f', -1, 64)
			}
		}
	}
	return ""
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func pickTime(raw map[string]any, key string) *time.Time {
	s, ok := raw[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
