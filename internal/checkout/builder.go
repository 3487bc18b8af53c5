package checkout

import (
	"html"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	"github.com/pahana-edu/bookshop-checkout/internal/auth"
	"github.com/pahana-edu/bookshop-checkout/internal/cart"
	"github.com/pahana-edu/bookshop-checkout/internal/money"
	"github.com/pahana-edu/bookshop-checkout/internal/offer"
	"github.com/pahana-edu/bookshop-checkout/internal/pricing"
)

// Problems reported besides missing field names.
const (
	ProblemEmptyCart   = "empty cart"
	ProblemMissingUser = "missing user"
	// ProblemAmountOutOfRange is reported by placement when the cart total cannot be represented.
	ProblemAmountOutOfRange = "amount out of range"
)

var (
	validate    = newValidator()
	plainText   = bluemonday.StrictPolicy()
	fieldsOrder = []string{"branch", "paymentMethod", "deliveryAddress"}
)

// Fields are the checkout form values supplied by the customer.
type Fields struct {
	Branch          string `json:"branch" validate:"required"`
	PaymentMethod   string `json:"paymentMethod" validate:"required"`
	DeliveryAddress string `json:"deliveryAddress" validate:"required"`
}

// Submission is the order body sent to the bookshop backend.
type Submission struct {
	UserID          string      `json:"userId"`
	UserEmail       string      `json:"userEmail"`
	Items           []cart.Line `json:"items"`
	Branch          string      `json:"branch"`
	PaymentMethod   string      `json:"paymentMethod"`
	DeliveryAddress string      `json:"deliveryAddress"`
	OfferID         *string     `json:"offerId"`
	TaxAmount       money.Money `json:"taxAmount"`
	DeliveryCharges money.Money `json:"deliveryCharges"`
	DiscountAmount  money.Money `json:"discountAmount"`
	FinalAmount     money.Money `json:"finalAmount"`
}

// ValidationError lists every violated checkout requirement.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid checkout: " + strings.Join(e.Problems, ", ")
}

// Has reports whether problem is among the reported problems.
func (e *ValidationError) Has(problem string) bool {
	for _, p := range e.Problems {
		if p == problem {
			return true
		}
	}
	return false
}

// BuildSubmission assembles the order body. It performs no I/O; every problem is reported at once.
func BuildSubmission(sess auth.Session, lines []cart.Line, fields Fields, selected *offer.Offer, b pricing.Breakdown) (Submission, error) {
	fields = cleanFields(fields)

	var problems []string
	if len(lines) == 0 {
		problems = append(problems, ProblemEmptyCart)
	}
	if strings.TrimSpace(sess.UserID) == "" {
		problems = append(problems, ProblemMissingUser)
	}
	problems = append(problems, missingFields(fields)...)
	if len(problems) > 0 {
		return Submission{}, &ValidationError{Problems: problems}
	}

	sub := Submission{
		UserID:          strings.TrimSpace(sess.UserID),
		UserEmail:       strings.TrimSpace(sess.Email),
		Items:           cart.Canonicalize(lines),
		Branch:          fields.Branch,
		PaymentMethod:   fields.PaymentMethod,
		DeliveryAddress: fields.DeliveryAddress,
		TaxAmount:       b.TaxAmount.NonNegative(),
		DeliveryCharges: b.DeliveryCharges.NonNegative(),
		DiscountAmount:  b.DiscountAmount.NonNegative(),
		FinalAmount:     b.FinalTotal.NonNegative(),
	}
	if selected != nil && selected.OfferID != "" {
		id := selected.OfferID
		sub.OfferID = &id
	}
	return sub, nil
}

func cleanFields(f Fields) Fields {
	return Fields{
		Branch:          strings.TrimSpace(f.Branch),
		PaymentMethod:   strings.TrimSpace(f.PaymentMethod),
		DeliveryAddress: sanitizeAddress(f.DeliveryAddress),
	}
}

// sanitizeAddress strips markup and collapses whitespace so the address is plain text. Entities
// are decoded before sanitising so escaped tags are stripped too; the sanitiser re-escapes what
// remains, hence the second decode.
func sanitizeAddress(s string) string {
	stripped := html.UnescapeString(plainText.Sanitize(html.UnescapeString(s)))
	return strings.Join(strings.Fields(stripped), " ")
}

func missingFields(f Fields) []string {
	err := validate.Struct(f)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return append([]string(nil), fieldsOrder...)
	}
	failed := make(map[string]bool, len(verrs))
	for _, fe := range verrs {
		failed[fe.Field()] = true
	}
	out := make([]string, 0, len(failed))
	for _, name := range fieldsOrder {
		if failed[name] {
			out = append(out, name)
		}
	}
	return out
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
