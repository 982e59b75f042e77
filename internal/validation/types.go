package validation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Amount accepts a JSON number or a numeric string.
type Amount float64

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*a = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("amount %q is not a number", s)
	}
	*a = Amount(f)
	return nil
}

// CheckoutRequest is the payload for POST /create-checkout-session. Amount is in
// major units; an empty Currency takes the configured default.
type CheckoutRequest struct {
	Amount       Amount `json:"amount" validate:"gt=0"`
	Currency     string `json:"currency,omitempty" validate:"omitempty,max=8"`
	ProductName  string `json:"productName" validate:"required,max=200"`
	ProductImage string `json:"productImage,omitempty" validate:"omitempty,url"`
	Mail         string `json:"mail,omitempty" validate:"omitempty,max=320"`
	Phone        string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Locale       string `json:"locale,omitempty" validate:"omitempty,max=16"`
}

// CancelRequest is the payload for POST /orders/:id/cancel. Presence rules are
// checked by the refund orchestrator so that its precondition order holds.
type CancelRequest struct {
	Mail   string `json:"mail" validate:"max=320"`
	Reason string `json:"reason" validate:"max=64"`
	Detail string `json:"detail,omitempty" validate:"max=1000"`
}

// LoginRequest is the payload for POST /login
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// UserRequest is the payload for POST /users
type UserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=1,max=128"`
}
