package webhooks

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/imrishuroy/go-checkout-reconcile/internal/processor"
)

// payload is a decoded event with its order-like objects located once.
type payload struct {
	root any

	// order is the processor order object, nil when the event carries none.
	order map[string]any

	// object is Stripe's data.object, only looked at when order is nil.
	object map[string]any
}

// extractor pulls one field out of a payload. Chains are tried in order and the
// first extractor reporting ok wins.
type extractor[T any] func(p payload) (T, bool)

func first[T any](p payload, chain []extractor[T]) (T, bool) {
	for _, ex := range chain {
		if v, ok := ex(p); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// orderPaths are the nesting shapes an order object has been seen under.
var orderPaths = [][]string{
	{"eventData", "data", "order"},
	{"eventData", "data", "data", "order"},
	{"data", "order"},
	{"data", "data", "order"},
}

var typeChain = []extractor[string]{
	func(p payload) (string, bool) {
		s, ok := stringAt(p.root, "object")
		// Stripe envelopes carry object=event; the type lives in "type".
		return s, ok && s != "event"
	},
	func(p payload) (string, bool) { return stringAt(p.root, "type") },
}

var statusChain = append(append([]extractor[string]{}, typeChain...),
	func(p payload) (string, bool) { return stringAt(p.order, "status") },
)

var processorOrderIDChain = []extractor[string]{
	func(p payload) (string, bool) { return stringAt(p.order, "id") },
	func(p payload) (string, bool) {
		// with an order object present, data.id names the envelope, not the order
		if p.order != nil {
			return "", false
		}
		return stringAt(p.root, "data", "id")
	},
	func(p payload) (string, bool) {
		switch stripeKind(p) {
		case "payment_intent":
			return stringAt(p.object, "id")
		case "checkout.session", "charge", "refund":
			return stringAt(p.object, "payment_intent")
		}
		return "", false
	},
}

var sessionIDChain = []extractor[string]{
	func(p payload) (string, bool) { return stringAt(p.order, "sessionId") },
	func(p payload) (string, bool) { return stringAt(p.order, "checkoutSessionId") },
	func(p payload) (string, bool) { return stringAt(p.root, "data", "sessionId") },
	func(p payload) (string, bool) {
		if stripeKind(p) != "checkout.session" {
			return "", false
		}
		return stringAt(p.object, "id")
	},
}

var localOrderIDChain = []extractor[string]{
	func(p payload) (string, bool) { return stringAt(p.object, "metadata", "order_id") },
	func(p payload) (string, bool) {
		if stripeKind(p) != "checkout.session" {
			return "", false
		}
		return stringAt(p.object, "client_reference_id")
	},
}

var amountChain = []extractor[float64]{
	func(p payload) (float64, bool) {
		v, ok := amountObject(p)
		if !ok {
			return 0, false
		}
		if n, ok := toNumber(v); ok {
			return n, true
		}
		inner, ok := lookup(v, "amount")
		if !ok {
			return 0, false
		}
		return toNumber(inner)
	},
	func(p payload) (float64, bool) {
		if p.object == nil {
			return 0, false
		}
		currency, _ := stringAt(p.object, "currency")
		for _, key := range []string{"amount_total", "amount"} {
			if v, ok := lookup(p.object, key); ok {
				if n, ok := v.(float64); ok {
					return n / processor.MinorUnitFactor(currency), true
				}
			}
		}
		return 0, false
	},
}

var currencyChain = []extractor[string]{
	func(p payload) (string, bool) {
		v, ok := amountObject(p)
		if !ok {
			return "", false
		}
		return stringAt(v, "currency")
	},
	func(p payload) (string, bool) { return stringAt(p.order, "currency") },
	func(p payload) (string, bool) { return stringAt(p.root, "data", "currency") },
	func(p payload) (string, bool) {
		s, ok := stringAt(p.object, "currency")
		return strings.ToUpper(s), ok
	},
}

var productNameChain = []extractor[string]{
	func(p payload) (string, bool) {
		items, ok := lookup(p.order, "items")
		if !ok {
			return "", false
		}
		list, ok := items.([]any)
		if !ok || len(list) == 0 {
			return "", false
		}
		return stringAt(list[0], "detail", "product", "label")
	},
	func(p payload) (string, bool) { return stringAt(p.object, "metadata", "product_name") },
}

// Decode parses a raw event body. Anything that is not valid JSON decodes to nil.
func Decode(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// Extract classifies a decoded event. It never fails: fields it cannot find are
// left empty and Type falls back to UnknownType.
func Extract(root any) Fields {
	p := payload{root: root}
	for _, path := range orderPaths {
		if v, ok := lookup(root, path...); ok {
			if m, ok := v.(map[string]any); ok {
				p.order = m
				break
			}
		}
	}
	if p.order == nil {
		if v, ok := lookup(root, "data", "object"); ok {
			p.object, _ = v.(map[string]any)
		}
	}

	f := Fields{Type: UnknownType}
	if s, ok := first(p, typeChain); ok {
		f.Type = s
	}
	f.Status, _ = first(p, statusChain)
	f.ProcessorOrderID, _ = first(p, processorOrderIDChain)
	f.SessionID, _ = first(p, sessionIDChain)
	f.LocalOrderID, _ = first(p, localOrderIDChain)
	if n, ok := first(p, amountChain); ok {
		f.Amount = &n
	}
	if s, ok := first(p, currencyChain); ok {
		f.Currency = &s
	}
	if s, ok := first(p, productNameChain); ok {
		f.ProductName = &s
	}
	return f
}

// ExtractRaw is Decode followed by Extract.
func ExtractRaw(raw []byte) Fields {
	return Extract(Decode(raw))
}

func amountObject(p payload) (any, bool) {
	if v, ok := lookup(p.order, "amount"); ok {
		return v, true
	}
	return lookup(p.root, "data", "amount")
}

func stripeKind(p payload) string {
	s, _ := stringAt(p.object, "object")
	return s
}

// lookup walks keys through nested JSON objects. A nil map or a null value reports false.
func lookup(v any, keys ...string) (any, bool) {
	for _, k := range keys {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok = m[k]
		if !ok || v == nil {
			return nil, false
		}
	}
	return v, true
}

// stringAt returns the non-empty string found at keys.
func stringAt(v any, keys ...string) (string, bool) {
	found, ok := lookup(v, keys...)
	if !ok {
		return "", false
	}
	s, ok := found.(string)
	return s, ok && s != ""
}

func toNumber(v any) (float64, bool) {
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
