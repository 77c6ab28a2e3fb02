package paymob

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

var (
	// ErrBadSignature indicates the recomputed HMAC did not match the one
	// the notification carried.
	ErrBadSignature = errors.New("paymob: signature mismatch")
	// ErrMissingFields indicates the notification lacked fields required
	// for verification.
	ErrMissingFields = errors.New("paymob: missing required fields")
)

// transactionHMACFields is the canonical field order the gateway signs:
// the flat payload keys sorted alphabetically, values concatenated without
// separators, HMAC-SHA512 over the result.
var transactionHMACFields = []string{
	"amount_cents",
	"created_at",
	"currency",
	"error_occured",
	"has_parent_transaction",
	"id",
	"integration_id",
	"is_3d_secure",
	"is_auth",
	"is_capture",
	"is_refunded",
	"is_standalone_payment",
	"is_voided",
	"order.id",
	"owner",
	"pending",
	"source_data.pan",
	"source_data.sub_type",
	"source_data.type",
	"success",
}

// requiredFields must be present for a notification to be processable at all.
var requiredFields = map[string]bool{
	"amount_cents": true,
	"id":           true,
	"order.id":     true,
	"success":      true,
}

// TransactionEvent is a verified payment notification, normalized from
// either the synchronous callback query or the asynchronous webhook body.
type TransactionEvent struct {
	TransactionID    string
	GatewayOrderID   int64
	MerchantOrderRef string
	AmountCents      int64
	Currency         string
	Success          bool
}

// Verifier authenticates inbound gateway notifications with the shared
// HMAC secret before anyone is allowed to act on them.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the shared secret
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// VerifyWebhook authenticates an asynchronous server-to-server notification.
// The body is the raw JSON payload; receivedHMAC arrives as a query
// parameter on the webhook URL.
func (v *Verifier) VerifyWebhook(body []byte, receivedHMAC string) (*TransactionEvent, error) {
	var envelope struct {
		Type string          `json:"type"`
		Obj  json.RawMessage `json:"obj"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("paymob: malformed webhook body: %w", err)
	}
	if envelope.Type != "TRANSACTION" || len(envelope.Obj) == 0 {
		return nil, ErrMissingFields
	}

	dec := json.NewDecoder(bytes.NewReader(envelope.Obj))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("paymob: malformed webhook object: %w", err)
	}

	return v.verify(func(field string) (string, bool) {
		return lookupPath(obj, field)
	}, receivedHMAC)
}

// VerifyCallback authenticates the synchronous browser return. The fields
// and the hmac all arrive as query parameters; replayed or stale parameters
// fail the same checks a webhook would.
func (v *Verifier) VerifyCallback(values url.Values) (*TransactionEvent, error) {
	return v.verify(func(field string) (string, bool) {
		// Nested keys flatten differently on the redirect: the order id
		// comes back as plain "order".
		key := field
		if field == "order.id" {
			key = "order"
		}
		if !values.Has(key) {
			return "", false
		}
		return values.Get(key), true
	}, values.Get("hmac"))
}

// verify recomputes the signature over the canonical concatenation and
// compares it in constant time, then extracts the normalized event.
func (v *Verifier) verify(get func(string) (string, bool), receivedHMAC string) (*TransactionEvent, error) {
	if receivedHMAC == "" {
		return nil, ErrMissingFields
	}

	var concat strings.Builder
	for _, field := range transactionHMACFields {
		value, ok := get(field)
		if !ok {
			if requiredFields[field] {
				return nil, ErrMissingFields
			}
			continue
		}
		concat.WriteString(value)
	}

	mac := hmac.New(sha512.New, v.secret)
	mac.Write([]byte(concat.String()))
	computed := mac.Sum(nil)

	received, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(receivedHMAC)))
	if err != nil {
		return nil, ErrBadSignature
	}
	if !hmac.Equal(computed, received) {
		return nil, ErrBadSignature
	}

	return buildEvent(get)
}

func buildEvent(get func(string) (string, bool)) (*TransactionEvent, error) {
	txnID, _ := get("id")
	orderIDRaw, _ := get("order.id")
	amountRaw, _ := get("amount_cents")
	successRaw, _ := get("success")

	gatewayOrderID, err := strconv.ParseInt(orderIDRaw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("paymob: bad order id %q: %w", orderIDRaw, err)
	}
	amountCents, err := strconv.ParseInt(amountRaw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("paymob: bad amount %q: %w", amountRaw, err)
	}

	ev := &TransactionEvent{
		TransactionID:  txnID,
		GatewayOrderID: gatewayOrderID,
		AmountCents:    amountCents,
		Success:        strings.EqualFold(successRaw, "true"),
	}
	if currency, ok := get("currency"); ok {
		ev.Currency = currency
	}
	if ref, ok := get("order.merchant_order_id"); ok {
		ev.MerchantOrderRef = ref
	} else if ref, ok := get("merchant_order_id"); ok {
		ev.MerchantOrderRef = ref
	}
	return ev, nil
}

// lookupPath resolves a dotted field path in a decoded JSON object and
// renders the value the way the gateway does when signing: JSON literals
// for numbers and booleans, strings as-is.
func lookupPath(obj map[string]interface{}, path string) (string, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = obj
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return "", false
		}
		current, ok = m[part]
		if !ok {
			return "", false
		}
	}

	switch val := current.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case json.Number:
		return val.String(), true
	default:
		return fmt.Sprintf("%v", val), true
	}
}
