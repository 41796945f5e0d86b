// Package v4v normalizes value-for-value payment blocks into one canonical
// split shape, regardless of which raw form a publisher or index used.
//
// Split values are relative weights. A block whose non-fee splits add up to
// 95 or 1000 is still valid; consumers must never treat them as percentages
// of a fixed 100.
package v4v

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Method is the payment method declared on a value block.
type Method string

const (
	MethodKeysend   Method = "keysend"
	MethodLNAddress Method = "lnaddress"
	MethodAMP       Method = "amp"
	MethodUnknown   Method = "unknown"
)

// ParseMethod maps the free-form method strings seen in feeds and index
// responses onto a Method.
func ParseMethod(s string) Method {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "keysend", "node":
		return MethodKeysend
	case "lnaddress", "lud16", "lightning-address", "lightningaddress":
		return MethodLNAddress
	case "amp":
		return MethodAMP
	default:
		return MethodUnknown
	}
}

// Valid reports whether m is one of the declared methods.
func (m Method) Valid() bool {
	switch m {
	case MethodKeysend, MethodLNAddress, MethodAMP, MethodUnknown:
		return true
	}
	return false
}

// RecipientType is the kind of address a recipient is paid at.
type RecipientType string

const (
	RecipientNode      RecipientType = "node"
	RecipientLNAddress RecipientType = "lnaddress"
	RecipientUnknown   RecipientType = "unknown"
)

// ParseRecipientType resolves a declared type, falling back to the shape of
// the address when the declaration is missing or unrecognized.
func ParseRecipientType(declared, address string) RecipientType {
	switch strings.ToLower(strings.TrimSpace(declared)) {
	case "node", "keysend":
		return RecipientNode
	case "lnaddress", "lud16", "lightning-address":
		return RecipientLNAddress
	}
	return inferRecipientType(address)
}

func inferRecipientType(address string) RecipientType {
	address = strings.TrimSpace(address)
	switch {
	case address == "":
		return RecipientUnknown
	case strings.Contains(address, "@"):
		return RecipientLNAddress
	case isNodePubkey(address):
		return RecipientNode
	default:
		return RecipientUnknown
	}
}

// Node public keys are 33-byte compressed keys, hex encoded.
func isNodePubkey(s string) bool {
	if len(s) != 66 {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

type (
	// Value is a normalized payment split.
	Value struct {
		Type       string      `json:"type"`
		Method     Method      `json:"method"`
		Suggested  string      `json:"suggested,omitempty"`
		Recipients []Recipient `json:"recipients"`
	}

	// Recipient is one destination of a split. Fee recipients are kept so the
	// block can be re-emitted faithfully, but they are never payable targets.
	Recipient struct {
		Name        string        `json:"name"`
		Type        RecipientType `json:"type"`
		Address     string        `json:"address"`
		Split       int           `json:"split"`
		CustomKey   string        `json:"customKey,omitempty"`
		CustomValue string        `json:"customValue,omitempty"`
		Fee         bool          `json:"fee,omitempty"`
	}
)

// Payable returns the non-fee recipients in declaration order.
func (v *Value) Payable() []Recipient {
	if v == nil {
		return nil
	}
	var out []Recipient
	for _, r := range v.Recipients {
		if !r.Fee && r.Address != "" {
			out = append(out, r)
		}
	}
	return out
}

// Primary returns the first payable recipient.
func (v *Value) Primary() (Recipient, bool) {
	payable := v.Payable()
	if len(payable) == 0 {
		return Recipient{}, false
	}
	return payable[0], true
}

// HasV4V reports whether a track can receive payments, from either its
// structured value block or its scalar recipient string.
func HasV4V(v *Value, scalar string) bool {
	if len(v.Payable()) > 0 {
		return true
	}
	return strings.TrimSpace(scalar) != ""
}

// PrimaryRecipient picks who gets paid when only one recipient can be shown.
// The structured block always wins over the scalar string; payment UIs depend
// on that order.
func PrimaryRecipient(v *Value, scalar string) (Recipient, bool) {
	if r, ok := v.Primary(); ok {
		return r, true
	}
	scalar = strings.TrimSpace(scalar)
	if scalar == "" {
		return Recipient{}, false
	}
	return Recipient{
		Address: scalar,
		Type:    inferRecipientType(scalar),
		Split:   defaultSplit,
	}, true
}

const defaultSplit = 100

type (
	// Raw covers every historical shape a value block has been stored in:
	// podcast:value XML, a "recipients" array, the index's "destinations"
	// array, and a bare recipient or lightning address string.
	Raw struct {
		Type             string         `json:"type" xml:"type,attr"`
		Method           string         `json:"method" xml:"method,attr"`
		Suggested        string         `json:"suggested" xml:"suggested,attr"`
		Model            *RawModel      `json:"model" xml:"-"`
		Recipients       []RawRecipient `json:"recipients" xml:"valueRecipient"`
		Destinations     []RawRecipient `json:"destinations" xml:"-"`
		Recipient        string         `json:"recipient" xml:"-"`
		LightningAddress string         `json:"lightningAddress" xml:"-"`
	}

	// RawModel is the index's nesting of the block-level attributes.
	RawModel struct {
		Type      string `json:"type"`
		Method    string `json:"method"`
		Suggested string `json:"suggested"`
	}

	// RawRecipient keeps every attribute as the string it was declared as.
	RawRecipient struct {
		Name        string `json:"name" xml:"name,attr"`
		Type        string `json:"type" xml:"type,attr"`
		Address     string `json:"address" xml:"address,attr"`
		Split       string `json:"split" xml:"split,attr"`
		CustomKey   string `json:"customKey" xml:"customKey,attr"`
		CustomValue string `json:"customValue" xml:"customValue,attr"`
		Fee         string `json:"fee" xml:"fee,attr"`
	}
)

// UnmarshalJSON accepts split and fee as either strings or JSON scalars.
func (r *RawRecipient) UnmarshalJSON(byts []byte) error {
	var aux struct {
		Name        string          `json:"name"`
		Type        string          `json:"type"`
		Address     string          `json:"address"`
		Split       json.RawMessage `json:"split"`
		CustomKey   string          `json:"customKey"`
		CustomValue string          `json:"customValue"`
		Fee         json.RawMessage `json:"fee"`
	}
	if err := json.Unmarshal(byts, &aux); err != nil {
		return err
	}

	*r = RawRecipient{
		Name:        aux.Name,
		Type:        aux.Type,
		Address:     aux.Address,
		Split:       rawScalar(aux.Split),
		CustomKey:   aux.CustomKey,
		CustomValue: aux.CustomValue,
		Fee:         rawScalar(aux.Fee),
	}
	return nil
}

func rawScalar(m json.RawMessage) string {
	if len(m) == 0 || string(m) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(m, &s); err == nil {
		return s
	}
	return string(m)
}

// Normalize converts any raw shape into a Value. It returns nil when no
// recipient with an address can be found.
func Normalize(raw Raw) *Value {
	var model RawModel
	if raw.Model != nil {
		model = *raw.Model
	}

	v := &Value{
		Type:      firstNonEmpty(raw.Type, model.Type, "lightning"),
		Method:    ParseMethod(firstNonEmpty(raw.Method, model.Method)),
		Suggested: firstNonEmpty(raw.Suggested, model.Suggested),
	}

	list := raw.Recipients
	if len(list) == 0 {
		list = raw.Destinations
	}
	for _, rr := range list {
		address := strings.TrimSpace(rr.Address)
		if address == "" {
			continue
		}
		v.Recipients = append(v.Recipients, Recipient{
			Name:        strings.TrimSpace(rr.Name),
			Type:        ParseRecipientType(rr.Type, address),
			Address:     address,
			Split:       parseSplit(rr.Split),
			CustomKey:   strings.TrimSpace(rr.CustomKey),
			CustomValue: strings.TrimSpace(rr.CustomValue),
			Fee:         parseBool(rr.Fee),
		})
	}

	if len(v.Recipients) == 0 {
		scalar := strings.TrimSpace(firstNonEmpty(raw.Recipient, raw.LightningAddress))
		if scalar == "" {
			return nil
		}
		v.Recipients = []Recipient{{
			Type:    inferRecipientType(scalar),
			Address: scalar,
			Split:   defaultSplit,
		}}
	}

	if v.Method == MethodUnknown {
		v.Method = inferMethod(v.Recipients)
	}

	return v
}

func inferMethod(rs []Recipient) Method {
	for _, r := range rs {
		if r.Fee {
			continue
		}
		switch r.Type {
		case RecipientNode:
			return MethodKeysend
		case RecipientLNAddress:
			return MethodLNAddress
		case RecipientUnknown:
		}
	}
	return MethodUnknown
}

// Absent or non-numeric splits weigh the same as a full share.
func parseSplit(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultSplit
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return defaultSplit
		}
		n = int(f)
	}
	if n < 0 {
		return 0
	}
	return n
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(s))
	return b
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
