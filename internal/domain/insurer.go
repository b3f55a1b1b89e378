package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Insurer is a carrier whose reports get imported.
type Insurer struct {
	ID     string `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	Active bool   `json:"active" db:"active"`
}

// InsurerMapping is the per-carrier mapping header.
type InsurerMapping struct {
	InsurerID          string         `json:"insurer_id" db:"insurer_id"`
	PolicyStrategy     Strategy       `json:"policy_strategy" db:"policy_strategy"`
	InsuredStrategy    Strategy       `json:"insured_strategy" db:"insured_strategy"`
	CommissionStrategy Strategy       `json:"commission_strategy" db:"commission_strategy"`
	Options            MappingOptions `json:"options" db:"options"`
	Active             bool           `json:"active" db:"active"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
}

// Option keys holding alias groups for the first_non_zero strategy.
const (
	OptionCommissionGroups = "commission_groups"
	OptionAmountGroups     = "amount_groups"
	OptionBalanceGroups    = "balance_groups"
	OptionDaysGroups       = "days_groups"
)

// MappingOptions is the carrier-wide options bag. Alias groups are typed so
// malformed configuration fails at decode time; any other key is carried
// through untouched in Extra.
//
// A nil group list means "not specified"; an empty non-nil list means
// "explicitly no groups".
type MappingOptions struct {
	CommissionGroups [][]string
	AmountGroups     [][]string
	BalanceGroups    [][]string
	DaysGroups       [][]string
	Extra            map[string]json.RawMessage
}

func (o *MappingOptions) groupField(key string) *[][]string {
	switch key {
	case OptionCommissionGroups:
		return &o.CommissionGroups
	case OptionAmountGroups:
		return &o.AmountGroups
	case OptionBalanceGroups:
		return &o.BalanceGroups
	case OptionDaysGroups:
		return &o.DaysGroups
	}
	return nil
}

// GroupsFor returns the alias groups configured for field ("commission",
// "amount", "balance" or "days"). Other fields never have groups.
func (o MappingOptions) GroupsFor(field string) [][]string {
	if p := o.groupField(field + "_groups"); p != nil {
		return *p
	}
	return nil
}

// Merge returns o overlaid with incoming: keys present in incoming win,
// keys absent from incoming are kept from o.
func (o MappingOptions) Merge(incoming MappingOptions) MappingOptions {
	out := o
	out.Extra = make(map[string]json.RawMessage, len(o.Extra)+len(incoming.Extra))
	for k, v := range o.Extra {
		out.Extra[k] = v
	}
	for k, v := range incoming.Extra {
		out.Extra[k] = v
	}
	for _, key := range []string{OptionCommissionGroups, OptionAmountGroups, OptionBalanceGroups, OptionDaysGroups} {
		if src := incoming.groupField(key); *src != nil {
			*out.groupField(key) = *src
		}
	}
	if len(out.Extra) == 0 {
		out.Extra = nil
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (o MappingOptions) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(o.Extra)+4)
	for k, v := range o.Extra {
		m[k] = v
	}
	for _, key := range []string{OptionCommissionGroups, OptionAmountGroups, OptionBalanceGroups, OptionDaysGroups} {
		if g := *o.groupField(key); g != nil {
			m[key] = g
		}
	}
	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *MappingOptions) UnmarshalJSON(b []byte) error {
	*o = MappingOptions{}
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("options must be a JSON object: %w", err)
	}
	for k, v := range raw {
		dst := o.groupField(k)
		if dst == nil {
			if o.Extra == nil {
				o.Extra = make(map[string]json.RawMessage)
			}
			o.Extra[k] = v
			continue
		}
		// An explicit null clears the groups, same as [].
		var groups [][]string
		if err := json.Unmarshal(v, &groups); err != nil {
			return fmt.Errorf("options.%s must be a list of alias lists: %w", k, err)
		}
		if groups == nil {
			groups = [][]string{}
		}
		*dst = groups
	}
	return nil
}
