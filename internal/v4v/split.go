package v4v

import (
	"encoding/xml"
	"sort"
	"strconv"
)

// Share is the amount owed to a single recipient for one payment.
type Share struct {
	Recipient Recipient
	Amount    int64
}

// Shares divides total sats across the block. Fee recipients take their split
// as a percentage off the top; the remainder is divided among payable
// recipients by relative weight. Rounding leftovers go to the largest
// fractional remainders, earliest recipient first on ties.
func (v *Value) Shares(total int64) []Share {
	if v == nil || total <= 0 {
		return nil
	}

	var (
		shares    []Share
		remaining = total
	)
	for _, r := range v.Recipients {
		if !r.Fee || r.Address == "" {
			continue
		}
		pct := min(r.Split, 100)
		amt := total * int64(pct) / 100
		if amt > remaining {
			amt = remaining
		}
		remaining -= amt
		shares = append(shares, Share{Recipient: r, Amount: amt})
	}

	payable := v.Payable()
	if len(payable) == 0 {
		return shares
	}

	var weights int64
	for _, r := range payable {
		weights += int64(r.Split)
	}
	// All-zero weights split evenly.
	even := weights == 0
	if even {
		weights = int64(len(payable))
	}

	type frac struct {
		idx int
		rem int64
	}
	var (
		base      = make([]int64, len(payable))
		fracs     = make([]frac, len(payable))
		allocated int64
	)
	for i, r := range payable {
		w := int64(r.Split)
		if even {
			w = 1
		}
		base[i] = remaining * w / weights
		fracs[i] = frac{idx: i, rem: remaining * w % weights}
		allocated += base[i]
	}
	sort.SliceStable(fracs, func(i, j int) bool { return fracs[i].rem > fracs[j].rem })
	for left := remaining - allocated; left > 0; left-- {
		base[fracs[0].idx]++
		fracs = fracs[1:]
	}

	for i, r := range payable {
		shares = append(shares, Share{Recipient: r, Amount: base[i]})
	}
	return shares
}

// MarshalXML re-emits the block using the podcast namespace vocabulary so it
// can be handed to other value-for-value apps unchanged.
func (v Value) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name = xml.Name{Local: "podcast:value"}
	start.Attr = []xml.Attr{
		{Name: xml.Name{Local: "type"}, Value: v.Type},
		{Name: xml.Name{Local: "method"}, Value: string(v.Method)},
	}
	if v.Suggested != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "suggested"}, Value: v.Suggested})
	}
	if err := e.EncodeToken(start); err != nil {
		return err
	}

	for _, r := range v.Recipients {
		el := xml.StartElement{
			Name: xml.Name{Local: "podcast:valueRecipient"},
			Attr: []xml.Attr{
				{Name: xml.Name{Local: "name"}, Value: r.Name},
				{Name: xml.Name{Local: "type"}, Value: string(r.Type)},
				{Name: xml.Name{Local: "address"}, Value: r.Address},
				{Name: xml.Name{Local: "split"}, Value: strconv.Itoa(r.Split)},
			},
		}
		if r.CustomKey != "" {
			el.Attr = append(el.Attr,
				xml.Attr{Name: xml.Name{Local: "customKey"}, Value: r.CustomKey},
				xml.Attr{Name: xml.Name{Local: "customValue"}, Value: r.CustomValue},
			)
		}
		if r.Fee {
			el.Attr = append(el.Attr, xml.Attr{Name: xml.Name{Local: "fee"}, Value: "true"})
		}
		if err := e.EncodeToken(el); err != nil {
			return err
		}
		if err := e.EncodeToken(el.End()); err != nil {
			return err
		}
	}

	if err := e.EncodeToken(start.End()); err != nil {
		return err
	}
	return e.Flush()
}
