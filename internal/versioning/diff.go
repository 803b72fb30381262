package versioning

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/cabinet-quote/internal/domain"
)

// Epsilon is the smallest monetary difference reported as a change.
var Epsilon = decimal.RequireFromString("0.01")

// Change is one detected difference between two calculations.
type Change struct {
	Kind     domain.ChangeKind `json:"changeKind"`
	Field    string            `json:"fieldChanged"`
	OldValue string            `json:"oldValue,omitempty"`
	NewValue string            `json:"newValue,omitempty"`
}

// Comparison is the result of CompareVersions.
type Comparison struct {
	HasChanges bool     `json:"hasChanges"`
	Changes    []Change `json:"changes"`
	Summary    string   `json:"summary"`
}

// CompareVersions diffs two calculations field by field. Lines are matched by
// variant and material so reordering is not reported. A nil old calculation
// compares as empty.
func CompareVersions(old, next *domain.QuoteCalculation) Comparison {
	if old == nil {
		old = &domain.QuoteCalculation{}
	}
	if next == nil {
		next = &domain.QuoteCalculation{}
	}
	changes := make([]Change, 0)

	if old.Customer.ID != next.Customer.ID {
		changes = append(changes, Change{
			Kind:     domain.ChangeCustomer,
			Field:    "customer",
			OldValue: old.Customer.ID,
			NewValue: next.Customer.ID,
		})
	}

	pairs := pairLines(old.LineItems, next.LineItems)
	for _, p := range pairs {
		if p.next == nil {
			changes = append(changes, Change{
				Kind:     domain.ChangeItemDel,
				Field:    lineField(p.label),
				OldValue: describeLine(*p.old),
			})
			continue
		}
		if p.old == nil {
			continue
		}
		ol, nl := p.old, p.next
		if ol.Quantity != nl.Quantity {
			changes = append(changes, Change{
				Kind:     domain.ChangeQuantity,
				Field:    lineField(p.label) + ".quantity",
				OldValue: strconv.Itoa(ol.Quantity),
				NewValue: strconv.Itoa(nl.Quantity),
			})
		}
		if moneyChanged(ol.UnitPrice, nl.UnitPrice) {
			changes = append(changes, Change{
				Kind:     domain.ChangePrice,
				Field:    lineField(p.label) + ".unitPrice",
				OldValue: ol.UnitPrice.StringFixed(2),
				NewValue: nl.UnitPrice.StringFixed(2),
			})
		}
		if moneyChanged(ol.DiscountAmount, nl.DiscountAmount) {
			changes = append(changes, Change{
				Kind:     domain.ChangeDiscount,
				Field:    lineField(p.label) + ".discountAmount",
				OldValue: ol.DiscountAmount.StringFixed(2),
				NewValue: nl.DiscountAmount.StringFixed(2),
			})
		}
	}
	for _, p := range pairs {
		if p.old == nil {
			changes = append(changes, Change{
				Kind:     domain.ChangeItemAdd,
				Field:    lineField(p.label),
				NewValue: describeLine(*p.next),
			})
		}
	}

	if moneyChanged(old.Subtotal, next.Subtotal) {
		changes = append(changes, Change{
			Kind:     domain.ChangeSubtotal,
			Field:    "subtotal",
			OldValue: old.Subtotal.StringFixed(2),
			NewValue: next.Subtotal.StringFixed(2),
		})
	}
	if moneyChanged(old.TotalAmount, next.TotalAmount) {
		changes = append(changes, Change{
			Kind:     domain.ChangeTotal,
			Field:    "totalAmount",
			OldValue: old.TotalAmount.StringFixed(2),
			NewValue: next.TotalAmount.StringFixed(2),
		})
	}
	if old.Notes != next.Notes {
		changes = append(changes, Change{
			Kind:     domain.ChangeNotes,
			Field:    "notes",
			OldValue: old.Notes,
			NewValue: next.Notes,
		})
	}

	return Comparison{
		HasChanges: len(changes) > 0,
		Changes:    changes,
		Summary:    summarize(changes),
	}
}

// linePair is one old line matched to one new line. A nil side means the
// line was added or removed.
type linePair struct {
	label string
	old   *domain.CalculatedLineItem
	next  *domain.CalculatedLineItem
}

// pairLines matches lines by variant and material. When a pair repeats,
// unchanged lines are matched first so reordering duplicates reports nothing;
// the rest pair up in occurrence order. Repeated pairs are labelled with
// their occurrence, so the second B24/plywood line is B24/plywood#2.
func pairLines(old, next []domain.CalculatedLineItem) []linePair {
	oldByKey, keys := groupLines(old, nil)
	newByKey, keys := groupLines(next, keys)

	var pairs []linePair
	for _, key := range keys {
		olds, news := oldByKey[key], newByKey[key]
		oldTaken := make([]bool, len(olds))
		newTaken := make([]bool, len(news))
		matched := make([]int, len(olds))
		for i := range matched {
			matched[i] = -1
		}
		for i, ol := range olds {
			for j, nl := range news {
				if !newTaken[j] && sameLine(ol, nl) {
					matched[i], oldTaken[i], newTaken[j] = j, true, true
					break
				}
			}
		}
		j := 0
		for i := range olds {
			if oldTaken[i] {
				continue
			}
			for j < len(news) && newTaken[j] {
				j++
			}
			if j < len(news) {
				matched[i], newTaken[j] = j, true
			}
		}
		for i := range olds {
			p := linePair{label: occurrenceLabel(key, i), old: &olds[i]}
			if matched[i] >= 0 {
				p.next = &news[matched[i]]
			}
			pairs = append(pairs, p)
		}
		for j := range news {
			if !newTaken[j] {
				pairs = append(pairs, linePair{label: occurrenceLabel(key, j), next: &news[j]})
			}
		}
	}
	return pairs
}

func groupLines(lines []domain.CalculatedLineItem, keys []string) (map[string][]domain.CalculatedLineItem, []string) {
	byKey := make(map[string][]domain.CalculatedLineItem, len(lines))
	known := make(map[string]bool, len(keys))
	for _, k := range keys {
		known[k] = true
	}
	for _, l := range lines {
		key := l.Key()
		if !known[key] {
			known[key] = true
			keys = append(keys, key)
		}
		byKey[key] = append(byKey[key], l)
	}
	return byKey, keys
}

func sameLine(a, b domain.CalculatedLineItem) bool {
	return a.Quantity == b.Quantity &&
		!moneyChanged(a.UnitPrice, b.UnitPrice) &&
		!moneyChanged(a.DiscountAmount, b.DiscountAmount)
}

func occurrenceLabel(key string, i int) string {
	if i == 0 {
		return key
	}
	return fmt.Sprintf("%s#%d", key, i+1)
}

func lineField(key string) string {
	return "lineItems[" + key + "]"
}

func describeLine(l domain.CalculatedLineItem) string {
	name := l.ProductVariant.SKU
	if name == "" {
		name = l.ProductVariant.ID
	}
	return fmt.Sprintf("%d x %s (%s) @ %s", l.Quantity, name, l.BoxMaterial.Code, l.UnitPrice.StringFixed(2))
}

func moneyChanged(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().GreaterThanOrEqual(Epsilon)
}

func summarize(changes []Change) string {
	if len(changes) == 0 {
		return "No changes"
	}
	counts := make(map[domain.ChangeKind]int)
	var total Change
	for _, c := range changes {
		counts[c.Kind]++
		if c.Kind == domain.ChangeTotal {
			total = c
		}
	}
	var parts []string
	if counts[domain.ChangeCustomer] > 0 {
		parts = append(parts, "customer changed")
	}
	for _, k := range []struct {
		kind  domain.ChangeKind
		label string
	}{
		{domain.ChangeItemAdd, "added"},
		{domain.ChangeItemDel, "removed"},
		{domain.ChangeQuantity, "quantity changed"},
		{domain.ChangePrice, "price changed"},
		{domain.ChangeDiscount, "discount changed"},
	} {
		if n := counts[k.kind]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s %s", n, plural(n, "item", "items"), k.label))
		}
	}
	if counts[domain.ChangeSubtotal] > 0 && counts[domain.ChangeTotal] == 0 {
		parts = append(parts, "subtotal changed")
	}
	if counts[domain.ChangeTotal] > 0 {
		parts = append(parts, fmt.Sprintf("total %s -> %s", total.OldValue, total.NewValue))
	}
	if counts[domain.ChangeNotes] > 0 {
		parts = append(parts, "notes updated")
	}
	s := strings.Join(parts, ", ")
	return strings.ToUpper(s[:1]) + s[1:]
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
