package expr

import (
	"fmt"
	"sort"
	"strings"

	"github.com/a-h/templ"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Helper is an allow-listed function callable from expressions. Helpers
// must be pure.
type Helper func(args []interface{}) (interface{}, error)

var helpers = map[string]Helper{
	"upper":        caseHelper(func() cases.Caser { return cases.Upper(language.Und) }),
	"lower":        caseHelper(func() cases.Caser { return cases.Lower(language.Und) }),
	"title":        caseHelper(func() cases.Caser { return cases.Title(language.Und) }),
	"trim":         trimHelper,
	"len":          lenHelper,
	"join":         joinHelper,
	"default":      defaultHelper,
	"contains":     containsHelper,
	"formatNumber": formatNumberHelper,
	"string":       stringHelper,
	"json":         jsonHelper,
}

func lookupHelper(name string) (Helper, bool) {
	h, ok := helpers[name]
	return h, ok
}

// HelperNames lists the callable helpers in sorted order.
func HelperNames() []string {
	names := make([]string, 0, len(helpers))
	for name := range helpers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func arity(args []interface{}, lo, hi int) error {
	if len(args) < lo || len(args) > hi {
		if lo == hi {
			return fmt.Errorf("expected %d argument(s), got %d", lo, len(args))
		}
		return fmt.Errorf("expected %d to %d arguments, got %d", lo, hi, len(args))
	}
	return nil
}

// Casers are stateful, so each call gets its own.
func caseHelper(newCaser func() cases.Caser) Helper {
	return func(args []interface{}) (interface{}, error) {
		if err := arity(args, 1, 1); err != nil {
			return nil, err
		}
		return newCaser().String(ToString(args[0])), nil
	}
}

func trimHelper(args []interface{}) (interface{}, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	return strings.TrimSpace(ToString(args[0])), nil
}

func lenHelper(args []interface{}) (interface{}, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	n, ok := Length(args[0])
	if !ok {
		return nil, fmt.Errorf("%s has no length", TypeName(args[0]))
	}
	return float64(n), nil
}

func joinHelper(args []interface{}) (interface{}, error) {
	if err := arity(args, 1, 2); err != nil {
		return nil, err
	}
	items, ok := Iterate(args[0])
	if !ok {
		return nil, fmt.Errorf("cannot join %s", TypeName(args[0]))
	}
	sep := ","
	if len(args) == 2 {
		sep = ToString(args[1])
	}
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = ToString(item.Value)
	}
	return strings.Join(parts, sep), nil
}

func defaultHelper(args []interface{}) (interface{}, error) {
	if err := arity(args, 2, 2); err != nil {
		return nil, err
	}
	if v := Normalize(args[0]); v == nil || v == "" {
		return args[1], nil
	}
	return args[0], nil
}

func containsHelper(args []interface{}) (interface{}, error) {
	if err := arity(args, 2, 2); err != nil {
		return nil, err
	}
	if s, ok := Normalize(args[0]).(string); ok {
		return strings.Contains(s, ToString(args[1])), nil
	}
	items, ok := Iterate(args[0])
	if !ok {
		return nil, fmt.Errorf("cannot search %s", TypeName(args[0]))
	}
	for _, item := range items {
		if StrictEqual(item.Value, args[1]) {
			return true, nil
		}
	}
	return false, nil
}

func formatNumberHelper(args []interface{}) (interface{}, error) {
	if err := arity(args, 1, 2); err != nil {
		return nil, err
	}
	n, ok := Normalize(args[0]).(float64)
	if !ok {
		return nil, fmt.Errorf("expected number, got %s", TypeName(args[0]))
	}

	tag := language.English
	if len(args) == 2 {
		parsed, err := language.Parse(ToString(args[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid locale %q: %w", ToString(args[1]), err)
		}
		tag = parsed
	}

	p := message.NewPrinter(tag)
	return p.Sprintf("%v", number.Decimal(n)), nil
}

func stringHelper(args []interface{}) (interface{}, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	return ToString(args[0]), nil
}

func jsonHelper(args []interface{}) (interface{}, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	return templ.JSONString(args[0])
}
