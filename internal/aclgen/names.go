package aclgen

import (
	"fmt"
	"regexp"
)

type abbreviation struct {
	word  *regexp.Regexp
	short string
}

func abbr(word, short string) abbreviation {
	return abbreviation{word: regexp.MustCompile("(?i)" + word), short: short}
}

// Longer words come before their prefixes.
var abbreviations = []abbreviation{
	abbr("autonomous", "AS"),
	abbr("customer", "CUST"),
	abbr("destination", "DST"),
	abbr("established", "EST"),
	abbr("experiment", "EXP"),
	abbr("fragments", "FRAGS"),
	abbr("fragment", "FRAG"),
	abbr("google", "GOOG"),
	abbr("initial", "INIT"),
	abbr("internal", "INT"),
	abbr("management", "MGMT"),
	abbr("multicast", "MCAST"),
	abbr("network", "NET"),
	abbr("production", "PROD"),
	abbr("services", "SVCS"),
	abbr("service", "SVC"),
	abbr("source", "SRC"),
	abbr("transit", "TRNS"),
	abbr("unreachable", "UNR"),
}

// Abbreviate applies the abbreviation table to name.
func Abbreviate(name string) string {
	for _, a := range abbreviations {
		name = a.word.ReplaceAllString(name, a.short)
	}
	return name
}

// FixTermLength makes name fit in max bytes. Abbreviation is tried first,
// then truncation; an overlength name is an error when neither is enabled
// or neither suffices.
func FixTermLength(name string, max int, abbreviate, trunc bool) (string, error) {
	if len(name) <= max {
		return name, nil
	}
	fixed := name
	if abbreviate {
		fixed = Abbreviate(fixed)
		if len(fixed) <= max {
			return fixed, nil
		}
	}
	if trunc {
		return truncate(fixed, max), nil
	}
	return "", &Error{
		Kind:    KindTermNameTooLong,
		Term:    name,
		Feature: fmt.Sprintf("%d characters", len(name)),
		Detail:  fmt.Sprintf("maximum is %d", max),
	}
}
