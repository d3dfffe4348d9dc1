// Package keying produces the two deterministic keys used for correlated-
// risk aggregation: a coarse time-to-resolution window bucket and a SHA-1
// assumption key hashed from normalized market attributes.
//
// Both keys are pure functions of (market, nowTs): same inputs always
// produce the same key, and unrelated markets that share an entity and a
// window intentionally collide so the risk engine can aggregate them.
package keying

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"predict-scanner/pkg/types"
)

// WindowKey buckets hoursLeft (end time − now) into one of six closed labels.
func WindowKey(endDate time.Time, hasEndDate bool, now time.Time) types.WindowKey {
	if !hasEndDate {
		return types.WindowUnknown
	}
	hoursLeft := endDate.Sub(now).Hours()
	if hoursLeft < 0 {
		return types.WindowUnknown
	}
	switch {
	case hoursLeft <= 72:
		return types.Window0To72H
	case hoursLeft <= 168:
		return types.Window3To7D
	case hoursLeft <= 720:
		return types.Window8To30D
	case hoursLeft <= 4320:
		return types.Window31To180D
	default:
		return types.Window180DPlus
	}
}

// Thesis labels joined into the assumption key payload.
const (
	ThesisCapture  = "NO_CARRY_CAPTURE"
	ThesisBaseline = "NO_CARRY_BASELINE"
	ThesisCarry    = "carry"
)

// ThesisLabel picks the NO-side thesis label for the given EV mode.
func ThesisLabel(mode types.EVMode) string {
	if mode == types.EVModeCapture {
		return ThesisCapture
	}
	return ThesisBaseline
}

var collapseWhitespace = regexp.MustCompile(`\s+`)
var stripNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = collapseWhitespace.ReplaceAllString(s, " ")
	s = stripNonAlnum.ReplaceAllString(s, "")
	return s
}

// AssumptionKey hashes the normalized payload
// "category|primary_entity|secondary|thesis_label|window_key" into a
// SHA-1-derived 12-hex-char key with the "a1_" prefix.
func AssumptionKey(category, primaryEntity, secondary, thesisLabel string, windowKey types.WindowKey) string {
	payload := strings.Join([]string{
		normalize(category),
		normalize(primaryEntity),
		normalize(secondary),
		normalize(thesisLabel),
		normalize(string(windowKey)),
	}, "|")

	sum := sha1.Sum([]byte(payload))
	return "a1_" + hex.EncodeToString(sum[:])[:12]
}

// electionRe detects election questions by the words election, primary or runoff.
var electionRe = regexp.MustCompile(`(?i)\b(election|primary|runoff)\b`)
var yearRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)
var vsRe = regexp.MustCompile(`(?i)\b([a-z][a-z.'-]*)\s+(?:vs\.?|v\.?)\s+([a-z][a-z.'-]*)\b`)
var beatRe = regexp.MustCompile(`(?i)\b(win|beat|defeat)s?\s+([a-z][a-z.'-]*(?:\s[a-z][a-z.'-]*){0,2})\b`)
var macroIndicatorRe = regexp.MustCompile(`(?i)\b(cpi|inflation|rate cut|rate hike|recession|gdp|unemployment)\b`)
var countryRe = regexp.MustCompile(`(?i)\b(US|U\.S\.|usa|uk|eu|china|japan|india|germany|france)\b`)

// PrimaryEntity heuristically extracts the dominant subject of a market
// question, used as a component of the assumption key. It tries, in order:
// election shapes, sports matchup shapes, macro indicator shapes, then
// falls back to the first 8-12 words of the question.
func PrimaryEntity(question string) string {
	q := strings.TrimSpace(question)
	if q == "" {
		return ""
	}

	if electionRe.MatchString(q) {
		year := yearRe.FindString(q)
		country := countryRe.FindString(q)
		parts := []string{}
		if country != "" {
			parts = append(parts, strings.ToLower(country))
		}
		parts = append(parts, "election")
		if year != "" {
			parts = append(parts, year)
		}
		return strings.Join(parts, "_")
	}

	if m := vsRe.FindStringSubmatch(q); m != nil {
		a := strings.ToLower(strings.TrimSpace(m[1]))
		b := strings.ToLower(strings.TrimSpace(m[2]))
		return a + "_vs_" + b
	}

	if m := beatRe.FindStringSubmatch(q); m != nil {
		return strings.ToLower(strings.TrimSpace(m[2]))
	}

	if macroIndicatorRe.MatchString(q) {
		indicator := strings.ToLower(macroIndicatorRe.FindString(q))
		country := countryRe.FindString(q)
		if country != "" {
			return strings.ToLower(country) + "_" + indicator
		}
		return indicator
	}

	words := strings.Fields(q)
	n := 10
	if n > len(words) {
		n = len(words)
	}
	return strings.Join(words[:n], "_")
}
