// Package scrub redacts sensitive values from captured request/response
// transcripts before they are stored or displayed.
//
// Rules replace matched values in place. They never remove the delimiters,
// quotes or tags around a value, so a scrubbed transcript keeps its shape.
package scrub

import (
	"fmt"
	"regexp"
	"strings"
)

// Filtered is the default replacement text.
const Filtered = "[FILTERED]"

// Rule rewrites a transcript. Implementations must be deterministic.
type Rule interface {
	Apply(transcript string) string
}

// RuleFunc adapts a function to Rule.
type RuleFunc func(string) string

func (f RuleFunc) Apply(transcript string) string { return f(transcript) }

// Scrub applies rules in order, each one to the output of the previous.
func Scrub(transcript string, rules ...Rule) string {
	for _, rule := range rules {
		if rule == nil {
			continue
		}
		transcript = rule.Apply(transcript)
	}
	return transcript
}

// RuleSet is an ordered list of rules.
type RuleSet []Rule

// Scrub applies the set to transcript.
func (s RuleSet) Scrub(transcript string) string {
	return Scrub(transcript, s...)
}

// Append returns a new set with rules added after the existing ones.
func (s RuleSet) Append(rules ...Rule) RuleSet {
	out := make(RuleSet, 0, len(s)+len(rules))
	out = append(out, s...)
	return append(out, rules...)
}

type literalRule struct {
	value       string
	replacement string
}

// Literal replaces every occurrence of value, typically a card number or
// verification code only known at call time. An empty value is a no-op.
func Literal(value, replacement string) Rule {
	if replacement == "" {
		replacement = Filtered
	}
	return literalRule{value: value, replacement: replacement}
}

func (r literalRule) Apply(transcript string) string {
	if r.value == "" || !strings.Contains(transcript, r.value) {
		return transcript
	}
	// Text already replaced is left alone so a replacement that happens to
	// contain the value is not rewritten on a second pass.
	segments := strings.Split(transcript, r.replacement)
	for i, seg := range segments {
		segments[i] = strings.ReplaceAll(seg, r.value, r.replacement)
	}
	return strings.Join(segments, r.replacement)
}

type patternRule struct {
	re       *regexp.Regexp
	template string
}

// Pattern replaces matches of re using a regexp template such as
// "${1}[FILTERED]${2}".
func Pattern(re *regexp.Regexp, template string) Rule {
	if template == "" {
		template = Filtered
	}
	return patternRule{re: re, template: template}
}

// MustPattern compiles expr and panics when it is invalid.
func MustPattern(expr, template string) Rule {
	return Pattern(regexp.MustCompile(expr), template)
}

// CompilePattern compiles expr into a Pattern rule.
func CompilePattern(expr, template string) (Rule, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, err)
	}
	return Pattern(re, template), nil
}

func (r patternRule) Apply(transcript string) string {
	if r.re == nil {
		return transcript
	}
	return r.re.ReplaceAllString(transcript, r.template)
}

// XMLElement redacts the text content of every <tag>...</tag> element.
func XMLElement(tag string) Rule {
	t := regexp.QuoteMeta(tag)
	return MustPattern(`(<`+t+`(?:\s[^>]*)?>)[^<]*(</`+t+`>)`, "${1}"+Filtered+"${2}")
}

// JSONField redacts string and number values of the named key. Escaped
// JSON, as found in quoted transcripts, is handled too. Escape sequences
// inside a value, including escaped quotes, are redacted with it.
func JSONField(name string) Rule {
	n := regexp.QuoteMeta(name)
	plain := MustPattern(`("`+n+`"\s*:\s*")(?:[^"\\]|\\.)*(")`, "${1}"+Filtered+"${2}")
	quoted := MustPattern(`(\\"`+n+`\\"\s*:\s*\\")(?:[^"\\]|\\\\(?:\\["\\]|[^"\\]))*(\\")`, "${1}"+Filtered+"${2}")
	num := MustPattern(`(\\?"`+n+`\\?"\s*:\s*)-?\d+(?:\.\d+)?`, "${1}"+Filtered)
	return RuleFunc(func(s string) string {
		return num.Apply(quoted.Apply(plain.Apply(s)))
	})
}

// FormField redacts the value of a form-encoded or query parameter.
func FormField(name string) Rule {
	n := regexp.QuoteMeta(name)
	return MustPattern(`((?:^|[?&\s"])`+n+`=)[^&\s"\\]*`, "${1}"+Filtered)
}

// Header redacts the value of an HTTP header, keeping a Basic or Bearer
// scheme visible.
func Header(name string) Rule {
	n := regexp.QuoteMeta(name)
	return MustPattern(`(?i)(\b`+n+`:[ \t]*(?:Basic |Bearer )?)[^\r\n"\\]+`, "${1}"+Filtered)
}

// Digits redacts standalone runs of min to max digits, such as a bare
// primary account number.
func Digits(min, max int) Rule {
	return MustPattern(fmt.Sprintf(`\b\d{%d,%d}\b`, min, max), Filtered)
}

// CardholderRules returns the rules for card numbers, verification codes
// and bank account numbers in the encodings gateways commonly use.
func CardholderRules() RuleSet {
	return RuleSet{
		JSONField("card_number"),
		JSONField("account_number"),
		JSONField("card_verification_value"),
		JSONField("cvv"),
		JSONField("security_code"),
		JSONField("iban"),
		XMLElement("CreditCardNumber"),
		XMLElement("CVC2"),
		XMLElement("CVV"),
		XMLElement("AccountNumber"),
		FormField("card_number"),
		FormField("cvv"),
		FormField("account_number"),
		Header("Authorization"),
	}
}
