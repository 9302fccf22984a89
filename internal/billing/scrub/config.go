package scrub

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidRule reports a rule file entry that selects zero or several matchers.
var ErrInvalidRule = errors.New("rule must set exactly one matcher")

type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	Literal     string `yaml:"literal"`
	Pattern     string `yaml:"pattern"`
	XMLElement  string `yaml:"xml_element"`
	JSONField   string `yaml:"json_field"`
	FormField   string `yaml:"form_field"`
	Header      string `yaml:"header"`
	Replacement string `yaml:"replacement"`
}

// LoadRules reads a YAML rule file:
//
//	rules:
//	  - json_field: card_number
//	  - literal: "4242424242424242"
//	  - pattern: '(token=)\w+'
//	    replacement: '${1}[FILTERED]'
func LoadRules(r io.Reader) (RuleSet, error) {
	var file ruleFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return RuleSet{}, nil
		}
		return nil, fmt.Errorf("decode rules: %w", err)
	}

	rules := make(RuleSet, 0, len(file.Rules))
	for i, entry := range file.Rules {
		rule, err := entry.build()
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadRulesFile opens path and calls LoadRules.
func LoadRulesFile(path string) (RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadRules(f)
}

func (s ruleSpec) build() (Rule, error) {
	set := 0
	for _, v := range []string{s.Literal, s.Pattern, s.XMLElement, s.JSONField, s.FormField, s.Header} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return nil, ErrInvalidRule
	}

	switch {
	case s.Literal != "":
		return Literal(s.Literal, s.Replacement), nil
	case s.Pattern != "":
		return CompilePattern(s.Pattern, s.Replacement)
	case s.XMLElement != "":
		return XMLElement(s.XMLElement), nil
	case s.JSONField != "":
		return JSONField(s.JSONField), nil
	case s.FormField != "":
		return FormField(s.FormField), nil
	default:
		return Header(s.Header), nil
	}
}
