package rules

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
)

// ReadRules decodes a JSON array of rules and rejects unknown operators.
func ReadRules(r io.Reader) ([]Rule, error) {
	var rs []Rule
	if err := json.NewDecoder(r).Decode(&rs); err != nil {
		return nil, errors.Wrap(err, "decoding rules")
	}
	seen := make(map[string]bool, len(rs))
	for i, rule := range rs {
		if rule.ID == "" {
			return nil, errors.Errorf("rule %d: missing id", i)
		}
		if seen[rule.ID] {
			return nil, errors.Errorf("rule %s: duplicate id", rule.ID)
		}
		seen[rule.ID] = true
		for _, c := range rule.Conditions {
			if !c.Operator.Valid() {
				return nil, errors.Errorf("rule %s: unknown operator %q", rule.ID, c.Operator)
			}
			if c.Field == "" {
				return nil, errors.Errorf("rule %s: condition without field", rule.ID)
			}
		}
	}
	return rs, nil
}

// LoadRules reads a rule file. An empty path yields no rules.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening rules %s", path)
	}
	defer f.Close()
	return ReadRules(f)
}
