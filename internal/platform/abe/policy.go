package abe

import (
	"fmt"
	"sort"
	"strings"
)

// GeneratePolicy serializes attribute/value pairs into a conjunctive policy
// string: "(hospital:H1 AND department:Cardiology)". Only equality and AND
// are supported; keys are sorted so the output is deterministic.
func GeneratePolicy(attributes map[string]string) string {
	keys := make([]string, 0, len(attributes))
	for k := range attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conditions := make([]string, 0, len(keys))
	for _, k := range keys {
		conditions = append(conditions, fmt.Sprintf("%s:%s", k, attributes[k]))
	}
	return "(" + strings.Join(conditions, " AND ") + ")"
}

// ParsePolicy converts a policy string back into its attribute map.
// Malformed conditions (no colon) are skipped, matching the lenient
// behavior callers rely on.
func ParsePolicy(policy string) map[string]string {
	clean := strings.NewReplacer("(", "", ")", "").Replace(policy)

	attributes := make(map[string]string)
	for _, condition := range strings.Split(clean, " AND ") {
		parts := strings.SplitN(condition, ":", 2)
		if len(parts) != 2 {
			continue
		}
		attributes[parts[0]] = parts[1]
	}
	return attributes
}

// SatisfiesPolicy reports whether every attribute/value pair required by the
// policy has an exact match in the caller's attributes. Extra caller
// attributes are ignored.
func SatisfiesPolicy(policyAttributes, callerAttributes map[string]string) bool {
	for k, v := range policyAttributes {
		if callerAttributes[k] == "" || callerAttributes[k] != v {
			return false
		}
	}
	return true
}
