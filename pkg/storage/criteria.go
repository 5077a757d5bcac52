package storage

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// CriterionOp names a criteria operator
type CriterionOp string

const (
	OpEq    CriterionOp = "eq"
	OpIn    CriterionOp = "in"
	OpRegex CriterionOp = "regex"
)

// Criterion is one predicate of the small query expression language applied
// to decoded entity blobs
type Criterion struct {
	Field  string
	Op     CriterionOp
	Values []string
}

// Eq builds an equality criterion
func Eq(field, value string) Criterion {
	return Criterion{Field: field, Op: OpEq, Values: []string{value}}
}

// In builds a set-membership criterion
func In(field string, values ...string) Criterion {
	return Criterion{Field: field, Op: OpIn, Values: values}
}

// Regex builds a regular-expression match criterion
func Regex(field, pattern string) Criterion {
	return Criterion{Field: field, Op: OpRegex, Values: []string{pattern}}
}

// matchBlob reports whether a JSON blob satisfies every criterion. Malformed
// blobs and malformed criteria never match.
func matchBlob(blob []byte, criteria []Criterion) bool {
	var doc map[string]any
	if err := json.Unmarshal(blob, &doc); err != nil {
		return false
	}
	for _, c := range criteria {
		if !c.matches(doc) {
			return false
		}
	}
	return true
}

func (c Criterion) matches(doc map[string]any) bool {
	raw, ok := doc[c.Field]
	if !ok {
		return false
	}
	value := fmt.Sprintf("%v", raw)
	switch c.Op {
	case OpEq:
		return len(c.Values) == 1 && value == c.Values[0]
	case OpIn:
		for _, v := range c.Values {
			if value == v {
				return true
			}
		}
		return false
	case OpRegex:
		if len(c.Values) != 1 {
			return false
		}
		re, err := regexp.Compile(c.Values[0])
		if err != nil {
			return false
		}
		return re.MatchString(value)
	default:
		return false
	}
}

// filterByCriteria applies the criteria to a full blob map. Shared by
// strategies without a native query path.
func filterByCriteria(blobs map[string][]byte, criteria []Criterion) [][]byte {
	matched := [][]byte{}
	for _, blob := range blobs {
		if matchBlob(blob, criteria) {
			matched = append(matched, blob)
		}
	}
	return matched
}
