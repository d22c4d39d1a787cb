package docstore

import (
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

// Op is a predicate operator over a document body path.
type Op int

const (
	// OpEq matches when the value at Path equals Value.
	OpEq Op = iota
	// OpContains matches when Path is an array holding Value, or a scalar equal to it.
	OpContains
	// OpAny matches when Path is an array of objects and at least one element
	// has every field in Fields set to the given value.
	OpAny
)

// Condition is one predicate evaluated against a document body with gjson paths.
type Condition struct {
	Path   string
	Op     Op
	Value  string
	Fields map[string]string
}

// Eq builds an equality predicate.
func Eq(path, value string) Condition {
	return Condition{Path: path, Op: OpEq, Value: value}
}

// Contains builds an array-membership predicate.
func Contains(path, value string) Condition {
	return Condition{Path: path, Op: OpContains, Value: value}
}

// Any builds an element-match predicate over an array of objects.
func Any(path string, fields map[string]string) Condition {
	return Condition{Path: path, Op: OpAny, Fields: fields}
}

// Query selects documents by partition scope, kind and body predicates.
type Query struct {
	Partition      string
	CrossPartition bool
	Kind           string
	Where          []Condition
	Limit          int
}

// Validate checks that the query has a scope.
func (q Query) Validate() error {
	if q.Partition == "" && !q.CrossPartition {
		return ErrInvalidQuery
	}
	return nil
}

// InScope reports whether a document at partition falls inside the query scope.
func (q Query) InScope(partition string) bool {
	return q.CrossPartition || q.Partition == partition
}

// Matches reports whether doc satisfies the scope, kind and every condition.
func (q Query) Matches(doc *Document) bool {
	if !q.InScope(doc.Partition) {
		return false
	}
	if q.Kind != "" && doc.Kind != q.Kind {
		return false
	}
	for _, c := range q.Where {
		if !c.Matches(doc.Body) {
			return false
		}
	}
	return true
}

// Full reports whether n results already satisfy the limit.
func (q Query) Full(n int) bool {
	return q.Limit > 0 && n >= q.Limit
}

// Matches evaluates the condition against a raw JSON body.
func (c Condition) Matches(body []byte) bool {
	res := gjson.GetBytes(body, c.Path)
	switch c.Op {
	case OpEq:
		return res.Exists() && res.String() == c.Value
	case OpContains:
		if !res.Exists() {
			return false
		}
		if !res.IsArray() {
			return res.String() == c.Value
		}
		found := false
		res.ForEach(func(_, v gjson.Result) bool {
			if v.String() == c.Value {
				found = true
				return false
			}
			return true
		})
		return found
	case OpAny:
		if !res.IsArray() {
			return false
		}
		found := false
		res.ForEach(func(_, elem gjson.Result) bool {
			for field, want := range c.Fields {
				if elem.Get(field).String() != want {
					return true
				}
			}
			found = true
			return false
		})
		return found
	default:
		return false
	}
}

// Sort orders documents by partition then id so every backend returns a stable sequence.
func Sort(docs []*Document) {
	slices.SortFunc(docs, func(a, b *Document) int {
		if c := strings.Compare(a.Partition, b.Partition); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
