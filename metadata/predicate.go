package metadata

// Operator represents a comparison operator for predicates.
type Operator string

const (
	// OpEqual represents the equality operator.
	OpEqual Operator = "eq"
	// OpNotEqual represents the inequality operator.
	OpNotEqual Operator = "ne"
	// OpGreaterThan represents the greater than operator.
	OpGreaterThan Operator = "gt"
	// OpGreaterEqual represents the greater than or equal operator.
	OpGreaterEqual Operator = "gte"
	// OpLessThan represents the less than operator.
	OpLessThan Operator = "lt"
	// OpLessEqual represents the less than or equal operator.
	OpLessEqual Operator = "lte"
	// OpIn represents the membership operator.
	OpIn Operator = "in"
	// OpNotIn represents the non-membership operator.
	OpNotIn Operator = "nin"
)

// Predicate is a boolean condition over a metadata document.
//
// Evaluation is fail-closed: a field that is absent from the document fails
// every operator, including OpNotEqual and OpNotIn. Records with missing
// fields never leak through negated conditions.
type Predicate interface {
	Matches(doc Document) bool
}

// Condition is a single field comparison.
type Condition struct {
	Field    string
	Operator Operator
	Value    Value
}

// Matches checks if the provided metadata matches this condition.
func (c *Condition) Matches(doc Document) bool {
	value, exists := doc[c.Field]
	if !exists {
		return false
	}

	switch c.Operator {
	case OpEqual:
		return compareEqual(value, c.Value)
	case OpNotEqual:
		return !compareEqual(value, c.Value)
	case OpGreaterThan:
		return compareGreater(value, c.Value)
	case OpGreaterEqual:
		return compareGreater(value, c.Value) || compareEqual(value, c.Value)
	case OpLessThan:
		return compareLess(value, c.Value)
	case OpLessEqual:
		return compareLess(value, c.Value) || compareEqual(value, c.Value)
	case OpIn:
		return compareIn(value, c.Value)
	case OpNotIn:
		return !compareIn(value, c.Value)
	default:
		return false
	}
}

// And is a conjunction of predicates. An empty conjunction matches everything.
type And struct {
	Predicates []Predicate
}

// Matches checks if the document matches all child predicates.
func (a *And) Matches(doc Document) bool {
	for _, p := range a.Predicates {
		if !p.Matches(doc) {
			return false
		}
	}
	return true
}

// Or is a disjunction of predicates. An empty disjunction matches nothing.
type Or struct {
	Predicates []Predicate
}

// Matches checks if the document matches at least one child predicate.
func (o *Or) Matches(doc Document) bool {
	for _, p := range o.Predicates {
		if p.Matches(doc) {
			return true
		}
	}
	return false
}

func compareEqual(a, b Value) bool {
	if a.Kind == KindNull && b.Kind == KindNull {
		return true
	}
	if a.Kind == KindNull || b.Kind == KindNull {
		return false
	}

	if isNumber(a) && isNumber(b) {
		// Prefer exact int compare when possible.
		if a.Kind == KindInt && b.Kind == KindInt {
			return a.I64 == b.I64
		}
		return asFloat64(a) == asFloat64(b)
	}

	if a.Kind != b.Kind {
		return false
	}

	switch a.Kind {
	case KindString:
		return a.s == b.s
	case KindBool:
		return a.B == b.B
	case KindArray:
		if len(a.A) != len(b.A) {
			return false
		}
		for i := range a.A {
			if !compareEqual(a.A[i], b.A[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Ordering comparisons are numeric only. Mixed or non-numeric operands fail.
func compareGreater(a, b Value) bool {
	if !isNumber(a) || !isNumber(b) {
		return false
	}
	return asFloat64(a) > asFloat64(b)
}

func compareLess(a, b Value) bool {
	if !isNumber(a) || !isNumber(b) {
		return false
	}
	return asFloat64(a) < asFloat64(b)
}

func compareIn(a, b Value) bool {
	if b.Kind != KindArray {
		return false
	}
	for _, item := range b.A {
		if compareEqual(a, item) {
			return true
		}
	}
	return false
}

func isNumber(v Value) bool {
	return v.Kind == KindInt || v.Kind == KindFloat
}

func asFloat64(v Value) float64 {
	switch v.Kind {
	case KindInt:
		return float64(v.I64)
	case KindFloat:
		return v.F64
	default:
		return 0
	}
}
