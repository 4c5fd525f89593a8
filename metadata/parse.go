package metadata

import (
	"fmt"
)

// ErrInvalidOperator indicates an unknown or malformed predicate operator.
type ErrInvalidOperator struct {
	Operator string
}

func (e *ErrInvalidOperator) Error() string {
	return fmt.Sprintf("invalid predicate operator: %q", e.Operator)
}

var opNames = map[string]Operator{
	"$eq":  OpEqual,
	"$ne":  OpNotEqual,
	"$gt":  OpGreaterThan,
	"$gte": OpGreaterEqual,
	"$lt":  OpLessThan,
	"$lte": OpLessEqual,
	"$in":  OpIn,
	"$nin": OpNotIn,
}

// ParsePredicate builds a Predicate from a JSON-style filter document.
//
// The grammar is the familiar document-database one:
//
//	{"field": literal}                  equality shorthand
//	{"field": {"$gt": 100}}             operator object
//	{"$and": [pred, pred, ...]}         conjunction
//	{"$or":  [pred, pred, ...]}         disjunction
//
// Multiple entries at the same level are conjoined. Unknown operators return
// *ErrInvalidOperator rather than silently matching; a malformed predicate
// must never widen a result set.
//
// A nil or empty filter returns a nil Predicate, meaning no filtering.
func ParsePredicate(filter map[string]any) (Predicate, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	return parseNode(filter)
}

func parseNode(node map[string]any) (Predicate, error) {
	preds := make([]Predicate, 0, len(node))

	for key, raw := range node {
		switch key {
		case "$and":
			children, err := parseList(key, raw)
			if err != nil {
				return nil, err
			}
			preds = append(preds, &And{Predicates: children})
		case "$or":
			children, err := parseList(key, raw)
			if err != nil {
				return nil, err
			}
			preds = append(preds, &Or{Predicates: children})
		default:
			if len(key) > 0 && key[0] == '$' {
				return nil, &ErrInvalidOperator{Operator: key}
			}
			p, err := parseField(key, raw)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		}
	}

	if len(preds) == 1 {
		return preds[0], nil
	}
	return &And{Predicates: preds}, nil
}

func parseList(op string, raw any) ([]Predicate, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s expects a list, got %T", op, raw)
	}

	children := make([]Predicate, 0, len(items))
	for _, item := range items {
		sub, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s list entries must be objects, got %T", op, item)
		}
		p, err := parseNode(sub)
		if err != nil {
			return nil, err
		}
		children = append(children, p)
	}
	return children, nil
}

func parseField(field string, raw any) (Predicate, error) {
	// An operator object: {"$gt": 100, "$lt": 200} conjoins its entries.
	if obj, ok := raw.(map[string]any); ok {
		conds := make([]Predicate, 0, len(obj))
		for opName, operand := range obj {
			op, known := opNames[opName]
			if !known {
				return nil, &ErrInvalidOperator{Operator: opName}
			}

			value, err := parseOperand(op, operand)
			if err != nil {
				return nil, err
			}
			conds = append(conds, &Condition{Field: field, Operator: op, Value: value})
		}
		if len(conds) == 1 {
			return conds[0], nil
		}
		return &And{Predicates: conds}, nil
	}

	// Literal shorthand for equality.
	value, err := FromAny(raw)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", field, err)
	}
	return &Condition{Field: field, Operator: OpEqual, Value: value}, nil
}

func parseOperand(op Operator, operand any) (Value, error) {
	value, err := FromAny(operand)
	if err != nil {
		return Value{}, err
	}

	if op == OpIn || op == OpNotIn {
		if value.Kind != KindArray {
			return Value{}, fmt.Errorf("$%s expects a list, got %T", op, operand)
		}
	}
	return value, nil
}
