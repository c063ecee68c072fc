package qdrant

import (
	"encoding/json"

	pb "github.com/qdrant/go-client/qdrant"

	registryvector "github.com/bao243092078-crypto/memory-anchor/internal/registry/vector"
)

func payloadToValues(p registryvector.Payload) map[string]*pb.Value {
	values := map[string]*pb.Value{
		"content":    {Kind: &pb.Value_StringValue{StringValue: p.Content}},
		"layer":      {Kind: &pb.Value_StringValue{StringValue: p.Layer}},
		"category":   {Kind: &pb.Value_StringValue{StringValue: p.Category}},
		"confidence": {Kind: &pb.Value_DoubleValue{DoubleValue: p.Confidence}},
		"created_at": {Kind: &pb.Value_IntegerValue{IntegerValue: p.CreatedAt}},
		"is_active":  {Kind: &pb.Value_BoolValue{BoolValue: p.IsActive}},
		"created_by": {Kind: &pb.Value_StringValue{StringValue: p.CreatedBy}},
		"valid_at":   nullableInt(p.ValidAt),
		"expires_at": nullableInt(p.ExpiresAt),
		"session_id": nullableString(p.SessionID),
	}
	values["related_files"] = stringListValue(p.RelatedFiles)
	return values
}

// stringListValue encodes a string slice as the list-typed payload value the
// read path decodes via GetListValue.
func stringListValue(files []string) *pb.Value {
	items := make([]*pb.Value, len(files))
	for i, f := range files {
		items[i] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: f}}
	}
	return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: items}}}
}

// relatedFilesValue normalizes the shapes UpdatePayload callers hand over
// for the related_files key — a []string, or the JSON-encoded string the
// SQL backends store column-side — into a list value. A plain StringValue
// here would be silently dropped by valuesToPayload's GetListValue on the
// next read.
func relatedFilesValue(v interface{}) *pb.Value {
	switch t := v.(type) {
	case []string:
		return stringListValue(t)
	case string:
		var files []string
		if err := json.Unmarshal([]byte(t), &files); err == nil {
			return stringListValue(files)
		}
		return stringListValue([]string{t})
	default:
		return toValue(v)
	}
}

func valuesToPayload(values map[string]*pb.Value) registryvector.Payload {
	p := registryvector.Payload{
		Content:    values["content"].GetStringValue(),
		Layer:      values["layer"].GetStringValue(),
		Category:   values["category"].GetStringValue(),
		Confidence: values["confidence"].GetDoubleValue(),
		CreatedAt:  values["created_at"].GetIntegerValue(),
		IsActive:   values["is_active"].GetBoolValue(),
		CreatedBy:  values["created_by"].GetStringValue(),
	}
	if v, ok := values["valid_at"]; ok && v.Kind != nil {
		if _, isNull := v.Kind.(*pb.Value_NullValue); !isNull {
			n := v.GetIntegerValue()
			p.ValidAt = &n
		}
	}
	if v, ok := values["expires_at"]; ok && v.Kind != nil {
		if _, isNull := v.Kind.(*pb.Value_NullValue); !isNull {
			n := v.GetIntegerValue()
			p.ExpiresAt = &n
		}
	}
	if v, ok := values["session_id"]; ok && v.Kind != nil {
		if _, isNull := v.Kind.(*pb.Value_NullValue); !isNull {
			s := v.GetStringValue()
			p.SessionID = &s
		}
	}
	if lv := values["related_files"].GetListValue(); lv != nil {
		for _, item := range lv.GetValues() {
			p.RelatedFiles = append(p.RelatedFiles, item.GetStringValue())
		}
	}
	return p
}

func nullableInt(v *int64) *pb.Value {
	if v == nil {
		return &pb.Value{Kind: &pb.Value_NullValue{}}
	}
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: *v}}
}

func nullableString(v *string) *pb.Value {
	if v == nil {
		return &pb.Value{Kind: &pb.Value_NullValue{}}
	}
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: *v}}
}

func toValue(v interface{}) *pb.Value {
	switch t := v.(type) {
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: t}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(t)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: t}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: t}}
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: t}}
	default:
		return &pb.Value{Kind: &pb.Value_NullValue{}}
	}
}

// compileFilter translates a DNF registryvector.Filter into Qdrant's native
// Filter: each clause becomes a nested Must-filter, OR'd together via Should.
func compileFilter(f registryvector.Filter) *pb.Filter {
	if f.IsEmpty() {
		return nil
	}
	if len(f.Clauses) == 1 {
		return &pb.Filter{Must: compileClause(f.Clauses[0])}
	}
	conditions := make([]*pb.Condition, len(f.Clauses))
	for i, clause := range f.Clauses {
		conditions[i] = &pb.Condition{
			ConditionOneOf: &pb.Condition_Filter{
				Filter: &pb.Filter{Must: compileClause(clause)},
			},
		}
	}
	return &pb.Filter{Should: conditions}
}

func compileClause(predicates []registryvector.Predicate) []*pb.Condition {
	conditions := make([]*pb.Condition, 0, len(predicates))
	for _, pr := range predicates {
		switch pr.Op {
		case registryvector.OpEquals:
			conditions = append(conditions, equalsCondition(pr.Field, pr.Value))
		case registryvector.OpRange:
			conditions = append(conditions, rangeCondition(pr.Field, pr.Gte, pr.Lte))
		case registryvector.OpIsNull:
			conditions = append(conditions, &pb.Condition{
				ConditionOneOf: &pb.Condition_IsNull{
					IsNull: &pb.IsNullCondition{Key: pr.Field},
				},
			})
		case registryvector.OpNotNull:
			conditions = append(conditions, &pb.Condition{
				ConditionOneOf: &pb.Condition_Filter{
					Filter: &pb.Filter{
						MustNot: []*pb.Condition{{
							ConditionOneOf: &pb.Condition_IsNull{IsNull: &pb.IsNullCondition{Key: pr.Field}},
						}},
					},
				},
			})
		}
	}
	return conditions
}

func equalsCondition(field string, value interface{}) *pb.Condition {
	match := &pb.Match{}
	switch v := value.(type) {
	case string:
		match.MatchValue = &pb.Match_Keyword{Keyword: v}
	case bool:
		match.MatchValue = &pb.Match_Boolean{Boolean: v}
	case int:
		match.MatchValue = &pb.Match_Integer{Integer: int64(v)}
	case int64:
		match.MatchValue = &pb.Match_Integer{Integer: v}
	}
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{Key: field, Match: match},
		},
	}
}

func rangeCondition(field string, gte, lte interface{}) *pb.Condition {
	r := &pb.Range{}
	if gte != nil {
		v := toFloat(gte)
		r.Gte = &v
	}
	if lte != nil {
		v := toFloat(lte)
		r.Lte = &v
	}
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{Key: field, Range: r},
		},
	}
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return 0
	}
}
