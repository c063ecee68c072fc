package pgvector

import (
	"encoding/json"
	"fmt"
	"strings"

	registryvector "github.com/bao243092078-crypto/memory-anchor/internal/registry/vector"
)

// compileFilter translates a DNF registryvector.Filter into a SQL fragment
// of the form "AND ((clause1) OR (clause2) ...)" plus its positional args.
func compileFilter(f registryvector.Filter) (string, []interface{}) {
	if f.IsEmpty() {
		return "", nil
	}
	var clauseSQLs []string
	var args []interface{}
	for _, clause := range f.Clauses {
		var conds []string
		for _, pr := range clause {
			switch pr.Op {
			case registryvector.OpEquals:
				conds = append(conds, fmt.Sprintf("%s = ?", pr.Field))
				args = append(args, pr.Value)
			case registryvector.OpRange:
				if pr.Gte != nil {
					conds = append(conds, fmt.Sprintf("%s >= ?", pr.Field))
					args = append(args, pr.Gte)
				}
				if pr.Lte != nil {
					conds = append(conds, fmt.Sprintf("%s <= ?", pr.Field))
					args = append(args, pr.Lte)
				}
			case registryvector.OpIsNull:
				conds = append(conds, fmt.Sprintf("%s IS NULL", pr.Field))
			case registryvector.OpNotNull:
				conds = append(conds, fmt.Sprintf("%s IS NOT NULL", pr.Field))
			}
		}
		if len(conds) > 0 {
			clauseSQLs = append(clauseSQLs, "("+strings.Join(conds, " AND ")+")")
		}
	}
	if len(clauseSQLs) == 0 {
		return "", nil
	}
	return "AND (" + strings.Join(clauseSQLs, " OR ") + ")", args
}

func jsonArray(files []string) string {
	b, err := json.Marshal(files)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func parseJSONArray(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
