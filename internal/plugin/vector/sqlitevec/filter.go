package sqlitevec

import (
	"fmt"
	"strings"

	registryvector "github.com/bao243092078-crypto/memory-anchor/internal/registry/vector"
)

// compileFilter translates a DNF registryvector.Filter into a SQL fragment
// of the form "AND ((clause1) OR (clause2) ...)" against columns qualified
// by alias, plus its positional args.
func compileFilter(f registryvector.Filter, alias string) (string, []interface{}) {
	if f.IsEmpty() {
		return "", nil
	}
	var clauseSQLs []string
	var args []interface{}
	for _, clause := range f.Clauses {
		var conds []string
		for _, pr := range clause {
			col := fmt.Sprintf("%s.%s", alias, pr.Field)
			switch pr.Op {
			case registryvector.OpEquals:
				conds = append(conds, fmt.Sprintf("%s = ?", col))
				args = append(args, pr.Value)
			case registryvector.OpRange:
				if pr.Gte != nil {
					conds = append(conds, fmt.Sprintf("%s >= ?", col))
					args = append(args, pr.Gte)
				}
				if pr.Lte != nil {
					conds = append(conds, fmt.Sprintf("%s <= ?", col))
					args = append(args, pr.Lte)
				}
			case registryvector.OpIsNull:
				conds = append(conds, fmt.Sprintf("%s IS NULL", col))
			case registryvector.OpNotNull:
				conds = append(conds, fmt.Sprintf("%s IS NOT NULL", col))
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
