package assemble

import (
	"github.com/hanpama/aegraph/internal/language"
	"github.com/hanpama/aegraph/internal/schema"
)

// fieldGroup is the set of field nodes sharing one response name.
type fieldGroup struct {
	responseName string
	fields       []*language.Field
}

// collectFields groups the selections of set that apply to objectType, in
// document order.
func (st *state) collectFields(objectType *schema.Type, set language.SelectionSet) []fieldGroup {
	var groups []fieldGroup
	index := map[string]int{}
	visited := map[string]bool{}

	var collect func(set language.SelectionSet)
	collect = func(set language.SelectionSet) {
		for _, sel := range set {
			switch s := sel.(type) {
			case *language.Field:
				if !st.included(s.Directives) {
					continue
				}
				name := s.Alias
				if name == "" {
					name = s.Name
				}
				if i, ok := index[name]; ok {
					groups[i].fields = append(groups[i].fields, s)
					continue
				}
				index[name] = len(groups)
				groups = append(groups, fieldGroup{responseName: name, fields: []*language.Field{s}})

			case *language.InlineFragment:
				if !st.included(s.Directives) || !applies(s.TypeCondition, objectType) {
					continue
				}
				collect(s.SelectionSet)

			case *language.FragmentSpread:
				if !st.included(s.Directives) || visited[s.Name] {
					continue
				}
				visited[s.Name] = true
				def := st.document.Fragments.ForName(s.Name)
				if def == nil || !applies(def.TypeCondition, objectType) || !st.included(def.Directives) {
					continue
				}
				collect(def.SelectionSet)
			}
		}
	}
	collect(set)
	return groups
}

func applies(typeCondition string, objectType *schema.Type) bool {
	return typeCondition == "" || typeCondition == objectType.Name
}

// included evaluates @skip and @include.
func (st *state) included(dirs language.DirectiveList) bool {
	if d := dirs.ForName("skip"); d != nil {
		if v, ok := st.directiveIf(d); ok && v {
			return false
		}
	}
	if d := dirs.ForName("include"); d != nil {
		if v, ok := st.directiveIf(d); ok && !v {
			return false
		}
	}
	return true
}

func (st *state) directiveIf(d *language.Directive) (bool, bool) {
	arg := d.Arguments.ForName("if")
	if arg == nil {
		return false, false
	}
	v, ok := valueFromAST(arg.Value, st.variables).(bool)
	return v, ok
}
