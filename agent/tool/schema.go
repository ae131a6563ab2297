package tool

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/getkin/kin-openapi/openapi3"
)

// paramsSchema converts the declared parameters into the object schema that
// Invoke validates against. Undeclared top-level keys are rejected.
func paramsSchema(decl map[string]*schema.ParameterInfo) (*openapi3.Schema, error) {
	declared := make(map[string]*schema.ParameterInfo, len(decl))
	for name, info := range decl {
		if info != nil {
			declared[name] = info
		}
	}

	sc := &openapi3.Schema{Type: openapi3.TypeObject, Properties: openapi3.Schemas{}}
	if len(declared) > 0 {
		converted, err := schema.NewParamsOneOfByParams(declared).ToOpenAPIV3()
		if err != nil {
			return nil, err
		}
		sc = converted
	}
	sort.Strings(sc.Required)
	sc.AdditionalProperties = openapi3.AdditionalProperties{Has: openapi3.BoolPtr(false)}
	return sc, nil
}

// validateParams checks params against sc and reports every violation.
// Nil values count as absent.
func validateParams(sc *openapi3.Schema, params map[string]any) error {
	doc, err := normalize(params)
	if err != nil {
		return err
	}
	err = sc.VisitJSON(doc, openapi3.MultiErrors(), openapi3.SetSchemaErrorMessageCustomizer(describe))
	if err == nil {
		return nil
	}

	me, ok := err.(openapi3.MultiError)
	if !ok {
		return err
	}
	problems := make([]string, 0, len(me))
	for _, e := range me {
		problems = append(problems, e.Error())
	}
	sort.Strings(problems)
	return fmt.Errorf("%s", strings.Join(problems, "; "))
}

func describe(err *openapi3.SchemaError) string {
	path := strings.Join(err.JSONPointer(), ".")
	if path == "" {
		return err.Reason
	}
	return path + ": " + err.Reason
}

// normalize turns params into the plain JSON document shape the validator
// understands and drops nil values.
func normalize(params map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("params are not JSON encodable: %v", err)
	}
	doc := map[string]any{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	dropNils(doc)
	return doc, nil
}

func dropNils(v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			if inner == nil {
				delete(t, k)
				continue
			}
			dropNils(inner)
		}
	case []any:
		for _, inner := range t {
			dropNils(inner)
		}
	}
}
