// Package schema is the single registry of supported {entity, action}
// pairs and their parameter contracts. Both the intent parser and the
// executor validate against it; neither trusts the other to have done so.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"workdesk/internal/domain"
)

// ParamType is the declared type of a command parameter.
type ParamType string

const (
	TypeString ParamType = "string"
	TypeNumber ParamType = "number"
	TypeDate   ParamType = "date"
	TypeID     ParamType = "id"
)

// ParamSpec declares one parameter of a registered command.
type ParamSpec struct {
	Name     string
	Type     ParamType
	Required bool
}

type opKey struct {
	Entity domain.EntityKind
	Action domain.ActionKind
}

// UnsupportedCommandError reports an unregistered {entity, action} pair.
type UnsupportedCommandError struct {
	Entity string
	Action string
}

func (e UnsupportedCommandError) Error() string {
	return fmt.Sprintf("unsupported command %s.%s", e.Entity, e.Action)
}

// MissingParameterError names the first required parameter not supplied.
type MissingParameterError struct {
	Param string
}

func (e MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameter %s", e.Param)
}

// TypeMismatchError names a parameter whose value has the wrong type.
type TypeMismatchError struct {
	Param string
	Want  ParamType
}

func (e TypeMismatchError) Error() string {
	return fmt.Sprintf("parameter %s must be of type %s", e.Param, e.Want)
}

// EmptyUpdateError reports an update command that names no fields to change.
type EmptyUpdateError struct {
	Entity string
}

func (e EmptyUpdateError) Error() string {
	return fmt.Sprintf("update for %s names no fields to change", e.Entity)
}

var registry = map[opKey][]ParamSpec{
	{domain.EntityCustomer, domain.ActionCreate}: {
		{Name: "name", Type: TypeString, Required: true},
		{Name: "email", Type: TypeString},
		{Name: "phone", Type: TypeString},
	},
	{domain.EntityCustomer, domain.ActionUpdate}: {
		{Name: "id", Type: TypeID, Required: true},
		{Name: "name", Type: TypeString},
		{Name: "email", Type: TypeString},
		{Name: "phone", Type: TypeString},
	},
	{domain.EntityDeal, domain.ActionCreate}: {
		{Name: "title", Type: TypeString, Required: true},
		{Name: "value", Type: TypeNumber, Required: true},
		{Name: "currency", Type: TypeString},
		{Name: "customer_id", Type: TypeID},
	},
	{domain.EntityDeal, domain.ActionUpdate}: {
		{Name: "id", Type: TypeID, Required: true},
		{Name: "title", Type: TypeString},
		{Name: "value", Type: TypeNumber},
		{Name: "currency", Type: TypeString},
	},
	{domain.EntityDeal, domain.ActionDelete}: {
		{Name: "id", Type: TypeID, Required: true},
	},
	{domain.EntityDeal, domain.ActionAdvanceStage}: {
		{Name: "id", Type: TypeID, Required: true},
		{Name: "stage", Type: TypeString, Required: true},
	},
	{domain.EntityQuote, domain.ActionCreate}: {
		{Name: "deal_id", Type: TypeID, Required: true},
		{Name: "amount", Type: TypeNumber, Required: true},
		{Name: "title", Type: TypeString},
		{Name: "currency", Type: TypeString},
	},
	{domain.EntityQuote, domain.ActionUpdate}: {
		{Name: "id", Type: TypeID, Required: true},
		{Name: "amount", Type: TypeNumber},
		{Name: "title", Type: TypeString},
	},
	{domain.EntityQuote, domain.ActionDelete}: {
		{Name: "id", Type: TypeID, Required: true},
	},
	{domain.EntityQuote, domain.ActionAccept}: {
		{Name: "id", Type: TypeID, Required: true},
	},
	{domain.EntityInvoice, domain.ActionCreate}: {
		{Name: "customer_id", Type: TypeID, Required: true},
		{Name: "amount", Type: TypeNumber, Required: true},
		{Name: "due_date", Type: TypeDate},
		{Name: "currency", Type: TypeString},
	},
	{domain.EntityInvoice, domain.ActionUpdate}: {
		{Name: "id", Type: TypeID, Required: true},
		{Name: "amount", Type: TypeNumber},
		{Name: "due_date", Type: TypeDate},
	},
	{domain.EntityInvoice, domain.ActionDelete}: {
		{Name: "id", Type: TypeID, Required: true},
	},
	{domain.EntityInvoice, domain.ActionMarkPaid}: {
		{Name: "id", Type: TypeID, Required: true},
	},
	{domain.EntityContract, domain.ActionCreate}: {
		{Name: "customer_id", Type: TypeID, Required: true},
		{Name: "title", Type: TypeString, Required: true},
		{Name: "start_date", Type: TypeDate},
		{Name: "end_date", Type: TypeDate},
	},
	{domain.EntityContract, domain.ActionUpdate}: {
		{Name: "id", Type: TypeID, Required: true},
		{Name: "title", Type: TypeString},
		{Name: "end_date", Type: TypeDate},
	},
	{domain.EntityContract, domain.ActionDelete}: {
		{Name: "id", Type: TypeID, Required: true},
	},
	{domain.EntityContract, domain.ActionTerminate}: {
		{Name: "id", Type: TypeID, Required: true},
	},
	{domain.EntityMeeting, domain.ActionSchedule}: {
		{Name: "title", Type: TypeString, Required: true},
		{Name: "starts_at", Type: TypeDate, Required: true},
		{Name: "customer_id", Type: TypeID},
	},
	{domain.EntityMeeting, domain.ActionCancel}: {
		{Name: "id", Type: TypeID, Required: true},
	},
}

// Params returns the parameter specs for a registered pair.
func Params(entity domain.EntityKind, action domain.ActionKind) ([]ParamSpec, bool) {
	specs, ok := registry[opKey{entity, action}]
	return specs, ok
}

// Operations lists every registered pair as "entity.action", sorted.
func Operations() []string {
	ops := make([]string, 0, len(registry))
	for k := range registry {
		ops = append(ops, string(k.Entity)+"."+string(k.Action))
	}
	sort.Strings(ops)
	return ops
}

// AutomationType is the preference key for a command.
func AutomationType(cmd domain.Command) string {
	return string(cmd.Entity) + "." + string(cmd.Action)
}

// MutatesExisting reports whether the action touches an existing record.
func MutatesExisting(action domain.ActionKind) bool {
	switch action {
	case domain.ActionCreate, domain.ActionSchedule:
		return false
	}
	return true
}

// IsDelete reports whether the action removes a record.
func IsDelete(action domain.ActionKind) bool {
	return action == domain.ActionDelete
}

// TransitionTarget returns the lifecycle state an action moves its record
// into, when the action is a stage transition rather than a field update.
func TransitionTarget(cmd domain.Command) (string, bool) {
	switch cmd.Action {
	case domain.ActionAdvanceStage:
		s, _ := cmd.Params["stage"].(string)
		return s, true
	case domain.ActionAccept:
		return "accepted", true
	case domain.ActionMarkPaid:
		return "paid", true
	case domain.ActionTerminate:
		return "terminated", true
	case domain.ActionCancel:
		return "cancelled", true
	}
	return "", false
}

// Validate checks a raw decoded object (model output, untrusted) against the
// registry and returns a typed Command. Unknown parameters are dropped.
func Validate(raw map[string]any, loc, rawText string) (domain.Command, error) {
	entity, _ := raw["entity"].(string)
	action, _ := raw["action"].(string)
	cmd := domain.Command{
		Entity:  domain.EntityKind(entity),
		Action:  domain.ActionKind(action),
		Locale:  loc,
		RawText: rawText,
	}
	if c, ok := raw["confidence"].(float64); ok {
		cmd.Confidence = c
	}
	params, _ := raw["parameters"].(map[string]any)
	var err error
	cmd.Params, err = validateParams(cmd.Entity, cmd.Action, params)
	if err != nil {
		return domain.Command{}, err
	}
	return cmd, nil
}

// ValidateCommand re-checks an already-built Command and returns it with
// the parameters reduced to the declared contract, so unknown keys from a
// structured client command never reach the write path. The executor calls
// this on every invocation regardless of where the command came from.
func ValidateCommand(cmd domain.Command) (domain.Command, error) {
	filtered, err := validateParams(cmd.Entity, cmd.Action, cmd.Params)
	if err != nil {
		return domain.Command{}, err
	}
	cmd.Params = filtered
	return cmd, nil
}

func validateParams(entity domain.EntityKind, action domain.ActionKind, params map[string]any) (map[string]any, error) {
	specs, ok := registry[opKey{entity, action}]
	if !ok {
		return nil, UnsupportedCommandError{Entity: string(entity), Action: string(action)}
	}
	out := make(map[string]any, len(specs))
	for _, spec := range specs {
		v, present := params[spec.Name]
		if !present || v == nil {
			if spec.Required {
				return nil, MissingParameterError{Param: spec.Name}
			}
			continue
		}
		coerced, ok := coerce(v, spec.Type)
		if !ok {
			return nil, TypeMismatchError{Param: spec.Name, Want: spec.Type}
		}
		out[spec.Name] = coerced
	}
	// An update that carries only the id would write nothing; reject it
	// here so it never reports success or lands in the activity log.
	if action == domain.ActionUpdate && len(out) == 1 {
		return nil, EmptyUpdateError{Entity: string(entity)}
	}
	return out, nil
}

func coerce(v any, t ParamType) (any, bool) {
	switch t {
	case TypeString, TypeID:
		s, ok := v.(string)
		if !ok || s == "" {
			return nil, false
		}
		return s, true
	case TypeNumber:
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return nil, false
			}
			return f, true
		}
		return nil, false
	case TypeDate:
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return nil, false
		}
		return s, true
	}
	return nil, false
}
