// Package preview computes a read-only projection of a command's effect:
// a localized summary plus a structured before/after diff. It never writes
// and its output is deterministic for an unchanged store.
package preview

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"workdesk/internal/domain"
	"workdesk/internal/locale"
	"workdesk/internal/repo"
	"workdesk/internal/schema"
)

// ReferenceNotFoundError reports a dangling entity reference. The preview
// is all-or-nothing; no partial payload is returned.
type ReferenceNotFoundError struct {
	Entity domain.EntityKind
	ID     string
}

func (e ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

type Generator struct {
	Repo repo.Repo
}

// Preview resolves every reference the command touches read-only and
// describes the intended change.
func (g Generator) Preview(ctx context.Context, tenantID string, cmd domain.Command) (domain.PreviewPayload, error) {
	cmd, err := schema.ValidateCommand(cmd)
	if err != nil {
		return domain.PreviewPayload{}, err
	}
	loc := locale.Normalize(cmd.Locale)
	entityName := locale.EntityName(loc, string(cmd.Entity))

	if !schema.MutatesExisting(cmd.Action) {
		if err := g.checkReferences(ctx, tenantID, cmd); err != nil {
			return domain.PreviewPayload{}, err
		}
		summary := locale.T(loc, "preview.create", entityName, createLabel(cmd))
		if amount, ok := primaryAmount(cmd.Params); ok {
			summary += " " + locale.T(loc, "preview.amount", amount)
		}
		return domain.PreviewPayload{
			Summary: summary,
			Changes: paramChanges(cmd.Params, nil),
		}, nil
	}

	id, _ := cmd.Params["id"].(string)
	current, label, err := g.currentFields(ctx, tenantID, cmd.Entity, id)
	if err != nil {
		return domain.PreviewPayload{}, err
	}

	if target, ok := schema.TransitionTarget(cmd); ok {
		before := ""
		if s, ok := current["stage"].(string); ok {
			before = s
		}
		return domain.PreviewPayload{
			Summary: locale.T(loc, "preview.transition", entityName, label, before, target),
			Changes: []domain.FieldChange{{Field: "stage", Before: before, After: target}},
		}, nil
	}

	if schema.IsDelete(cmd.Action) {
		return domain.PreviewPayload{
			Summary: locale.T(loc, "preview.delete", entityName, label),
			Changes: fieldRemovals(current),
		}, nil
	}

	changes := make([]domain.FieldChange, 0, len(cmd.Params))
	names := sortedParamNames(cmd.Params)
	for _, name := range names {
		if name == "id" {
			continue
		}
		changes = append(changes, domain.FieldChange{
			Field:  name,
			Before: current[name],
			After:  cmd.Params[name],
		})
	}
	return domain.PreviewPayload{
		Summary: locale.T(loc, "preview.update", entityName, label),
		Changes: changes,
	}, nil
}

// checkReferences verifies foreign ids on create-style commands.
func (g Generator) checkReferences(ctx context.Context, tenantID string, cmd domain.Command) error {
	if id, ok := cmd.Params["customer_id"].(string); ok {
		if _, err := g.Repo.GetCustomer(ctx, tenantID, id); err != nil {
			return refErr(domain.EntityCustomer, id, err)
		}
	}
	if id, ok := cmd.Params["deal_id"].(string); ok {
		if _, err := g.Repo.GetDeal(ctx, tenantID, id); err != nil {
			return refErr(domain.EntityDeal, id, err)
		}
	}
	return nil
}

func refErr(kind domain.EntityKind, id string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return ReferenceNotFoundError{Entity: kind, ID: id}
	}
	return err
}

// currentFields loads the referenced record and flattens the fields the
// command pipeline can address, plus a display label.
func (g Generator) currentFields(ctx context.Context, tenantID string, kind domain.EntityKind, id string) (map[string]any, string, error) {
	switch kind {
	case domain.EntityCustomer:
		c, err := g.Repo.GetCustomer(ctx, tenantID, id)
		if err != nil {
			return nil, "", refErr(kind, id, err)
		}
		return map[string]any{"name": c.Name, "email": c.Email, "phone": c.Phone}, c.Name, nil
	case domain.EntityDeal:
		d, err := g.Repo.GetDeal(ctx, tenantID, id)
		if err != nil {
			return nil, "", refErr(kind, id, err)
		}
		return map[string]any{"title": d.Title, "value": d.Value, "currency": d.Currency, "stage": d.Stage}, d.Title, nil
	case domain.EntityQuote:
		q, err := g.Repo.GetQuote(ctx, tenantID, id)
		if err != nil {
			return nil, "", refErr(kind, id, err)
		}
		label := q.Title
		if label == "" {
			label = q.ID
		}
		return map[string]any{"title": q.Title, "amount": q.Amount, "currency": q.Currency, "stage": q.Status}, label, nil
	case domain.EntityInvoice:
		inv, err := g.Repo.GetInvoice(ctx, tenantID, id)
		if err != nil {
			return nil, "", refErr(kind, id, err)
		}
		fields := map[string]any{"amount": inv.Amount, "currency": inv.Currency, "stage": inv.Status}
		if inv.DueDate != nil {
			fields["due_date"] = *inv.DueDate
		}
		return fields, inv.ID, nil
	case domain.EntityContract:
		c, err := g.Repo.GetContract(ctx, tenantID, id)
		if err != nil {
			return nil, "", refErr(kind, id, err)
		}
		fields := map[string]any{"title": c.Title, "stage": c.Status}
		if c.StartDate != nil {
			fields["start_date"] = *c.StartDate
		}
		if c.EndDate != nil {
			fields["end_date"] = *c.EndDate
		}
		return fields, c.Title, nil
	case domain.EntityMeeting:
		m, err := g.Repo.GetMeeting(ctx, tenantID, id)
		if err != nil {
			return nil, "", refErr(kind, id, err)
		}
		fields := map[string]any{"title": m.Title, "stage": m.Status}
		if m.StartsAt != nil {
			fields["starts_at"] = *m.StartsAt
		}
		return fields, m.Title, nil
	}
	return nil, "", fmt.Errorf("unknown entity kind %s", kind)
}

func createLabel(cmd domain.Command) string {
	for _, key := range []string{"title", "name"} {
		if s, ok := cmd.Params[key].(string); ok {
			return s
		}
	}
	return string(cmd.Entity)
}

// primaryAmount renders the monetary parameter of a create command, with
// its currency when one was given.
func primaryAmount(params map[string]any) (string, bool) {
	for _, key := range []string{"value", "amount"} {
		v, ok := params[key].(float64)
		if !ok {
			continue
		}
		s := strconv.FormatFloat(v, 'f', -1, 64)
		if cur, ok := params["currency"].(string); ok && cur != "" {
			s += " " + cur
		}
		return s, true
	}
	return "", false
}

func sortedParamNames(params map[string]any) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func paramChanges(after map[string]any, before map[string]any) []domain.FieldChange {
	names := sortedParamNames(after)
	changes := make([]domain.FieldChange, 0, len(names))
	for _, name := range names {
		var b any
		if before != nil {
			b = before[name]
		}
		changes = append(changes, domain.FieldChange{Field: name, Before: b, After: after[name]})
	}
	return changes
}

func fieldRemovals(current map[string]any) []domain.FieldChange {
	names := sortedParamNames(current)
	changes := make([]domain.FieldChange, 0, len(names))
	for _, name := range names {
		changes = append(changes, domain.FieldChange{Field: name, Before: current[name]})
	}
	return changes
}
