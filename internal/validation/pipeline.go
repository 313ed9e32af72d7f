// Package validation checks entity records against their schema, column
// metadata and table-level rules.
package validation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"entityflow/internal/metadata"
	"entityflow/internal/schema"
	"entityflow/internal/store"
)

// Input is one record on its way through the pipeline.
type Input struct {
	Table    *metadata.Table
	Record   metadata.Record // submitted column values
	Virtual  metadata.Record // submitted virtual field values
	Existing metadata.Record // current row on update, nil on create
	ID       any             // nil on create
	Actor    *metadata.Actor
}

func (in Input) isCreate() bool { return in.ID == nil }

// merged overlays the submitted values on the current row.
func (in Input) merged() metadata.Record {
	out := metadata.Record{}
	for k, v := range in.Existing {
		out[k] = v
	}
	for k, v := range in.Record {
		out[k] = v
	}
	return out
}

// Pipeline runs the structural, virtual and rule passes.
type Pipeline struct {
	dialect  store.Dialect
	validate *validator.Validate
	logger   *zap.Logger
}

func NewPipeline(dialect store.Dialect, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{dialect: dialect, validate: validator.New(), logger: logger}
}

// Validate runs every pass and merges the messages. The returned error is
// reserved for database failures while checking rules.
func (p *Pipeline) Validate(ctx context.Context, q store.Querier, in Input) (Errors, error) {
	errs := p.Structural(in)
	errs.Merge(p.Virtual(in))
	ruleErrs, err := p.Rules(ctx, q, in)
	if err != nil {
		return nil, err
	}
	errs.Merge(ruleErrs)
	return errs, nil
}

// Structural checks each writable column against its type, nullability,
// length and column metadata. Columns the engine manages are skipped.
func (p *Pipeline) Structural(in Input) Errors {
	errs := Errors{}
	tbl := in.Table
	managed := map[string]bool{}
	for _, c := range tbl.Meta.ManagedColumns() {
		managed[c] = true
	}

	for _, col := range tbl.Schema.Columns {
		meta := tbl.ColumnMeta(col.Name)
		if col.Name == tbl.PrimaryKey() || meta.Hidden || managed[col.Name] {
			continue
		}
		present := in.Record.Has(col.Name)
		if !present && !in.isCreate() {
			continue
		}

		label := tbl.Label(col.Name)
		if in.Record.Blank(col.Name) {
			required := meta.Required || (!col.Nullable && !col.HasDefault)
			if required && !(meta.IsUpload() && !in.isCreate()) {
				errs.Add(col.Name, fmt.Sprintf("%s is required", label))
			}
			continue
		}
		p.checkValue(errs, col, meta, label, in.Record[col.Name])
	}
	return errs
}

func (p *Pipeline) checkValue(errs Errors, col schema.ColumnDescriptor, meta metadata.ColumnMeta, label string, v any) {
	switch col.Type {
	case schema.TypeInteger:
		if _, ok := ToInt(v); !ok {
			errs.Add(col.Name, fmt.Sprintf("%s must be an integer", label))
			return
		}
	case schema.TypeDecimal:
		if _, ok := ToFloat(v); !ok {
			errs.Add(col.Name, fmt.Sprintf("%s must be a number", label))
			return
		}
	case schema.TypeBoolean:
		if _, ok := ToBool(v); !ok {
			errs.Add(col.Name, fmt.Sprintf("%s must be true or false", label))
			return
		}
	case schema.TypeDate, schema.TypeDateTime:
		if _, ok := ParseTime(v); !ok {
			errs.Add(col.Name, fmt.Sprintf("%s must be a valid date", label))
			return
		}
	case schema.TypeEnum:
		if !contains(col.EnumValues, stringValue(v)) {
			errs.Add(col.Name, fmt.Sprintf("%s must be one of: %s", label, strings.Join(col.EnumValues, ", ")))
			return
		}
	}

	s := stringValue(v)
	length := utf8.RuneCountInString(s)
	if col.MaxLength > 0 && length > col.MaxLength {
		errs.Add(col.Name, fmt.Sprintf("%s may not be longer than %d characters", label, col.MaxLength))
	}
	if meta.HasValidator("email") && p.validate.Var(s, "email") != nil {
		errs.Add(col.Name, fmt.Sprintf("%s must be a valid email address", label))
	}
	if meta.HasValidator("url") && !validURL(p.validate, s) {
		errs.Add(col.Name, fmt.Sprintf("%s must be a valid URL", label))
	}
	if meta.Min != nil || meta.Max != nil {
		f, ok := ToFloat(v)
		if !ok {
			errs.Add(col.Name, fmt.Sprintf("%s must be a number", label))
		} else if meta.Min != nil && f < *meta.Min {
			errs.Add(col.Name, fmt.Sprintf("%s must be at least %v", label, *meta.Min))
		} else if meta.Max != nil && f > *meta.Max {
			errs.Add(col.Name, fmt.Sprintf("%s may not be greater than %v", label, *meta.Max))
		}
	}
	if meta.MinLength != nil && length < *meta.MinLength {
		errs.Add(col.Name, fmt.Sprintf("%s must be at least %d characters", label, *meta.MinLength))
	}
	if meta.MaxLength != nil && length > *meta.MaxLength {
		errs.Add(col.Name, fmt.Sprintf("%s may not be longer than %d characters", label, *meta.MaxLength))
	}
}

// validURL requires an http(s) scheme on top of the URL format check.
func validURL(v *validator.Validate, s string) bool {
	if v.Var(s, "url") != nil {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Virtual checks fields that are accepted but never stored.
func (p *Pipeline) Virtual(in Input) Errors {
	errs := Errors{}
	names := make([]string, 0, len(in.Table.Meta.VirtualFields))
	for name := range in.Table.Meta.VirtualFields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		vf := in.Table.Meta.VirtualFields[name]
		label := in.Table.Label(name)
		value := in.Virtual.String(name)

		if value == "" {
			if vf.Required && (in.isCreate() || in.Virtual.Has(name) || (vf.Matches != "" && !in.Record.Blank(vf.Matches))) {
				errs.Add(name, fmt.Sprintf("%s is required", label))
			}
			continue
		}
		if vf.MinLength > 0 && utf8.RuneCountInString(value) < vf.MinLength {
			errs.Add(name, fmt.Sprintf("%s must be at least %d characters", label, vf.MinLength))
		}
		if vf.Matches != "" && value != in.Record.String(vf.Matches) {
			errs.Add(name, fmt.Sprintf("%s does not match %s", label, in.Table.Label(vf.Matches)))
		}
	}
	return errs
}

// Rules applies unique_together, required_if, conditional and business rules.
// On create with require_approval the approval field is reset in in.Record.
func (p *Pipeline) Rules(ctx context.Context, q store.Querier, in Input) (Errors, error) {
	errs := Errors{}
	md := in.Table.Meta
	rec := in.merged()

	for _, fields := range md.ValidationRules.UniqueTogether {
		dup, err := p.duplicateExists(ctx, q, in, rec, fields)
		if err != nil {
			return nil, err
		}
		if dup {
			labels := make([]string, len(fields))
			for i, f := range fields {
				labels[i] = in.Table.Label(f)
			}
			errs.Add(fields[0], fmt.Sprintf("The combination of %s already exists", strings.Join(labels, ", ")))
		}
	}

	requiredIf := md.ValidationRules.RequiredIf
	fields := make([]string, 0, len(requiredIf))
	for f := range requiredIf {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if conditionsHold(requiredIf[field], rec) && rec.Blank(field) {
			errs.Add(field, fmt.Sprintf("%s is required", in.Table.Label(field)))
		}
	}

	for _, rule := range md.ValidationRules.Conditional {
		p.applyConditional(errs, in.Table, rule, rec)
	}

	if in.isCreate() {
		if err := p.checkRecordLimit(ctx, q, in, errs); err != nil {
			return nil, err
		}
		if field, ok := md.ApprovalField(); ok && in.Table.Schema.HasColumn(field) {
			in.Record[field] = nil
		}
	}
	return errs, nil
}

func (p *Pipeline) duplicateExists(ctx context.Context, q store.Querier, in Input, rec metadata.Record, fields []string) (bool, error) {
	eq := sq.Eq{}
	for _, f := range fields {
		if rec.Blank(f) {
			return false, nil
		}
		eq[f] = rec[f]
	}
	tbl := in.Table
	b := p.dialect.Builder().Select("1").From(tbl.Name()).Where(eq)
	if in.ID != nil {
		b = b.Where(sq.NotEq{tbl.PrimaryKey(): in.ID})
	}
	if col, ok := tbl.Meta.SoftDeleteColumn(); ok && tbl.Schema.HasColumn(col) {
		b = b.Where(sq.Eq{col: nil})
	}
	found, err := store.Exists(ctx, q, b)
	if err != nil {
		return false, fmt.Errorf("unique_together %v: %w", fields, err)
	}
	return found, nil
}

func conditionsHold(conds map[string]any, rec metadata.Record) bool {
	for field, want := range conds {
		if rec.String(field) != fmt.Sprintf("%v", want) {
			if wb, ok := want.(bool); !ok || !boolMatches(rec[field], wb) {
				return false
			}
		}
	}
	return true
}

func boolMatches(v any, want bool) bool {
	b, ok := ToBool(v)
	return ok && b == want
}

func (p *Pipeline) applyConditional(errs Errors, tbl *metadata.Table, rule metadata.ConditionalRule, rec metadata.Record) {
	label := tbl.Label(rule.Field)
	holds, err := EvaluateCondition(rule.Condition, rec)
	if errors.Is(err, ErrNotApplicable) {
		return
	}
	if errors.Is(err, ErrUnsafeExpression) {
		p.logger.Warn("conditional rule skipped",
			zap.String("table", tbl.Name()), zap.String("field", rule.Field),
			zap.String("condition", rule.Condition), zap.Error(err))
		return
	}
	if err != nil {
		p.logger.Warn("conditional rule rejected",
			zap.String("table", tbl.Name()), zap.String("field", rule.Field),
			zap.String("condition", rule.Condition), zap.Error(err))
		errs.Add(rule.Field, fmt.Sprintf("%s could not be validated", label))
		return
	}
	if !holds {
		return
	}

	if rec.Blank(rule.Field) {
		if rule.Required {
			errs.Add(rule.Field, ruleMessage(rule, fmt.Sprintf("%s is required", label)))
		}
		return
	}
	if rule.Min == nil && rule.Max == nil {
		return
	}
	f, ok := ToFloat(rec[rule.Field])
	switch {
	case !ok:
		errs.Add(rule.Field, ruleMessage(rule, fmt.Sprintf("%s must be a number", label)))
	case rule.Min != nil && f < *rule.Min:
		errs.Add(rule.Field, ruleMessage(rule, fmt.Sprintf("%s must be at least %v", label, *rule.Min)))
	case rule.Max != nil && f > *rule.Max:
		errs.Add(rule.Field, ruleMessage(rule, fmt.Sprintf("%s may not be greater than %v", label, *rule.Max)))
	}
}

func ruleMessage(rule metadata.ConditionalRule, fallback string) string {
	if rule.Message != "" {
		return rule.Message
	}
	return fallback
}

func (p *Pipeline) checkRecordLimit(ctx context.Context, q store.Querier, in Input, errs Errors) error {
	md := in.Table.Meta
	limit := md.BusinessRules.MaxRecordsPerUser
	owner := md.OwnerField()
	if limit <= 0 || in.Actor.Anonymous() || !in.Table.Schema.HasColumn(owner) {
		return nil
	}

	b := p.dialect.Builder().Select("COUNT(*)").From(in.Table.Name()).Where(sq.Eq{owner: in.Actor.ID})
	if col, ok := md.SoftDeleteColumn(); ok && in.Table.Schema.HasColumn(col) {
		b = b.Where(sq.Eq{col: nil})
	}
	n, err := store.Count(ctx, q, b)
	if err != nil {
		return fmt.Errorf("max_records_per_user: %w", err)
	}
	if n >= int64(limit) {
		errs.Add(GeneralField, fmt.Sprintf("You may not create more than %d records", limit))
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
