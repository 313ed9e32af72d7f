package engine

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"entityflow/internal/metadata"
	"entityflow/internal/schema"
	"entityflow/internal/store"
)

// applyBehaviors fills the columns the engine manages: timestamps, the
// owner column, generated keys and slugs.
func (o *Orchestrator) applyBehaviors(ctx context.Context, q store.Querier, w *write) error {
	tbl := w.tbl
	md := tbl.Meta
	now := o.now().UTC()

	if created, updated, ok := md.TimestampFields(); ok {
		if w.isCreate() && tbl.Schema.HasColumn(created) {
			w.columns[created] = now
		}
		if tbl.Schema.HasColumn(updated) {
			w.columns[updated] = now
		}
	}

	if w.isCreate() {
		owner := md.OwnerField()
		// only an admin's submitted owner survives prepare
		ownerTracked := md.RowLevelSecurity.Enabled || md.BusinessRules.MaxRecordsPerUser > 0
		if ownerTracked && tbl.Schema.HasColumn(owner) && w.columns.Blank(owner) && !w.req.Actor.Anonymous() {
			w.columns[owner] = w.req.Actor.ID
		}
		if key, ok := generatedKey(tbl.Schema); ok {
			w.key = key
		}
	}

	if sl, ok := md.SlugConfig(); ok && tbl.Schema.HasColumn(sl.Target) {
		if err := o.applySlug(ctx, q, w, sl); err != nil {
			return err
		}
	}
	return nil
}

// generatedKey returns a fresh uuid for uuid or text primary keys the
// database does not fill itself.
func generatedKey(ts *schema.TableSchema) (string, bool) {
	col, ok := ts.PrimaryColumn()
	if !ok || col.AutoIncrement || col.HasDefault {
		return "", false
	}
	switch col.Type {
	case schema.TypeUUID, schema.TypeString, schema.TypeText:
		return uuid.New().String(), true
	}
	return "", false
}

func (o *Orchestrator) applySlug(ctx context.Context, q store.Querier, w *write, sl metadata.Sluggable) error {
	var source string
	switch {
	case w.columns.Has(sl.Source):
		source = w.columns.String(sl.Source)
	case w.isCreate():
		return nil
	default:
		// source unchanged; keep the stored slug unless it is missing
		if !w.existing.Blank(sl.Target) {
			return nil
		}
		source = w.existing.String(sl.Source)
	}

	base := Slugify(source, sl.Separator, sl.Lowercased())
	if base == "" {
		return nil
	}
	if !sl.Unique {
		w.columns[sl.Target] = base
		return nil
	}

	slug, err := o.uniqueSlug(ctx, q, w, sl.Target, base)
	if err != nil {
		return err
	}
	w.columns[sl.Target] = slug
	return nil
}

// uniqueSlug appends -1, -2, ... to base until no other row holds it.
func (o *Orchestrator) uniqueSlug(ctx context.Context, q store.Querier, w *write, target, base string) (string, error) {
	tbl := w.tbl
	candidate := base
	for n := 1; ; n++ {
		b := o.store.Dialect.Builder().Select("1").From(tbl.Name()).Where(sq.Eq{target: candidate})
		if !w.isCreate() {
			b = b.Where(sq.NotEq{tbl.PrimaryKey(): w.id})
		}
		taken, err := store.Exists(ctx, q, b)
		if err != nil {
			return "", fmt.Errorf("check slug %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
}

// Slugify transliterates s to ASCII and joins its alphanumeric runs with sep.
func Slugify(s, sep string, lower bool) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, s)
	if err != nil {
		plain = s
	}
	if lower {
		plain = strings.ToLower(plain)
	}

	var b strings.Builder
	pending := false
	for _, r := range plain {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pending && b.Len() > 0 {
				b.WriteString(sep)
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}
