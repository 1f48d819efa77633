package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound  = errors.New("kv: item not found")
	ErrBadCursor = errors.New("kv: malformed cursor")
)

// IndexSpec describes a secondary index maintained for a table. HashAttr
// names the document attribute used as the equality key; SortAttr names
// the attribute rows are ordered by (item id when empty). Items whose
// hash attribute is missing or empty are simply absent from the index.
type IndexSpec struct {
	Name     string
	HashAttr string
	SortAttr string
}

type TableSpec struct {
	Name    string
	Indexes []IndexSpec
}

type itemRow struct {
	Tbl       string `gorm:"column:tbl;primaryKey;size:64"`
	ItemID    string `gorm:"primaryKey;size:64"`
	Doc       string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (itemRow) TableName() string { return "kv_items" }

type indexRow struct {
	Tbl     string `gorm:"column:tbl;primaryKey;size:64;index:idx_kv_lookup,priority:1"`
	Idx     string `gorm:"primaryKey;size:64;index:idx_kv_lookup,priority:2"`
	ItemID  string `gorm:"primaryKey;size:64"`
	HashVal string `gorm:"size:255;index:idx_kv_lookup,priority:3"`
	SortVal string `gorm:"size:255;index:idx_kv_lookup,priority:4"`
}

func (indexRow) TableName() string { return "kv_index_entries" }

// Store is a table-like document store: JSON docs keyed by a single id,
// with index rows rewritten on every put. There are no multi-item
// transactions; only a single put (item + its index rows) is atomic.
type Store struct {
	db     *gorm.DB
	tables map[string]TableSpec
}

func New(db *gorm.DB, specs ...TableSpec) *Store {
	tables := make(map[string]TableSpec, len(specs))
	for _, sp := range specs {
		tables[sp.Name] = sp
	}
	return &Store{db: db, tables: tables}
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&itemRow{}, &indexRow{})
}

func (s *Store) spec(table string) (TableSpec, error) {
	sp, ok := s.tables[table]
	if !ok {
		return TableSpec{}, fmt.Errorf("kv: unknown table %q", table)
	}
	return sp, nil
}

func (s *Store) Get(ctx context.Context, table, id string, out any) error {
	if _, err := s.spec(table); err != nil {
		return err
	}
	var row itemRow
	err := s.db.WithContext(ctx).
		Where("tbl = ? AND item_id = ?", table, id).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal([]byte(row.Doc), out)
}

// Put overwrites the full document and rewrites its index entries.
func (s *Store) Put(ctx context.Context, table, id string, doc any) error {
	sp, err := s.spec(table)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	entries, err := indexEntries(sp, id, raw)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item := itemRow{Tbl: table, ItemID: id, Doc: string(raw), UpdatedAt: time.Now().UTC()}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&item).Error; err != nil {
			return err
		}
		if err := tx.Where("tbl = ? AND item_id = ?", table, id).Delete(&indexRow{}).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		return tx.Create(&entries).Error
	})
}

// Update applies a partial change set to an existing document. It fails
// with ErrNotFound when the key is absent. A nil value in changes
// removes the attribute. The merged document is unmarshaled into out
// when out is non-nil.
func (s *Store) Update(ctx context.Context, table, id string, changes map[string]any, out any) error {
	var current map[string]any
	if err := s.Get(ctx, table, id, &current); err != nil {
		return err
	}
	for k, v := range changes {
		if v == nil {
			delete(current, k)
			continue
		}
		current[k] = v
	}
	if err := s.Put(ctx, table, id, current); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(current)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (s *Store) Delete(ctx context.Context, table, id string) error {
	if _, err := s.spec(table); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("tbl = ? AND item_id = ?", table, id).Delete(&itemRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("tbl = ? AND item_id = ?", table, id).Delete(&indexRow{}).Error
	})
}

// Scan reads every document in the table and applies filter in memory.
// Full-table cost; callers own the consequences.
func (s *Store) Scan(ctx context.Context, table string, filter func(json.RawMessage) bool) ([]json.RawMessage, error) {
	if _, err := s.spec(table); err != nil {
		return nil, err
	}
	var rows []itemRow
	if err := s.db.WithContext(ctx).
		Where("tbl = ?", table).
		Order("item_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(rows))
	for _, r := range rows {
		doc := json.RawMessage(r.Doc)
		if filter != nil && !filter(doc) {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

func indexEntries(sp TableSpec, id string, raw []byte) ([]indexRow, error) {
	if len(sp.Indexes) == 0 {
		return nil, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	var entries []indexRow
	for _, idx := range sp.Indexes {
		hash := stringAttr(doc, idx.HashAttr)
		if hash == "" {
			continue
		}
		sort := id
		if idx.SortAttr != "" {
			if v := stringAttr(doc, idx.SortAttr); v != "" {
				sort = normalizeSort(v)
			}
		}
		entries = append(entries, indexRow{
			Tbl:     sp.Name,
			Idx:     idx.Name,
			ItemID:  id,
			HashVal: hash,
			SortVal: sort,
		})
	}
	return entries, nil
}

func stringAttr(doc map[string]any, attr string) string {
	v, _ := doc[attr].(string)
	return v
}

// RFC3339Nano drops trailing zeros, which breaks lexicographic ordering
// across mixed precision. Timestamp sort attributes are rewritten to a
// fixed-width form before they land in an index row.
func normalizeSort(v string) string {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return v
	}
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}
