package kv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

type Query struct {
	Descending bool
	Limit      int
	Cursor     string
	// Projection keeps only the named top-level attributes of each
	// returned document. Empty means the full document.
	Projection []string
}

type Page struct {
	Items []json.RawMessage
	// Cursor resumes the query after the last returned item. Empty when
	// the table has no further matching rows.
	Cursor string
}

// cursorPos is the last-evaluated position of a paginated index query.
type cursorPos struct {
	Sort string `json:"s"`
	ID   string `json:"id"`
}

func encodeCursor(p cursorPos) string {
	b, _ := json.Marshal(p)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(s string) (cursorPos, error) {
	var p cursorPos
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return p, ErrBadCursor
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return p, ErrBadCursor
	}
	return p, nil
}

// QueryByIndex returns documents whose indexed hash attribute equals
// key, ordered by the index sort attribute (item id as tiebreaker).
func (s *Store) QueryByIndex(ctx context.Context, table, index, key string, q Query) (Page, error) {
	sp, err := s.spec(table)
	if err != nil {
		return Page{}, err
	}
	known := false
	for _, idx := range sp.Indexes {
		if idx.Name == index {
			known = true
			break
		}
	}
	if !known {
		return Page{}, fmt.Errorf("kv: table %q has no index %q", table, index)
	}

	tx := s.db.WithContext(ctx).Model(&indexRow{}).
		Where("tbl = ? AND idx = ? AND hash_val = ?", table, index, key)

	if q.Cursor != "" {
		pos, err := decodeCursor(q.Cursor)
		if err != nil {
			return Page{}, err
		}
		if q.Descending {
			tx = tx.Where("sort_val < ? OR (sort_val = ? AND item_id < ?)", pos.Sort, pos.Sort, pos.ID)
		} else {
			tx = tx.Where("sort_val > ? OR (sort_val = ? AND item_id > ?)", pos.Sort, pos.Sort, pos.ID)
		}
	}

	if q.Descending {
		tx = tx.Order("sort_val DESC").Order("item_id DESC")
	} else {
		tx = tx.Order("sort_val ASC").Order("item_id ASC")
	}

	// one extra row decides whether a continuation cursor is reported
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit + 1)
	}

	var rows []indexRow
	if err := tx.Find(&rows).Error; err != nil {
		return Page{}, err
	}

	more := false
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
		more = true
	}

	page := Page{Items: make([]json.RawMessage, 0, len(rows))}
	if len(rows) == 0 {
		return page, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ItemID)
	}

	var items []itemRow
	if err := s.db.WithContext(ctx).
		Where("tbl = ? AND item_id IN ?", table, ids).
		Find(&items).Error; err != nil {
		return Page{}, err
	}
	byID := make(map[string]string, len(items))
	for _, it := range items {
		byID[it.ItemID] = it.Doc
	}

	for _, r := range rows {
		doc, ok := byID[r.ItemID]
		if !ok {
			// index row outlived its item; skip rather than fail the page
			continue
		}
		raw := json.RawMessage(doc)
		if len(q.Projection) > 0 {
			raw, err = project(raw, q.Projection)
			if err != nil {
				return Page{}, err
			}
		}
		page.Items = append(page.Items, raw)
	}

	if more {
		last := rows[len(rows)-1]
		page.Cursor = encodeCursor(cursorPos{Sort: last.SortVal, ID: last.ItemID})
	}
	return page, nil
}

func project(raw json.RawMessage, attrs []string) (json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(attrs))
	for _, a := range attrs {
		if v, ok := doc[a]; ok {
			out[a] = v
		}
	}
	return json.Marshal(out)
}
