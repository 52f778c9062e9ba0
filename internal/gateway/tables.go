package gateway

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/todolimpio-backend/pkg/db/models"
)

// tableSpec binds a table name to its model and the columns callers may
// filter, order or write.
type tableSpec struct {
	table     Table
	columns   map[string]struct{}
	sensitive []string

	find   func(q *gorm.DB) ([]Row, error)
	first  func(q *gorm.DB, id string) (Row, error)
	create func(tx *gorm.DB, row Row) (Row, error)
	save   func(tx *gorm.DB, row Row) (Row, error)
	remove func(tx *gorm.DB, id string) error
}

func newSpec[M any](table Table, columns []string, sensitive ...string) *tableSpec {
	set := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		set[c] = struct{}{}
	}
	return &tableSpec{
		table:     table,
		columns:   set,
		sensitive: sensitive,
		find: func(q *gorm.DB) ([]Row, error) {
			var records []M
			if err := q.Find(&records).Error; err != nil {
				return nil, err
			}
			rows := make([]Row, 0, len(records))
			for i := range records {
				row, err := toRow(&records[i])
				if err != nil {
					return nil, err
				}
				rows = append(rows, row)
			}
			return rows, nil
		},
		first: func(q *gorm.DB, id string) (Row, error) {
			var record M
			if err := q.Where(ColumnID+" = ?", id).First(&record).Error; err != nil {
				return nil, err
			}
			return toRow(&record)
		},
		create: func(tx *gorm.DB, row Row) (Row, error) {
			var record M
			if err := fromRow(row, &record); err != nil {
				return nil, invalid("insert", table, "%v", err)
			}
			if err := tx.Create(&record).Error; err != nil {
				return nil, err
			}
			return toRow(&record)
		},
		save: func(tx *gorm.DB, row Row) (Row, error) {
			var record M
			if err := fromRow(row, &record); err != nil {
				return nil, invalid("update", table, "%v", err)
			}
			if err := tx.Save(&record).Error; err != nil {
				return nil, err
			}
			return toRow(&record)
		},
		remove: func(tx *gorm.DB, id string) error {
			var record M
			return tx.Where(ColumnID+" = ?", id).Delete(&record).Error
		},
	}
}

var specs = map[Table]*tableSpec{
	TableUsers: newSpec[models.User](TableUsers,
		[]string{"id", "nombreusuario", "email", "contrasena_hash", "identificadorubicacion", "rol", "fechacreacion"},
		"contrasena_hash"),
	TableProducts: newSpec[models.Product](TableProducts,
		[]string{"id", "nombreproducto", "descripcion", "identificadorubicacion"}),
	TableOrders: newSpec[models.Order](TableOrders,
		[]string{"id", "usuario_id", "nombreusuario", "identificadorubicacion", "hojadepedido", "estadopedido", "fechacreacion"}),
}

func specFor(op string, table Table) (*tableSpec, error) {
	spec, ok := specs[table]
	if !ok {
		return nil, invalid(op, table, "unknown table")
	}
	return spec, nil
}

func (s *tableSpec) checkColumn(op, column string) error {
	if _, ok := s.columns[column]; !ok {
		return invalid(op, s.table, "unknown column %q", column)
	}
	for _, c := range s.sensitive {
		if c == column && op != "insert" && op != "update" {
			return invalid(op, s.table, "column %q is not queryable", column)
		}
	}
	return nil
}

// redact drops sensitive columns. It never mutates the input.
func (s *tableSpec) redact(row Row) Row {
	if row == nil || len(s.sensitive) == 0 {
		return row
	}
	out := row.Clone()
	for _, c := range s.sensitive {
		delete(out, c)
	}
	return out
}

// Models carry json tags equal to their column names, so JSON is the
// row codec in both directions.
func toRow(record any) (Row, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encoding row: %w", err)
	}
	var row Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("decoding row: %w", err)
	}
	return row, nil
}

func fromRow(row Row, record any) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encoding row: %w", err)
	}
	if err := json.Unmarshal(raw, record); err != nil {
		return fmt.Errorf("decoding row: %w", err)
	}
	return nil
}
