package table

import (
	"time"
)

// Row is a committed tabular record. Fields holds the JSON-encoded column
// values; the row key is unique per (database, table).
type Row struct {
	ID         uint64 `gorm:"primaryKey"`
	DataBaseID string `gorm:"index:idx_db_table_row,unique"`
	TableName  string `gorm:"index:idx_db_table_row,unique"`
	RowID      string `gorm:"index:idx_db_table_row,unique"`
	Fields     []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
