package table

import (
	"context"
	"encoding/json"
	"time"

	"collaborative-table-editor/internal/domain"

	"gorm.io/gorm"
)

// Repository is the durable commit sink domains flush into when an edit
// session finishes cleanly.
type Repository interface {
	CommitDomain(ctx context.Context, dataBaseID, tableName string, ops []domain.RowOp) (int64, error)
	CommittedRowIDs(ctx context.Context, dataBaseID, tableName string) ([]string, error)
}

type RepositoryImpl struct {
	db *gorm.DB
}

// NewRepository creates a new table repository
func NewRepository(db *gorm.DB) Repository {
	return &RepositoryImpl{db: db}
}

// CommitDomain applies a session's pending operations in one transaction.
// Either every operation lands or none does.
func (r *RepositoryImpl) CommitDomain(ctx context.Context, dataBaseID, tableName string, ops []domain.RowOp) (int64, error) {
	var committed int64

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, op := range ops {
			switch op.Kind {
			case domain.RowOpAdd:
				fields, err := json.Marshal(op.Row.Fields)
				if err != nil {
					return err
				}
				row := Row{
					DataBaseID: dataBaseID,
					TableName:  tableName,
					RowID:      op.Row.ID,
					Fields:     fields,
					CreatedAt:  now,
					UpdatedAt:  now,
				}
				if err := tx.Create(&row).Error; err != nil {
					return err
				}

			case domain.RowOpChange:
				var existing Row
				err := tx.Where("data_base_id = ? AND table_name = ? AND row_id = ?",
					dataBaseID, tableName, op.Row.ID).First(&existing).Error
				if err != nil {
					return err
				}
				merged := map[string]any{}
				if len(existing.Fields) > 0 {
					if err := json.Unmarshal(existing.Fields, &merged); err != nil {
						return err
					}
				}
				for k, v := range op.Row.Fields {
					merged[k] = v
				}
				fields, err := json.Marshal(merged)
				if err != nil {
					return err
				}
				existing.Fields = fields
				existing.UpdatedAt = now
				if err := tx.Save(&existing).Error; err != nil {
					return err
				}

			case domain.RowOpRemove:
				err := tx.Where("data_base_id = ? AND table_name = ? AND row_id = ?",
					dataBaseID, tableName, op.Row.ID).Delete(&Row{}).Error
				if err != nil {
					return err
				}
			}
			committed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return committed, nil
}

// CommittedRowIDs lists the row keys already committed for a table, used to
// validate key collisions when a session opens.
func (r *RepositoryImpl) CommittedRowIDs(ctx context.Context, dataBaseID, tableName string) ([]string, error) {
	var rowIDs []string
	err := r.db.WithContext(ctx).Model(&Row{}).
		Where("data_base_id = ? AND table_name = ?", dataBaseID, tableName).
		Order("row_id ASC").
		Pluck("row_id", &rowIDs).Error
	return rowIDs, err
}
