package database

import (
	"context"

	"gorm.io/gorm"

	"github.com/thereayou/voxus/internal/mutation"
)

// Database реализует хранилище сообщений, истории правок и скрытий поверх gorm.
// Внутри InTx тот же тип работает на транзакции.
type Database struct {
	db *gorm.DB
}

var _ mutation.Store = (*Database)(nil)

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// InTx выполняет fn в одной транзакции; ошибка fn откатывает всё
func (d *Database) InTx(ctx context.Context, fn func(tx mutation.Store) error) error {
	return d.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Database{db: tx})
	})
}

func (d *Database) conn(ctx context.Context) *gorm.DB {
	return d.db.WithContext(ctx)
}
