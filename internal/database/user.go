package database

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/thereayou/voxus/internal/models"
)

var ErrUserExists = errors.New("user with this email or username already exists")

// SaveUser создаёт пользователя; занятые email или username дают ErrUserExists
func (d *Database) SaveUser(ctx context.Context, user *models.User) error {
	err := d.conn(ctx).Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrUserExists
	}
	return err
}

func (d *Database) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user := models.User{}
	if err := d.conn(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
