package repository

import (
	"context"
	"time"

	"dm_chat_server/internal/model"

	"gorm.io/gorm"
)

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建用户 Repository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) FindByUuid(ctx context.Context, uuid string) (*model.UserInfo, error) {
	var user model.UserInfo
	if err := r.db.WithContext(ctx).First(&user, "uuid = ?", uuid).Error; err != nil {
		return nil, wrapDBErrorf(err, "查询用户 uuid=%s", uuid)
	}
	return &user, nil
}

func (r *userRepository) FindByUuids(ctx context.Context, uuids []string) ([]model.UserInfo, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	var users []model.UserInfo
	if err := r.db.WithContext(ctx).Where("uuid IN ?", uuids).Find(&users).Error; err != nil {
		return nil, wrapDBError(err, "批量查询用户")
	}
	return users, nil
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*model.UserInfo, error) {
	var user model.UserInfo
	if err := r.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		return nil, wrapDBErrorf(err, "查询用户 email=%s", email)
	}
	return &user, nil
}

func (r *userRepository) FindByUsername(ctx context.Context, username string) (*model.UserInfo, error) {
	var user model.UserInfo
	if err := r.db.WithContext(ctx).First(&user, "username = ?", username).Error; err != nil {
		return nil, wrapDBErrorf(err, "查询用户 username=%s", username)
	}
	return &user, nil
}

func (r *userRepository) FindAllExcept(ctx context.Context, excludeUuid string) ([]model.UserInfo, error) {
	var users []model.UserInfo
	err := r.db.WithContext(ctx).
		Where("uuid <> ?", excludeUuid).
		Order("username ASC").
		Find(&users).Error
	if err != nil {
		return nil, wrapDBError(err, "查询用户列表")
	}
	return users, nil
}

func (r *userRepository) Create(ctx context.Context, user *model.UserInfo) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return wrapDBError(err, "创建用户")
	}
	return nil
}

func (r *userRepository) SetOnline(ctx context.Context, uuid string) error {
	err := r.db.WithContext(ctx).Model(&model.UserInfo{}).
		Where("uuid = ?", uuid).
		Update("is_online", true).Error
	return wrapDBErrorf(err, "更新在线状态 uuid=%s", uuid)
}

func (r *userRepository) SetOffline(ctx context.Context, uuid string, lastSeen time.Time) error {
	err := r.db.WithContext(ctx).Model(&model.UserInfo{}).
		Where("uuid = ?", uuid).
		Updates(map[string]any{"is_online": false, "last_seen": lastSeen}).Error
	return wrapDBErrorf(err, "更新离线状态 uuid=%s", uuid)
}
