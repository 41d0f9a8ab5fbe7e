package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/tidechat/tide/internal/config"
	"github.com/tidechat/tide/internal/storage"
)

// Store is a GORM-backed SQLite implementation of storage.Store.
type Store struct {
	db *gorm.DB
}

type userModel struct {
	ID        string `gorm:"primaryKey"`
	Username  string `gorm:"uniqueIndex"`
	Password  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type messageModel struct {
	ID        string `gorm:"primaryKey"`
	Room      string `gorm:"index:idx_room_created,priority:1"`
	From      string `gorm:"column:sender"`
	Body      string
	Kind      string
	FileRef   string
	CreatedAt time.Time `gorm:"index:idx_room_created,priority:2"`
}

type receiptModel struct {
	MessageID string `gorm:"primaryKey;index"`
	Reader    string `gorm:"primaryKey"`
	ReadAt    time.Time
}

// NewStore opens a SQLite database at the provided path.
func NewStore(cfg config.DatabaseConfig) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate applies schema updates.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&userModel{}, &messageModel{}, &receiptModel{})
}

// CreateUser stores a new user record.
func (s *Store) CreateUser(ctx context.Context, user *storage.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	model := userModel{
		ID:        user.ID,
		Username:  user.Username,
		Password:  user.Password,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	user := &storage.User{
		ID:        model.ID,
		Username:  model.Username,
		Password:  model.Password,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
	return user, nil
}

// AppendMessage stores a new message record. History is append-only.
func (s *Store) AppendMessage(ctx context.Context, msg *storage.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	model := messageModel{
		ID:        msg.ID,
		Room:      msg.Room,
		From:      msg.From,
		Body:      msg.Body,
		Kind:      msg.Kind,
		FileRef:   msg.FileRef,
		CreatedAt: msg.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListRoomMessages returns up to limit messages for the room created
// strictly before the given time, newest first.
func (s *Store) ListRoomMessages(ctx context.Context, room string, before time.Time, limit int) ([]storage.Message, error) {
	query := s.db.WithContext(ctx).Where("room = ?", room)
	if !before.IsZero() {
		query = query.Where("created_at < ?", before)
	}
	var models []messageModel
	if err := query.Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	messages := make([]storage.Message, 0, len(models))
	for _, model := range models {
		messages = append(messages, storage.Message{
			ID:        model.ID,
			Room:      model.Room,
			From:      model.From,
			Body:      model.Body,
			Kind:      model.Kind,
			FileRef:   model.FileRef,
			CreatedAt: model.CreatedAt,
		})
	}
	return messages, nil
}

// UpsertReadReceipt inserts or refreshes a reader's receipt.
func (s *Store) UpsertReadReceipt(ctx context.Context, receipt storage.ReadReceipt) error {
	model := receiptModel{
		MessageID: receipt.MessageID,
		Reader:    receipt.Reader,
		ReadAt:    receipt.ReadAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "reader"}},
		DoUpdates: clause.AssignmentColumns([]string{"read_at"}),
	}).Create(&model).Error
}

// ListReadReceipts returns the receipts for a message, newest first.
func (s *Store) ListReadReceipts(ctx context.Context, messageID string) ([]storage.ReadReceipt, error) {
	var models []receiptModel
	if err := s.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("read_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	receipts := make([]storage.ReadReceipt, 0, len(models))
	for _, model := range models {
		receipts = append(receipts, storage.ReadReceipt{
			MessageID: model.MessageID,
			Reader:    model.Reader,
			ReadAt:    model.ReadAt,
		})
	}
	return receipts, nil
}
