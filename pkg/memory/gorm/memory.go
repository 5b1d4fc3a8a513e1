package gorm

import (
	"context"
	"fmt"

	"github.com/fixwise/manualiq/pkg/llm"
	"github.com/fixwise/manualiq/pkg/memory/consts"
	"gorm.io/gorm"
)

// Memory implements Memory using GORM.
type Memory struct {
	db *gorm.DB
}

// MessageModel represents the database schema for a message.
type MessageModel struct {
	gorm.Model
	SessionID string `gorm:"index"`
	Role      string
	Content   string
}

// TableName overrides the table name.
func (MessageModel) TableName() string {
	return consts.TableNameMessages
}

// New creates a new Memory.
func New(db *gorm.DB) (*Memory, error) {
	if err := db.AutoMigrate(&MessageModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Memory{db: db}, nil
}

// Append saves a message to the database.
func (m *Memory) Append(ctx context.Context, sessionID string, msg llm.Message) error {
	model := MessageModel{
		SessionID: sessionID,
		Role:      string(msg.Role),
		Content:   msg.Content,
	}

	return m.db.WithContext(ctx).Create(&model).Error
}

// History loads messages from the database.
func (m *Memory) History(ctx context.Context, sessionID string) ([]llm.Message, error) {
	var models []MessageModel
	if err := m.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at asc").Find(&models).Error; err != nil {
		return nil, err
	}

	messages := make([]llm.Message, len(models))
	for i, model := range models {
		messages[i] = llm.Message{
			Role:    llm.Role(model.Role),
			Content: model.Content,
		}
	}

	return messages, nil
}

// Clear removes the session's messages.
func (m *Memory) Clear(ctx context.Context, sessionID string) error {
	return m.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&MessageModel{}).Error
}
