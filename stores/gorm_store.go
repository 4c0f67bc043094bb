package stores

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	"gorm.io/gorm"

	"github.com/Desarso/tldwchat/models"
)

// gormStore implements Store on any gorm dialect.
type gormStore struct {
	db *gorm.DB
}

func (s *gormStore) migrate() error {
	if err := s.db.AutoMigrate(&History{}, &Message{}, &SessionFile{}, &Setting{}, &TurnStat{}); err != nil {
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}
	return nil
}

func (s *gormStore) ready() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return nil
}

// Close closes the database connection
func (s *gormStore) Close() error {
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// Ping checks if the database connection is alive
func (s *gormStore) Ping() error {
	if err := s.ready(); err != nil {
		return err
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func (s *gormStore) SaveHistory(title string, isRAG bool, messageSource string) (*History, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if messageSource == "" {
		messageSource = "web-ui"
	}
	h := &History{
		HistoryID:     shortuuid.New(),
		Title:         title,
		IsRAG:         isRAG,
		MessageSource: messageSource,
	}
	if err := s.db.Create(h).Error; err != nil {
		return nil, fmt.Errorf("failed to create history: %w", err)
	}
	return h, nil
}

func (s *gormStore) GetHistory(historyID string) (*History, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var h History
	err := s.db.Where("history_id = ?", historyID).First(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrHistoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	return &h, nil
}

func (s *gormStore) ListHistories() ([]History, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var histories []History
	if err := s.db.Order("updated_at DESC").Find(&histories).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch histories: %w", err)
	}
	return histories, nil
}

func (s *gormStore) UpdateHistoryTitle(historyID, title string) error {
	if err := s.ready(); err != nil {
		return err
	}
	res := s.db.Model(&History{}).Where("history_id = ?", historyID).Update("title", title)
	if res.Error != nil {
		return fmt.Errorf("failed to update history title: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrHistoryNotFound
	}
	return nil
}

// DeleteHistory removes the history with its messages, files and stats.
func (s *gormStore) DeleteHistory(historyID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&Message{}, &SessionFile{}, &TurnStat{}} {
			if err := tx.Unscoped().Where("history_id = ?", historyID).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to delete history rows: %w", err)
			}
		}
		if err := tx.Unscoped().Where("history_id = ?", historyID).Delete(&History{}).Error; err != nil {
			return fmt.Errorf("failed to delete history: %w", err)
		}
		return nil
	})
}

func (s *gormStore) SaveMessage(msg *Message) error {
	if err := s.ready(); err != nil {
		return err
	}
	if msg.HistoryID == "" {
		return fmt.Errorf("message has no history id")
	}
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		if err := tx.Model(&Message{}).
			Where("history_id = ?", msg.HistoryID).
			Select("COALESCE(MAX(sequence), 0)").
			Scan(&maxSeq).Error; err != nil {
			return fmt.Errorf("failed to count existing messages: %w", err)
		}
		if msg.Sequence == 0 {
			msg.Sequence = maxSeq + 1
		}
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("failed to create message record: %w", err)
		}
		if err := tx.Model(&History{}).
			Where("history_id = ?", msg.HistoryID).
			Updates(map[string]interface{}{
				"message_count": gorm.Expr("message_count + 1"),
				"updated_at":    time.Now(),
			}).Error; err != nil {
			return fmt.Errorf("failed to update history message count: %w", err)
		}
		return nil
	})
}

func (s *gormStore) UpdateMessage(historyID, messageID, content string) error {
	if err := s.ready(); err != nil {
		return err
	}
	res := s.db.Model(&Message{}).
		Where("history_id = ? AND message_id = ?", historyID, messageID).
		Update("content", content)
	if res.Error != nil {
		return fmt.Errorf("failed to update message: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("message %s not found in history %s", messageID, historyID)
	}
	return nil
}

func (s *gormStore) GetLastMessage(historyID string) (*Message, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var msg Message
	err := s.db.Where("history_id = ?", historyID).Order("sequence DESC").First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoLastMessage
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch last message: %w", err)
	}
	return &msg, nil
}

// FetchMessages retrieves messages for a history in sequence order
// limit: maximum number of messages to retrieve (0 = return all messages)
func (s *gormStore) FetchMessages(historyID string, limit int) ([]Message, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	var msgs []Message
	query := s.db.Where("history_id = ?", historyID).Order("sequence ASC")
	if limit > 0 {
		var count int64
		if err := s.db.Model(&Message{}).Where("history_id = ?", historyID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to count messages: %w", err)
		}
		if count > int64(limit) {
			query = query.Offset(int(count) - limit)
		}
	}
	if err := query.Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return msgs, nil
}

// RemoveLastPair deletes the trailing assistant message and the user message
// before it. A trailing user message without a reply is removed alone.
func (s *gormStore) RemoveLastPair(historyID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		var tail []Message
		if err := tx.Where("history_id = ?", historyID).Order("sequence DESC").Limit(2).Find(&tail).Error; err != nil {
			return fmt.Errorf("failed to fetch last messages: %w", err)
		}
		if len(tail) == 0 {
			return ErrNoLastMessage
		}
		remove := tail[:1]
		if tail[0].Role == models.RoleAssistant && len(tail) == 2 && tail[1].Role == models.RoleUser {
			remove = tail
		}
		for _, m := range remove {
			if err := tx.Unscoped().Delete(&Message{}, m.ID).Error; err != nil {
				return fmt.Errorf("failed to delete message: %w", err)
			}
		}
		return tx.Model(&History{}).
			Where("history_id = ?", historyID).
			Update("message_count", gorm.Expr("message_count - ?", len(remove))).Error
	})
}

// RemoveLastMessage deletes the newest message of a history.
func (s *gormStore) RemoveLastMessage(historyID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		var last Message
		err := tx.Where("history_id = ?", historyID).Order("sequence DESC").First(&last).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoLastMessage
		}
		if err != nil {
			return fmt.Errorf("failed to fetch last message: %w", err)
		}
		if err := tx.Unscoped().Delete(&Message{}, last.ID).Error; err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}
		return tx.Model(&History{}).
			Where("history_id = ?", historyID).
			Update("message_count", gorm.Expr("message_count - 1")).Error
	})
}

func (s *gormStore) AttachSessionFiles(historyID string, files []models.UploadedFile) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, f := range files {
			var count int64
			if err := tx.Model(&SessionFile{}).
				Where("history_id = ? AND file_id = ?", historyID, f.ID).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			row := SessionFile{
				HistoryID:  historyID,
				FileID:     f.ID,
				Filename:   f.Filename,
				Type:       f.Type,
				Content:    f.Content,
				Size:       f.Size,
				UploadedAt: f.UploadedAt.UnixMilli(),
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to attach file %s: %w", f.Filename, err)
			}
		}
		return nil
	})
}

func (s *gormStore) GetSessionFiles(historyID string) ([]models.UploadedFile, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var rows []SessionFile
	if err := s.db.Where("history_id = ?", historyID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch session files: %w", err)
	}
	files := make([]models.UploadedFile, len(rows))
	for i, r := range rows {
		files[i] = models.UploadedFile{
			ID:         r.FileID,
			Filename:   r.Filename,
			Type:       r.Type,
			Content:    r.Content,
			Size:       r.Size,
			UploadedAt: time.UnixMilli(r.UploadedAt),
			Processed:  true,
		}
	}
	return files, nil
}

func (s *gormStore) GetSetting(key string) (string, bool, error) {
	if err := s.ready(); err != nil {
		return "", false, err
	}
	var setting Setting
	err := s.db.Where("setting_key = ?", key).Limit(1).Find(&setting).Error
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	if setting.Key == "" {
		return "", false, nil
	}
	return setting.Value, true, nil
}

func (s *gormStore) SetSetting(key, value string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.Save(&Setting{Key: key, Value: value}).Error
}

func (s *gormStore) ListSettings() (map[string]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var rows []Setting
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}
