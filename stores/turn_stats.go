package stores

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Desarso/tldwchat/models"
)

// TurnStat records how one bot turn went. Indexed by history for listing.
type TurnStat struct {
	ID          uint      `gorm:"primarykey" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	HistoryID   string    `gorm:"index:idx_turn_history;not null" json:"history_id"`
	MessageID   string    `gorm:"index" json:"message_id"`
	Model       string    `json:"model"`
	Mode        string    `gorm:"not null" json:"mode"`   // normal, rag, document, search, tab, vision, preset, continue
	Status      string    `gorm:"not null" json:"status"` // success, aborted, error
	DurationMS  int64     `json:"duration_ms"`
	ReasoningMS int64     `json:"reasoning_ms,omitempty"`
	SourceCount int       `json:"source_count"`

	GenerationInfoJSON string                 `gorm:"type:text" json:"-"`
	GenerationInfo     *models.GenerationInfo `gorm:"-" json:"generation_info,omitempty"`
}

// BeforeSave marshals GenerationInfo to GenerationInfoJSON
func (t *TurnStat) BeforeSave(tx *gorm.DB) error {
	if t.GenerationInfo != nil {
		data, err := json.Marshal(t.GenerationInfo)
		if err != nil {
			return err
		}
		t.GenerationInfoJSON = string(data)
	}
	return nil
}

// AfterFind unmarshals GenerationInfoJSON to GenerationInfo
func (t *TurnStat) AfterFind(tx *gorm.DB) error {
	if t.GenerationInfoJSON != "" {
		t.GenerationInfo = &models.GenerationInfo{}
		return json.Unmarshal([]byte(t.GenerationInfoJSON), t.GenerationInfo)
	}
	return nil
}

// StatsStore persists per-turn statistics.
type StatsStore interface {
	SaveTurnStat(stat *TurnStat) error
	GetTurnStats(historyID string) ([]*TurnStat, error)
	DeleteTurnStats(historyID string) error
}

func (s *gormStore) SaveTurnStat(stat *TurnStat) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.db.Create(stat).Error; err != nil {
		return fmt.Errorf("failed to save turn stat: %w", err)
	}
	return nil
}

// GetTurnStats retrieves all stats for a history, oldest first
func (s *gormStore) GetTurnStats(historyID string) ([]*TurnStat, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var stats []*TurnStat
	err := s.db.Where("history_id = ?", historyID).
		Order("created_at ASC, id ASC").
		Find(&stats).Error
	return stats, err
}

func (s *gormStore) DeleteTurnStats(historyID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.Where("history_id = ?", historyID).Delete(&TurnStat{}).Error
}
