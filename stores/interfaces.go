package stores

import (
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"github.com/Desarso/tldwchat/models"
)

var (
	// ErrNoLastMessage is returned when a history has no messages to update.
	ErrNoLastMessage = errors.New("history has no messages")
	// ErrHistoryNotFound is returned for unknown history IDs.
	ErrHistoryNotFound = errors.New("history not found")
)

// History is one saved conversation.
type History struct {
	gorm.Model
	HistoryID     string `gorm:"uniqueIndex;not null"`
	Title         string `gorm:"type:text"`
	IsRAG         bool   `gorm:"default:false"`
	MessageSource string `gorm:"default:'web-ui'"` // "web-ui" or "copilot"
	MessageCount  int    `gorm:"default:0"`
}

// Message is one persisted chat message. The slice and pointer fields are
// stored as JSON columns.
type Message struct {
	gorm.Model
	MessageID          string `gorm:"uniqueIndex;not null"`
	HistoryID          string `gorm:"index;not null"`
	Sequence           int    `gorm:"not null"`
	Name               string
	Role               string `gorm:"not null"` // "user" or "assistant"
	Content            string `gorm:"type:text"`
	ImagesJSON         string `gorm:"type:text"`
	SourcesJSON        string `gorm:"type:text"`
	GenerationInfoJSON string `gorm:"type:text"`
	ReasoningTimeTaken int64
	MessageType        string
	// Time orders the two halves of a turn: 1 for the user, 2 for the bot.
	Time int

	Images         []string               `gorm:"-"`
	Sources        []models.Source        `gorm:"-"`
	GenerationInfo *models.GenerationInfo `gorm:"-"`
}

// BeforeSave marshals the JSON-backed fields.
func (m *Message) BeforeSave(tx *gorm.DB) error {
	images := make([]string, 0, len(m.Images))
	for _, img := range m.Images {
		if img != "" {
			images = append(images, img)
		}
	}
	data, err := json.Marshal(images)
	if err != nil {
		return err
	}
	m.ImagesJSON = string(data)

	if m.Sources == nil {
		m.SourcesJSON = "[]"
	} else if data, err = json.Marshal(m.Sources); err != nil {
		return err
	} else {
		m.SourcesJSON = string(data)
	}

	if m.GenerationInfo != nil {
		if data, err = json.Marshal(m.GenerationInfo); err != nil {
			return err
		}
		m.GenerationInfoJSON = string(data)
	}
	return nil
}

// AfterFind restores the JSON-backed fields.
func (m *Message) AfterFind(tx *gorm.DB) error {
	if m.ImagesJSON != "" {
		var images []string
		if err := json.Unmarshal([]byte(m.ImagesJSON), &images); err != nil {
			return err
		}
		if len(images) > 0 {
			m.Images = images
		}
	}
	if m.SourcesJSON != "" {
		if err := json.Unmarshal([]byte(m.SourcesJSON), &m.Sources); err != nil {
			return err
		}
	}
	if m.GenerationInfoJSON != "" {
		m.GenerationInfo = &models.GenerationInfo{}
		if err := json.Unmarshal([]byte(m.GenerationInfoJSON), m.GenerationInfo); err != nil {
			return err
		}
	}
	return nil
}

// SessionFile is an uploaded document attached to a history.
type SessionFile struct {
	gorm.Model
	HistoryID  string `gorm:"index;not null"`
	FileID     string `gorm:"index;not null"`
	Filename   string
	Type       string
	Content    string `gorm:"type:text"`
	Size       int64
	UploadedAt int64
}

// Setting is a single JSON-encoded user setting.
type Setting struct {
	Key       string `gorm:"primaryKey;column:setting_key"`
	Value     string `gorm:"type:text"`
	UpdatedAt int64  `gorm:"autoUpdateTime:milli"`
}

// HistoryStore persists conversations and their messages.
type HistoryStore interface {
	SaveHistory(title string, isRAG bool, messageSource string) (*History, error)
	GetHistory(historyID string) (*History, error)
	ListHistories() ([]History, error)
	UpdateHistoryTitle(historyID, title string) error
	DeleteHistory(historyID string) error

	// SaveMessage assigns MessageID and Sequence when they are unset.
	SaveMessage(msg *Message) error
	UpdateMessage(historyID, messageID, content string) error
	GetLastMessage(historyID string) (*Message, error)
	// FetchMessages returns the last limit messages in order. Zero returns all.
	FetchMessages(historyID string, limit int) ([]Message, error)
	// RemoveLastPair deletes the trailing user/assistant pair.
	RemoveLastPair(historyID string) error
	// RemoveLastMessage deletes the newest message, as regenerate does.
	RemoveLastMessage(historyID string) error

	AttachSessionFiles(historyID string, files []models.UploadedFile) error
	GetSessionFiles(historyID string) ([]models.UploadedFile, error)

	Connect() error
	Close() error
	Ping() error
}

// SettingsStore persists raw setting values.
type SettingsStore interface {
	GetSetting(key string) (string, bool, error)
	SetSetting(key, value string) error
	ListSettings() (map[string]string, error)
}

// Store is the full persistence surface implemented by the gorm stores.
type Store interface {
	HistoryStore
	SettingsStore
	StatsStore
}

// StoreConfig holds configuration for database stores
type StoreConfig struct {
	Type       string            `json:"type" toml:"type" env:"TLDWCHAT_STORE_TYPE" envDefault:"sqlite"`
	Connection string            `json:"connection" toml:"connection" env:"TLDWCHAT_STORE_DSN" envDefault:"tldwchat.sqlite"`
	Options    map[string]string `json:"options" toml:"options"`
}

// NewStoreConfig creates a new store configuration
func NewStoreConfig(storeType, connection string) *StoreConfig {
	return &StoreConfig{
		Type:       storeType,
		Connection: connection,
		Options:    make(map[string]string),
	}
}

// WithOption adds an option to the store configuration
func (c *StoreConfig) WithOption(key, value string) *StoreConfig {
	if c.Options == nil {
		c.Options = make(map[string]string)
	}
	c.Options[key] = value
	return c
}
