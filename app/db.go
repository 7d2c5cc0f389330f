package app

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shawngo/netlify-forms/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func NewDatabase(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{})
	if err != nil {
		log.Sugar().Panic("failed to connect database", "err", err)
	}
	log.Info("Database started")

	log.Info("Starting migrations")
	db.AutoMigrate(
		&Customer{},
		&Submission{},
	)
	return db
}

// FormIDs is an ordered list of Netlify form ids, stored as a JSON column.
type FormIDs []string

func (f FormIDs) Value() (driver.Value, error) {
	b, err := json.Marshal(f)
	return string(b), err
}

func (f *FormIDs) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*f = nil
		return nil
	case []byte:
		return json.Unmarshal(v, f)
	case string:
		return json.Unmarshal([]byte(v), f)
	default:
		return fmt.Errorf("cannot scan %T into FormIDs", value)
	}
}

func (f FormIDs) Contains(formID string) bool {
	for _, id := range f {
		if id == formID {
			return true
		}
	}
	return false
}

// Customer links an internal user account to a Netlify site and the set of
// forms on that site the user is allowed to see.
type Customer struct {
	gorm.Model
	Name          string
	UserID        uint   `gorm:"index"`
	SiteID        string `gorm:"index"`
	NotifyEmail   string
	SelectedForms FormIDs
}

// Submission is a locally persisted copy of one Netlify form submission.
// Rows are written once by the webhook ingestor and never updated.
type Submission struct {
	ID                  uint   `gorm:"primarykey"`
	CustomerID          uint   `gorm:"index:idx_customer_form"`
	SiteID              string
	FormID              string `gorm:"index:idx_customer_form"`
	FormName            string
	NetlifySubmissionID string `gorm:"uniqueIndex"`
	SubmissionData      string
	Email               string
	SubmissionName      string
	CreatedAt           time.Time
	ReceivedAt          time.Time
}

// Data returns the payload-data map embedded in the stored submission
// document. Missing or malformed data yields an empty map.
func (s *Submission) Data() map[string]any {
	var doc struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(s.SubmissionData), &doc); err != nil || doc.Data == nil {
		return map[string]any{}
	}
	return doc.Data
}
