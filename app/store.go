package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubmissionStore is the persistence layer shared by the webhook ingestor,
// the exporter and the customer-facing queries.
type SubmissionStore struct {
	log *zap.Logger
	db  *gorm.DB
}

func NewSubmissionStore(lc fx.Lifecycle, log *zap.Logger, db *gorm.DB) *SubmissionStore {
	return &SubmissionStore{log, db}
}

// Exists reports whether a submission with the given Netlify submission id
// is already stored.
func (s *SubmissionStore) Exists(ctx context.Context, netlifySubmissionID string) (bool, error) {
	var count int64
	tx := s.db.WithContext(ctx).
		Model(&Submission{}).
		Where("netlify_submission_id = ?", netlifySubmissionID).
		Count(&count)
	if err := tx.Error; err != nil {
		return false, fmt.Errorf("checking submission %s: %w", netlifySubmissionID, err)
	}
	return count > 0, nil
}

// Insert persists a submission if no row with the same Netlify submission id
// exists yet. The unique index plus OnConflict DoNothing make the operation
// atomic against concurrent deliveries of the same webhook event; the second
// return value reports whether a row was actually written.
func (s *SubmissionStore) Insert(ctx context.Context, sub *Submission) (uint, bool, error) {
	tx := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(sub)
	if err := tx.Error; err != nil {
		return 0, false, fmt.Errorf("inserting submission %s: %w", sub.NetlifySubmissionID, err)
	}
	if tx.RowsAffected == 0 {
		return 0, false, nil
	}
	return sub.ID, true, nil
}

// Query returns a customer's submissions, newest first. Ties on the created
// timestamp preserve insertion order. An empty formID matches all forms.
func (s *SubmissionStore) Query(ctx context.Context, customerID uint, formID string) ([]Submission, error) {
	tx := s.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC, id ASC")
	if formID != "" {
		tx = tx.Where("form_id = ?", formID)
	}

	var subs []Submission
	if err := tx.Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("querying submissions for customer %d: %w", customerID, err)
	}
	return subs, nil
}

// CountByForm returns per-form submission counts for a customer.
func (s *SubmissionStore) CountByForm(ctx context.Context, customerID uint) (map[string]int64, error) {
	var rows []struct {
		FormID string
		N      int64
	}
	tx := s.db.WithContext(ctx).
		Model(&Submission{}).
		Select("form_id, count(*) as n").
		Where("customer_id = ?", customerID).
		Group("form_id").
		Scan(&rows)
	if err := tx.Error; err != nil {
		return nil, fmt.Errorf("counting submissions for customer %d: %w", customerID, err)
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.FormID] = r.N
	}
	return counts, nil
}

func (s *SubmissionStore) FindByNetlifyID(ctx context.Context, netlifySubmissionID string) (*Submission, error) {
	sub := &Submission{}
	tx := s.db.WithContext(ctx).
		Where("netlify_submission_id = ?", netlifySubmissionID).
		First(sub)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *SubmissionStore) CreateCustomer(ctx context.Context, customer *Customer) error {
	tx := s.db.WithContext(ctx).
		Clauses(clause.Returning{}).
		Create(customer)
	if err := tx.Error; err != nil {
		return fmt.Errorf("creating customer: %w", err)
	}
	return nil
}

func (s *SubmissionStore) SaveCustomer(ctx context.Context, customer *Customer) error {
	if err := s.db.WithContext(ctx).Save(customer).Error; err != nil {
		return fmt.Errorf("saving customer %d: %w", customer.ID, err)
	}
	return nil
}

func (s *SubmissionStore) Customer(ctx context.Context, id uint) (*Customer, error) {
	customer := &Customer{}
	tx := s.db.WithContext(ctx).First(customer, id)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return customer, nil
}

func (s *SubmissionStore) Customers(ctx context.Context) ([]Customer, error) {
	var customers []Customer
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&customers).Error; err != nil {
		return nil, fmt.Errorf("listing customers: %w", err)
	}
	return customers, nil
}

// CustomerBySiteID resolves the customer owning a Netlify site. Multiple
// matches take the earliest-created row.
func (s *SubmissionStore) CustomerBySiteID(ctx context.Context, siteID string) (*Customer, error) {
	customer := &Customer{}
	tx := s.db.WithContext(ctx).
		Where("site_id = ?", siteID).
		Order("id ASC").
		First(customer)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return customer, nil
}

// CustomerByUserID resolves the customer profile owned by a user. Multiple
// matches take the earliest-created row.
func (s *SubmissionStore) CustomerByUserID(ctx context.Context, userID uint) (*Customer, error) {
	customer := &Customer{}
	tx := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		First(customer)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return customer, nil
}

// DeleteCustomer removes a customer and all of its stored submissions.
func (s *SubmissionStore) DeleteCustomer(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("customer_id = ?", id).Delete(&Submission{}).Error; err != nil {
			return fmt.Errorf("deleting submissions for customer %d: %w", id, err)
		}
		if err := tx.Delete(&Customer{}, id).Error; err != nil {
			return fmt.Errorf("deleting customer %d: %w", id, err)
		}
		return nil
	})
}
