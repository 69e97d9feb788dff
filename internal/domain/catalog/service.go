// internal/domain/catalog/service.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/your-org/fleet-backend/internal/pkg/apperror"
	"gorm.io/gorm"
)

// Service handles part and location reference data
type Service struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewService creates a new catalog service
func NewService(db *gorm.DB, logger *logrus.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger,
	}
}

// CreatePartRequest represents part creation data
type CreatePartRequest struct {
	SKU           string          `json:"sku" binding:"required"`
	Name          string          `json:"name" binding:"required"`
	Category      string          `json:"category"`
	UnitOfMeasure string          `json:"unit_of_measure"`
	DefaultCost   decimal.Decimal `json:"default_cost"`
	DefaultPrice  decimal.Decimal `json:"default_price"`
	Taxable       bool            `json:"taxable"`
}

// CreateLocationRequest represents location creation data
type CreateLocationRequest struct {
	Code    string       `json:"code" binding:"required"`
	Name    string       `json:"name" binding:"required"`
	Type    LocationType `json:"type" binding:"required"`
	Address string       `json:"address"`
}

// PARTS

// CreatePart creates a new active part
func (s *Service) CreatePart(ctx context.Context, req *CreatePartRequest) (*Part, error) {
	sku := strings.TrimSpace(req.SKU)
	if sku == "" || strings.TrimSpace(req.Name) == "" {
		return nil, apperror.New(apperror.ErrInvalidInput, "sku and name are required")
	}
	if req.DefaultCost.IsNegative() || req.DefaultPrice.IsNegative() {
		return nil, apperror.New(apperror.ErrInvalidInput, "default cost and price cannot be negative")
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&Part{}).Where("sku = ?", sku).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check sku: %w", err)
	}
	if count > 0 {
		return nil, apperror.New(apperror.ErrInvalidInput, "part with sku '%s' already exists", sku)
	}

	uom := req.UnitOfMeasure
	if uom == "" {
		uom = "each"
	}

	part := &Part{
		SKU:           sku,
		Name:          strings.TrimSpace(req.Name),
		Category:      req.Category,
		UnitOfMeasure: uom,
		DefaultCost:   req.DefaultCost,
		DefaultPrice:  req.DefaultPrice,
		Taxable:       req.Taxable,
		IsActive:      true,
	}

	if err := s.db.WithContext(ctx).Create(part).Error; err != nil {
		return nil, fmt.Errorf("failed to create part: %w", err)
	}

	s.logger.WithFields(logrus.Fields{"part_id": part.ID, "sku": part.SKU}).Info("Part created")
	return part, nil
}

// GetPart retrieves a part by ID regardless of its active flag
func (s *Service) GetPart(ctx context.Context, id uint) (*Part, error) {
	var part Part
	if err := s.db.WithContext(ctx).First(&part, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.New(apperror.ErrNotFound, "part %d not found", id)
		}
		return nil, fmt.Errorf("failed to retrieve part: %w", err)
	}
	return &part, nil
}

// ListParts lists parts ordered by SKU
func (s *Service) ListParts(ctx context.Context, activeOnly bool) ([]Part, error) {
	query := s.db.WithContext(ctx).Order("sku")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}

	var parts []Part
	if err := query.Find(&parts).Error; err != nil {
		return nil, fmt.Errorf("failed to retrieve parts: %w", err)
	}
	return parts, nil
}

// DeactivatePart marks a part inactive; ledger operations on it are refused afterwards
func (s *Service) DeactivatePart(ctx context.Context, id uint) (*Part, error) {
	part, err := s.GetPart(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(part).Update("is_active", false).Error; err != nil {
		return nil, fmt.Errorf("failed to deactivate part: %w", err)
	}
	part.IsActive = false

	s.logger.WithFields(logrus.Fields{"part_id": part.ID, "sku": part.SKU}).Info("Part deactivated")
	return part, nil
}

// LOCATIONS

// CreateLocation creates a new location
func (s *Service) CreateLocation(ctx context.Context, req *CreateLocationRequest) (*Location, error) {
	switch req.Type {
	case LocationTypeWarehouse, LocationTypeShop, LocationTypeVehicle:
	default:
		return nil, apperror.New(apperror.ErrInvalidInput, "invalid location type: %s", req.Type)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&Location{}).Where("code = ?", req.Code).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check location code: %w", err)
	}
	if count > 0 {
		return nil, apperror.New(apperror.ErrInvalidInput, "location with code '%s' already exists", req.Code)
	}

	location := &Location{
		Code:    req.Code,
		Name:    req.Name,
		Type:    req.Type,
		Address: req.Address,
	}

	if err := s.db.WithContext(ctx).Create(location).Error; err != nil {
		return nil, fmt.Errorf("failed to create location: %w", err)
	}

	return location, nil
}

// GetLocation retrieves a location that has not been soft-deleted
func (s *Service) GetLocation(ctx context.Context, id uint) (*Location, error) {
	return RequireLocation(s.db.WithContext(ctx), id)
}

// ListLocations lists all live locations
func (s *Service) ListLocations(ctx context.Context) ([]Location, error) {
	var locations []Location
	if err := s.db.WithContext(ctx).Order("code").Find(&locations).Error; err != nil {
		return nil, fmt.Errorf("failed to retrieve locations: %w", err)
	}
	return locations, nil
}

// DeleteLocation soft-deletes a location. Its ledger history is kept.
func (s *Service) DeleteLocation(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&Location{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete location: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperror.New(apperror.ErrNotFound, "location %d not found", id)
	}
	return nil
}

// LOOKUPS USED INSIDE LEDGER TRANSACTIONS

// RequireActivePart loads a part through tx and fails unless it exists and is active
func RequireActivePart(tx *gorm.DB, id uint) (*Part, error) {
	var part Part
	if err := tx.First(&part, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.New(apperror.ErrNotFound, "part %d not found", id)
		}
		return nil, fmt.Errorf("failed to load part: %w", err)
	}
	if !part.IsActive {
		return nil, apperror.New(apperror.ErrNotFound, "part %d (%s) is deactivated", id, part.SKU)
	}
	return &part, nil
}

// RequireLocation loads a location through tx and fails if it is missing or soft-deleted
func RequireLocation(tx *gorm.DB, id uint) (*Location, error) {
	var location Location
	if err := tx.First(&location, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.New(apperror.ErrNotFound, "location %d not found", id)
		}
		return nil, fmt.Errorf("failed to load location: %w", err)
	}
	return &location, nil
}
