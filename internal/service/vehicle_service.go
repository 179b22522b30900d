package service

import (
	"context"
	"fmt"
	"strings"

	"parkwise/internal/domain"
	"parkwise/internal/logging"
	"parkwise/internal/models"

	"github.com/rs/zerolog"
)

// VehicleService registers vehicles and tracks their verification. Only
// verified vehicles can hold a slot.
type VehicleService struct {
	store  domain.VehicleStore
	logger *zerolog.Logger
}

func NewVehicleService(store domain.VehicleStore, logger *zerolog.Logger) *VehicleService {
	return &VehicleService{
		store:  store,
		logger: logging.Component(logger, "vehicles"),
	}
}

var _ domain.VehicleService = (*VehicleService)(nil)

// Register stores a new, unverified vehicle.
func (s *VehicleService) Register(ctx context.Context, vehicle *models.Vehicle) error {
	vehicle.Registration = models.NormalizeRegistration(vehicle.Registration)
	vehicle.OwnerName = strings.TrimSpace(vehicle.OwnerName)

	if vehicle.Registration == "" {
		return fmt.Errorf("registration is required: %w", domain.ErrInvalidRequest)
	}
	if vehicle.UserID <= 0 {
		return fmt.Errorf("user id is required: %w", domain.ErrInvalidRequest)
	}
	vehicle.Verified = false

	if err := s.store.CreateVehicle(ctx, vehicle); err != nil {
		return err
	}
	s.logger.Info().Str("registration", vehicle.Registration).Int64("user_id", vehicle.UserID).Msg("Vehicle registered")
	return nil
}

func (s *VehicleService) Verify(ctx context.Context, registration string) (*models.Vehicle, error) {
	registration = models.NormalizeRegistration(registration)
	if err := s.store.SetVehicleVerified(ctx, registration, true); err != nil {
		return nil, err
	}
	s.logger.Info().Str("registration", registration).Msg("Vehicle verified")
	return s.store.GetVehicle(ctx, registration)
}

func (s *VehicleService) Get(ctx context.Context, registration string) (*models.Vehicle, error) {
	return s.store.GetVehicle(ctx, models.NormalizeRegistration(registration))
}
