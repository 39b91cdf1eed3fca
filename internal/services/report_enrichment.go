package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vehicle-valuation/valuation-backend/internal/db/models"
	"github.com/vehicle-valuation/valuation-backend/internal/vindecode"
)

// VehicleDecoder turns a VIN into vehicle attributes.
type VehicleDecoder interface {
	Decode(ctx context.Context, vin string) (*vindecode.Vehicle, error)
}

// VehicleInfoStore persists decoded vehicle attributes on a report.
type VehicleInfoStore interface {
	UpdateVehicleInfo(ctx context.Context, reportID string, year int, make, model string) error
}

// ReportEnricher fills in year, make and model on a freshly created report.
type ReportEnricher struct {
	decoder VehicleDecoder
	store   VehicleInfoStore
}

// NewReportEnricher creates a new report enricher
func NewReportEnricher(decoder VehicleDecoder, store VehicleInfoStore) *ReportEnricher {
	return &ReportEnricher{decoder: decoder, store: store}
}

// Enrich decodes the report's VIN and stores the result.
func (e *ReportEnricher) Enrich(ctx context.Context, report *models.Report) error {
	vehicle, err := e.decoder.Decode(ctx, report.VIN)
	if err != nil {
		return fmt.Errorf("failed to decode VIN for report %s: %w", report.ID, err)
	}

	if err := e.store.UpdateVehicleInfo(ctx, report.ID, vehicle.Year, vehicle.Make, vehicle.Model); err != nil {
		return fmt.Errorf("failed to store vehicle info for report %s: %w", report.ID, err)
	}

	slog.Debug("report enriched", "report_id", report.ID, "year", vehicle.Year, "make", vehicle.Make, "model", vehicle.Model)
	return nil
}
