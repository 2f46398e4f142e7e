package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/feupam/feupam-checkout/internal/client"
	"github.com/feupam/feupam-checkout/internal/domain"
	"github.com/feupam/feupam-checkout/pkg/logger"
	"github.com/feupam/feupam-checkout/pkg/retry"
	"github.com/feupam/feupam-checkout/pkg/telemetry"
	"go.uber.org/zap"
)

// AdminService runs reporting and reconciliation calls
type AdminService interface {
	ReservationsReport(ctx context.Context) ([]domain.ReservationReportRow, error)
	ReprocessPayment(ctx context.Context, req client.ReprocessRequest) (*client.ReprocessResult, error)
}

type adminService struct {
	api   BackendAPI
	retry *retry.Config
	log   *logger.Logger
}

// NewAdminService creates a new admin service. Connectivity failures of the
// reconciliation call are retried with retryCfg.
func NewAdminService(api BackendAPI, retryCfg *retry.Config) AdminService {
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	cfg := *retryCfg
	cfg.RetryIf = client.IsTransient
	return &adminService{api: api, retry: &cfg, log: logger.Get()}
}

func (s *adminService) ReservationsReport(ctx context.Context) ([]domain.ReservationReportRow, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.admin.report")
	defer span.End()

	rows, err := s.api.ReservationsReport(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if rows == nil {
		rows = []domain.ReservationReportRow{}
	}
	return rows, nil
}

// ReprocessPayment forces reconciliation of a stuck payment
func (s *adminService) ReprocessPayment(ctx context.Context, req client.ReprocessRequest) (*client.ReprocessResult, error) {
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.EventID == "" {
		return nil, fmt.Errorf("%w: email and eventId are required", domain.ErrInvalidReprocessRequest)
	}

	ctx, span := telemetry.StartSpan(ctx, "service.admin.reprocess")
	defer span.End()

	var result *client.ReprocessResult
	res := retry.New(s.retry).DoWithCallback(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.api.ReprocessPaymentStatus(ctx, req)
		return err
	}, func(attempt int, err error, next time.Duration) {
		s.log.Warn("reprocess call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("next", next),
			zap.Error(err),
		)
	})
	if res.Err != nil {
		err := res.Err
		if errors.Is(err, retry.ErrMaxRetriesExceeded) || errors.Is(err, retry.ErrContextCanceled) {
			err = res.LastError
		}
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.log.Info("payment reprocessed",
		zap.String("event_id", req.EventID),
		zap.String("charge_id", req.ChargeID),
		zap.String("status", result.Status),
		zap.Int("attempts", res.Attempts),
	)
	return result, nil
}
