package dm

import (
	"context"

	"github.com/italolelis/download_coordinator/internal/telemetry"
)

// InstrumentedService wraps Service with telemetry.
type InstrumentedService struct {
	svc       Service
	telemetry *telemetry.Telemetry
	backend   string
}

// NewInstrumentedService creates a new instrumented download service.
func NewInstrumentedService(svc Service, tel *telemetry.Telemetry, backend string) *InstrumentedService {
	return &InstrumentedService{
		svc:       svc,
		telemetry: tel,
		backend:   backend,
	}
}

// Enqueue hands a request to the download service with telemetry.
func (s *InstrumentedService) Enqueue(ctx context.Context, req Request) (ID, error) {
	var result ID

	var err error

	instrumentedErr := s.telemetry.InstrumentServiceOperation(ctx, s.backend, "enqueue", func(ctx context.Context) error {
		result, err = s.svc.Enqueue(ctx, req)

		return err
	})

	if instrumentedErr != nil {
		return 0, instrumentedErr
	}

	s.telemetry.RecordDownloadStarted(ctx, s.backend)

	return result, nil
}

// Query reads a download status with telemetry. ErrNotFound is not counted as a failure.
func (s *InstrumentedService) Query(ctx context.Context, id ID) (*Record, error) {
	var result *Record

	var err error

	instrumentedErr := s.telemetry.InstrumentServiceOperation(ctx, s.backend, "query", func(ctx context.Context) error {
		result, err = s.svc.Query(ctx, id)

		return err
	}, ErrNotFound)

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

func (s *InstrumentedService) Subscribe() *Subscription {
	return s.svc.Subscribe()
}
