package session

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/OCAP2/mapmarkers/internal/session"

func meter(mp metric.MeterProvider) metric.Meter {
	if mp == nil {
		return otel.Meter(instrumentationName)
	}
	return mp.Meter(instrumentationName)
}

func opAttr(op string) attribute.KeyValue {
	return attribute.String("event", op)
}

func reasonAttr(r Reason) attribute.KeyValue {
	return attribute.String("reason", string(r))
}

func (s *Session) initMetrics(mp metric.MeterProvider) error {
	m := meter(mp)

	var err error

	s.mutations, err = m.Int64Counter(
		"markers.mutations",
		metric.WithDescription("Store mutations applied"),
	)
	if err != nil {
		return fmt.Errorf("creating mutations counter: %w", err)
	}

	s.ignored, err = m.Int64Counter(
		"markers.events.ignored",
		metric.WithDescription("Events that left the state unchanged"),
	)
	if err != nil {
		return fmt.Errorf("creating ignored counter: %w", err)
	}

	count, err := m.Int64ObservableGauge(
		"markers.count",
		metric.WithDescription("Current number of markers"),
	)
	if err != nil {
		return fmt.Errorf("creating count gauge: %w", err)
	}

	s.countReg, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(count, int64(s.store.Len()))
			return nil
		},
		count,
	)
	if err != nil {
		return fmt.Errorf("registering count callback: %w", err)
	}

	return nil
}

// Close unregisters the marker count gauge. The session stays usable, but it
// no longer reports its size.
func (s *Session) Close() error {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	if s.countReg == nil {
		return nil
	}
	err := s.countReg.Unregister()
	s.countReg = nil
	if err != nil {
		return fmt.Errorf("unregistering count callback: %w", err)
	}
	return nil
}
