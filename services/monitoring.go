package services

import (
	"context"

	"github.com/n0rdy/qakka/db"
)

type MonitoringService struct {
	store db.Store
}

func NewMonitoringService(store db.Store) *MonitoringService {
	return &MonitoringService{
		store: store,
	}
}

func (ms *MonitoringService) IsHealthy(ctx context.Context) bool {
	err := ms.store.Ping(ctx)
	return err == nil
}
