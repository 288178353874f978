package service

import (
	"context"

	"github.com/navid-fn/tickerboard/internal/models"
	"github.com/navid-fn/tickerboard/internal/storage"
)

type TickersService struct {
	store storage.Store
}

func NewTickersService(store storage.Store) *TickersService {
	return &TickersService{
		store: store,
	}
}

func (ts *TickersService) PageByVolume(ctx context.Context, page, perPage int) (models.Page, error) {
	return ts.store.LatestByVolume(ctx, page, perPage)
}

func (ts *TickersService) RecentForSymbol(ctx context.Context, symbol string) ([]models.SymbolRow, error) {
	return ts.store.RecentForSymbol(ctx, symbol)
}

func (ts *TickersService) Ping(ctx context.Context) error {
	return ts.store.Ping(ctx)
}
