package process

import (
	"context"

	"runcard/models"
	"runcard/pkg/ocr"
	"runcard/store"
)

// StoreSink persists watcher results through a store.Store.
type StoreSink struct {
	Store *store.Store
}

func (s StoreSink) Known(ctx context.Context) ([]models.Upload, error) {
	return s.Store.ListUploads(ctx)
}

func (s StoreSink) Failed(ctx context.Context) ([]models.Upload, error) {
	return s.Store.FailedUploads(ctx)
}

func (s StoreSink) Save(ctx context.Context, up *models.Upload, rec *ocr.Record) error {
	rr := models.NewRunRecord(*rec, ocr.RecordKind(up.Kind), models.SourceWatch)
	return s.Store.SaveExtraction(ctx, up, &rr)
}

func (s StoreSink) Fail(ctx context.Context, up *models.Upload, reason string) error {
	return s.Store.MarkFailed(ctx, up, reason)
}
