package store

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/codeready-toolchain/boardflow/pkg/models"
)

// CreateTables creates the dataset (if absent) and all five tables with the
// partitioning/clustering layout from §3/§6: notification_events is
// partitioned by ingest date and clustered by card_id, action_kind,
// is_list_transition; pending_updates is partitioned by creation date and
// clustered by status, next_retry_at, operation_kind. The remaining tables
// carry no partitioning — they are addressed by primary key, not by time
// range. Used by boardflowctl's `tables create` subcommand; safe to
// re-run against an already-provisioned dataset.
func (a *BigQueryAdapter) CreateTables(ctx context.Context) error {
	if err := a.dataset.Create(ctx, nil); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("store: create dataset: %w", err)
	}

	specs := []struct {
		name     string
		model    any
		metadata *bigquery.TableMetadata
	}{
		{
			name:  tableEvents,
			model: models.NotificationEvent{},
			metadata: &bigquery.TableMetadata{
				TimePartitioning: &bigquery.TimePartitioning{Field: "created_at"},
				Clustering:       &bigquery.Clustering{Fields: []string{"card_id", "action_kind", "is_list_transition"}},
			},
		},
		{name: tableCardMaster, model: models.CardMaster{}},
		{name: tableCardCurrent, model: models.CardCurrent{}},
		{name: tableLineItemsMaster, model: models.LineItem{}},
		{name: tableLineItemsCurr, model: models.LineItem{}},
		{
			name:  tablePending,
			model: models.PendingUpdate{},
			metadata: &bigquery.TableMetadata{
				TimePartitioning: &bigquery.TimePartitioning{Field: "created_at"},
				Clustering:       &bigquery.Clustering{Fields: []string{"status", "next_retry_at", "operation_kind"}},
			},
		},
	}

	for _, s := range specs {
		schema, err := bigquery.InferSchema(s.model)
		if err != nil {
			return fmt.Errorf("store: infer schema for %s: %w", s.name, err)
		}
		md := s.metadata
		if md == nil {
			md = &bigquery.TableMetadata{}
		}
		md.Schema = schema

		if err := a.table(s.name).Create(ctx, md); err != nil && !isAlreadyExists(err) {
			return fmt.Errorf("store: create table %s: %w", s.name, err)
		}
	}
	return nil
}

func isAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 409
	}
	return false
}
