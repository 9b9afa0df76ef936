package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/codeready-toolchain/boardflow/pkg/models"
)

// Table names within the configured dataset. Unexported — callers address
// rows through Adapter methods, never raw SQL.
const (
	tableEvents          = "notification_events"
	tableCardMaster      = "card_master"
	tableCardCurrent     = "card_current"
	tableLineItemsMaster = "line_items_master"
	tableLineItemsCurr   = "line_items_current"
	tablePending         = "pending_updates"
)

// BigQueryAdapter implements Adapter against a Google BigQuery dataset. It
// is the system's store of record — there is no native UPSERT, so the
// card_master and card_current writes below are MERGEs, and rows still inside the streaming
// buffer (roughly the last 30 minutes) reject UPDATE/DELETE/MERGE with a
// diagnostic error that this adapter turns into ErrDeferred (§4.A).
type BigQueryAdapter struct {
	client  *bigquery.Client
	dataset *bigquery.Dataset
}

// NewBigQueryAdapter dials BigQuery for projectID and binds to datasetID.
// Callers are responsible for ensuring the dataset and tables already exist
// (see cmd/boardflowctl's `tables create` subcommand).
func NewBigQueryAdapter(ctx context.Context, projectID, datasetID string) (*BigQueryAdapter, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: dial bigquery: %w", err)
	}
	return &BigQueryAdapter{
		client:  client,
		dataset: client.Dataset(datasetID),
	}, nil
}

func (a *BigQueryAdapter) Close() error {
	return a.client.Close()
}

func (a *BigQueryAdapter) table(name string) *bigquery.Table {
	return a.dataset.Table(name)
}

// InsertEvent streams a row into notification_events. Streaming inserts do
// not enforce uniqueness server-side, so it first checks EventExists and
// returns ErrDuplicateKey when event_id is already recorded. The check and
// the insert are separate calls, so two concurrent inserts of the same
// event_id can both pass the check.
func (a *BigQueryAdapter) InsertEvent(ctx context.Context, ev *models.NotificationEvent) error {
	exists, err := a.EventExists(ctx, ev.EventID)
	if err != nil {
		return fmt.Errorf("store: insert event %s: %w", ev.EventID, err)
	}
	if exists {
		return ErrDuplicateKey
	}
	ins := a.table(tableEvents).Inserter()
	if err := ins.Put(ctx, ev); err != nil {
		return fmt.Errorf("store: insert event %s: %w", ev.EventID, err)
	}
	return nil
}

func (a *BigQueryAdapter) EventExists(ctx context.Context, eventID string) (bool, error) {
	q := a.client.Query(fmt.Sprintf(
		"SELECT COUNT(*) AS n FROM `%s` WHERE event_id = @event_id",
		a.qualified(tableEvents)))
	q.Parameters = []bigquery.QueryParameter{{Name: "event_id", Value: eventID}}

	it, err := q.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("store: event_exists query: %w", err)
	}
	var row struct{ N int64 }
	if err := it.Next(&row); err != nil && !errors.Is(err, iterator.Done) {
		return false, fmt.Errorf("store: event_exists scan: %w", err)
	}
	return row.N > 0, nil
}

func (a *BigQueryAdapter) LastKnownDescription(ctx context.Context, cardID string) (string, bool, error) {
	q := a.client.Query(fmt.Sprintf(`
		SELECT description FROM `+"`%s`"+` WHERE card_id = @card_id
		UNION ALL
		SELECT description FROM `+"`%s`"+` WHERE card_id = @card_id
			AND NOT EXISTS (SELECT 1 FROM `+"`%s`"+` WHERE card_id = @card_id)
		LIMIT 1`,
		a.qualified(tableCardCurrent), a.qualified(tableCardMaster), a.qualified(tableCardCurrent)))
	q.Parameters = []bigquery.QueryParameter{{Name: "card_id", Value: cardID}}

	it, err := q.Read(ctx)
	if err != nil {
		return "", false, fmt.Errorf("store: last_known_description query: %w", err)
	}
	var row struct{ Description string }
	if err := it.Next(&row); err != nil {
		if errors.Is(err, iterator.Done) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("store: last_known_description scan: %w", err)
	}
	return row.Description, true, nil
}

func (a *BigQueryAdapter) GetCardCurrent(ctx context.Context, cardID string) (*models.CardCurrent, bool, error) {
	q := a.client.Query(fmt.Sprintf(
		"SELECT * FROM `%s` WHERE card_id = @card_id LIMIT 1",
		a.qualified(tableCardCurrent)))
	q.Parameters = []bigquery.QueryParameter{{Name: "card_id", Value: cardID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("store: get_card_current query: %w", err)
	}
	var row models.CardCurrent
	if err := it.Next(&row); err != nil {
		if errors.Is(err, iterator.Done) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: get_card_current scan: %w", err)
	}
	return &row, true, nil
}

func (a *BigQueryAdapter) InsertCardMasterIfAbsent(ctx context.Context, card *models.CardMaster) error {
	q := a.client.Query(fmt.Sprintf(`
		MERGE `+"`%s`"+` AS target
		USING (SELECT @card_id AS card_id) AS source
		ON target.card_id = source.card_id
		WHEN NOT MATCHED THEN
			INSERT (card_id, name, description, labels, closed, board_id, board_name,
				list_id, list_name, purchaser, buyer_name, buyer_email, order_summary,
				created_at, line_item_count, first_extracted_at, first_extraction_event_id)
			VALUES (@card_id, @name, @description, @labels, @closed, @board_id, @board_name,
				@list_id, @list_name, @purchaser, @buyer_name, @buyer_email, @order_summary,
				@created_at, @line_item_count, @first_extracted_at, @first_extraction_event_id)`,
		a.qualified(tableCardMaster)))
	q.Parameters = cardMasterParams(card)

	return a.runDML(ctx, q, "insert_card_master_if_absent")
}

func (a *BigQueryAdapter) UpsertCardCurrent(ctx context.Context, card *models.CardCurrent) error {
	q := a.client.Query(fmt.Sprintf(`
		MERGE `+"`%s`"+` AS target
		USING (SELECT @card_id AS card_id) AS source
		ON target.card_id = source.card_id
		WHEN MATCHED THEN
			UPDATE SET name = @name, description = @description, labels = @labels,
				closed = @closed, board_id = @board_id, board_name = @board_name,
				list_id = @list_id, list_name = @list_name, purchaser = @purchaser,
				buyer_name = @buyer_name, buyer_email = @buyer_email,
				order_summary = @order_summary, line_item_count = @line_item_count,
				last_updated_at = @last_updated_at, last_extracted_at = @last_extracted_at,
				last_extraction_event_id = @last_extraction_event_id,
				last_event_type = @last_event_type
		WHEN NOT MATCHED THEN
			INSERT (card_id, name, description, labels, closed, board_id, board_name,
				list_id, list_name, purchaser, buyer_name, buyer_email, order_summary,
				created_at, line_item_count, last_updated_at, last_extracted_at,
				last_extraction_event_id, last_event_type)
			VALUES (@card_id, @name, @description, @labels, @closed, @board_id, @board_name,
				@list_id, @list_name, @purchaser, @buyer_name, @buyer_email, @order_summary,
				@created_at, @line_item_count, @last_updated_at, @last_extracted_at,
				@last_extraction_event_id, @last_event_type)`,
		a.qualified(tableCardCurrent)))
	q.Parameters = cardCurrentParams(card)

	return a.runDML(ctx, q, "upsert_card_current")
}

// ReplaceLineItemsCurrent runs a two-statement BigQuery script — DELETE then
// INSERT — inside a single job so the replacement is atomic from the
// caller's perspective even though BigQuery has no multi-row UPSERT (§4.A).
func (a *BigQueryAdapter) ReplaceLineItemsCurrent(ctx context.Context, cardID string, items []models.LineItem) error {
	script := fmt.Sprintf(`
		DELETE FROM `+"`%s`"+` WHERE card_id = @card_id;
	`, a.qualified(tableLineItemsCurr))

	for i, item := range items {
		script += fmt.Sprintf(`
		INSERT INTO `+"`%s`"+` (card_id, line_index, quantity, raw_price, price_kind,
			unit_price, total_revenue, description, business_line, material, dimensions)
		VALUES (@card_id, %d, %v, %v, '%s', %v, %v, @desc_%d, '%s', @material_%d, @dim_%d);
		`, a.qualified(tableLineItemsCurr), item.LineIndex, item.Quantity, item.RawPrice,
			string(item.PriceKind), item.UnitPrice, item.TotalRevenue, i,
			string(item.BusinessLine), i, i)
	}

	q := a.client.Query(script)
	params := []bigquery.QueryParameter{{Name: "card_id", Value: cardID}}
	for i, item := range items {
		params = append(params,
			bigquery.QueryParameter{Name: fmt.Sprintf("desc_%d", i), Value: item.Description},
			bigquery.QueryParameter{Name: fmt.Sprintf("material_%d", i), Value: item.Material},
			bigquery.QueryParameter{Name: fmt.Sprintf("dim_%d", i), Value: item.Dimensions},
		)
	}
	q.Parameters = params

	return a.runDML(ctx, q, "replace_line_items_current")
}

func (a *BigQueryAdapter) InsertLineItemsMaster(ctx context.Context, cardID string, items []models.LineItem) error {
	exists, err := a.lineItemsMasterExists(ctx, cardID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	ins := a.table(tableLineItemsMaster).Inserter()
	rows := make([]*models.LineItem, len(items))
	for i := range items {
		rows[i] = &items[i]
	}
	if err := ins.Put(ctx, rows); err != nil {
		return fmt.Errorf("store: insert line_items_master for %s: %w", cardID, err)
	}
	return nil
}

func (a *BigQueryAdapter) lineItemsMasterExists(ctx context.Context, cardID string) (bool, error) {
	q := a.client.Query(fmt.Sprintf(
		"SELECT COUNT(*) AS n FROM `%s` WHERE card_id = @card_id",
		a.qualified(tableLineItemsMaster)))
	q.Parameters = []bigquery.QueryParameter{{Name: "card_id", Value: cardID}}
	it, err := q.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("store: line_items_master exists query: %w", err)
	}
	var row struct{ N int64 }
	if err := it.Next(&row); err != nil && !errors.Is(err, iterator.Done) {
		return false, fmt.Errorf("store: line_items_master exists scan: %w", err)
	}
	return row.N > 0, nil
}

func (a *BigQueryAdapter) FinalizeEvent(ctx context.Context, eventID string, extractionTriggered bool, errMsg string) error {
	q := a.client.Query(fmt.Sprintf(`
		UPDATE `+"`%s`"+`
		SET processed = true, processed_at = CURRENT_TIMESTAMP(),
			extraction_triggered = @extraction_triggered, error_message = @error_message
		WHERE event_id = @event_id`,
		a.qualified(tableEvents)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "extraction_triggered", Value: extractionTriggered},
		{Name: "error_message", Value: errMsg},
		{Name: "event_id", Value: eventID},
	}
	return a.runDML(ctx, q, "finalize_event")
}

func (a *BigQueryAdapter) EnqueuePending(ctx context.Context, update *models.PendingUpdate) error {
	ins := a.table(tablePending).Inserter()
	if err := ins.Put(ctx, update); err != nil {
		return fmt.Errorf("store: enqueue pending %s: %w", update.UpdateID, err)
	}
	return nil
}

// ClaimPending mimics `SELECT ... FOR UPDATE SKIP LOCKED` using a MERGE:
// BigQuery serializes DML statements against a table, so a MERGE that only
// matches still-pending rows and flips them to processing is race-safe
// across concurrent retry workers without needing row locks (§4.G).
func (a *BigQueryAdapter) ClaimPending(ctx context.Context, limit int, claimedBy string, now time.Time) ([]models.PendingUpdate, error) {
	claimQ := a.client.Query(fmt.Sprintf(`
		MERGE `+"`%s`"+` AS target
		USING (
			SELECT update_id FROM `+"`%s`"+`
			WHERE status = 'pending' AND next_retry_at <= @now
			ORDER BY next_retry_at
			LIMIT %d
		) AS source
		ON target.update_id = source.update_id
		WHEN MATCHED THEN
			UPDATE SET status = 'processing', claimed_by = @claimed_by, last_retry_at = @now`,
		a.qualified(tablePending), a.qualified(tablePending), limit))
	claimQ.Parameters = []bigquery.QueryParameter{
		{Name: "now", Value: now},
		{Name: "claimed_by", Value: claimedBy},
	}
	if err := a.runDML(ctx, claimQ, "claim_pending"); err != nil {
		return nil, err
	}

	selQ := a.client.Query(fmt.Sprintf(
		"SELECT * FROM `%s` WHERE status = 'processing' AND claimed_by = @claimed_by",
		a.qualified(tablePending)))
	selQ.Parameters = []bigquery.QueryParameter{{Name: "claimed_by", Value: claimedBy}}
	it, err := selQ.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: claim_pending select: %w", err)
	}
	var claimed []models.PendingUpdate
	for {
		var row models.PendingUpdate
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("store: claim_pending scan: %w", err)
		}
		claimed = append(claimed, row)
	}
	return claimed, nil
}

func (a *BigQueryAdapter) CompletePending(ctx context.Context, updateID string, success bool, errMsg string, nextRetryAt time.Time) error {
	var q *bigquery.Query
	if success {
		q = a.client.Query(fmt.Sprintf(`
			UPDATE `+"`%s`"+`
			SET status = 'completed', completed_at = CURRENT_TIMESTAMP(), error_message = @error_message
			WHERE update_id = @update_id`,
			a.qualified(tablePending)))
	} else {
		q = a.client.Query(fmt.Sprintf(`
			UPDATE `+"`%s`"+`
			SET status = 'pending', retry_count = retry_count + 1,
				next_retry_at = @next_retry_at, error_message = @error_message
			WHERE update_id = @update_id`,
			a.qualified(tablePending)))
		q.Parameters = append(q.Parameters, bigquery.QueryParameter{Name: "next_retry_at", Value: nextRetryAt})
	}
	q.Parameters = append(q.Parameters,
		bigquery.QueryParameter{Name: "error_message", Value: errMsg},
		bigquery.QueryParameter{Name: "update_id", Value: updateID},
	)
	return a.runDML(ctx, q, "complete_pending")
}

func (a *BigQueryAdapter) FailPending(ctx context.Context, updateID string, errMsg string) error {
	q := a.client.Query(fmt.Sprintf(`
		UPDATE `+"`%s`"+`
		SET status = 'failed', error_message = @error_message
		WHERE update_id = @update_id`,
		a.qualified(tablePending)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "error_message", Value: errMsg},
		{Name: "update_id", Value: updateID},
	}
	return a.runDML(ctx, q, "fail_pending")
}

// OutstandingPendingForEvent reports whether any pending_updates row whose
// JSON payload carries event_id is still status pending or processing. The
// retry worker uses this to decide when it, rather than the dispatcher, may
// finalize an event that was left processed=false by a deferred write
// (§4.F, §4.G).
func (a *BigQueryAdapter) OutstandingPendingForEvent(ctx context.Context, eventID string) (bool, error) {
	q := a.client.Query(fmt.Sprintf(`
		SELECT COUNT(*) AS n FROM `+"`%s`"+`
		WHERE status IN ('pending', 'processing')
			AND JSON_EXTRACT_SCALAR(SAFE_CONVERT_BYTES_TO_STRING(payload), '$.event_id') = @event_id`,
		a.qualified(tablePending)))
	q.Parameters = []bigquery.QueryParameter{{Name: "event_id", Value: eventID}}

	it, err := q.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("store: outstanding_pending_for_event query: %w", err)
	}
	var row struct{ N int64 }
	if err := it.Next(&row); err != nil && !errors.Is(err, iterator.Done) {
		return false, fmt.Errorf("store: outstanding_pending_for_event scan: %w", err)
	}
	return row.N > 0, nil
}

// runDML executes q as a job and waits for completion, translating
// BigQuery's streaming-buffer diagnostic into ErrDeferred so callers can
// queue a pending update instead of failing the triggering event.
func (a *BigQueryAdapter) runDML(ctx context.Context, q *bigquery.Query, op string) error {
	job, err := q.Run(ctx)
	if err != nil {
		if isStreamingBufferErr(err) {
			return NewDeferredError(op, err)
		}
		return fmt.Errorf("store: run %s: %w", op, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("store: wait %s: %w", op, err)
	}
	if err := status.Err(); err != nil {
		if isStreamingBufferErr(err) {
			return NewDeferredError(op, err)
		}
		return NewPermanentError(op, err)
	}
	return nil
}

func isStreamingBufferErr(err error) bool {
	if IsStreamingBufferError(err) {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 400 {
		return IsStreamingBufferError(errors.New(apiErr.Message))
	}
	return false
}

func (a *BigQueryAdapter) qualified(table string) string {
	return fmt.Sprintf("%s.%s.%s", a.client.Project(), a.dataset.DatasetID, table)
}

func cardMasterParams(c *models.CardMaster) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "card_id", Value: c.CardID},
		{Name: "name", Value: c.Name},
		{Name: "description", Value: c.Description},
		{Name: "labels", Value: c.Labels},
		{Name: "closed", Value: c.Closed},
		{Name: "board_id", Value: c.BoardID},
		{Name: "board_name", Value: c.BoardName},
		{Name: "list_id", Value: c.ListID},
		{Name: "list_name", Value: c.ListName},
		{Name: "purchaser", Value: c.Purchaser},
		{Name: "buyer_name", Value: c.BuyerName},
		{Name: "buyer_email", Value: c.BuyerEmail},
		{Name: "order_summary", Value: c.OrderSummary},
		{Name: "created_at", Value: c.CreatedAt},
		{Name: "line_item_count", Value: c.LineItemCount},
		{Name: "first_extracted_at", Value: c.FirstExtractedAt},
		{Name: "first_extraction_event_id", Value: c.FirstExtractionEventID},
	}
}

func cardCurrentParams(c *models.CardCurrent) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "card_id", Value: c.CardID},
		{Name: "name", Value: c.Name},
		{Name: "description", Value: c.Description},
		{Name: "labels", Value: c.Labels},
		{Name: "closed", Value: c.Closed},
		{Name: "board_id", Value: c.BoardID},
		{Name: "board_name", Value: c.BoardName},
		{Name: "list_id", Value: c.ListID},
		{Name: "list_name", Value: c.ListName},
		{Name: "purchaser", Value: c.Purchaser},
		{Name: "buyer_name", Value: c.BuyerName},
		{Name: "buyer_email", Value: c.BuyerEmail},
		{Name: "order_summary", Value: c.OrderSummary},
		{Name: "created_at", Value: c.CreatedAt},
		{Name: "line_item_count", Value: c.LineItemCount},
		{Name: "last_updated_at", Value: c.LastUpdatedAt},
		{Name: "last_extracted_at", Value: c.LastExtractedAt},
		{Name: "last_extraction_event_id", Value: c.LastExtractionEventID},
		{Name: "last_event_type", Value: c.LastEventType},
	}
}

var _ Adapter = (*BigQueryAdapter)(nil)
