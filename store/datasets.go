package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Dataset describes an external data source and how to pull records from it.
type Dataset struct {
	ID            string
	Name          string
	URL           string
	Method        string
	Token         string
	Headers       []byte
	ArrayPath     string
	ExtractFields []byte
	RawData       []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DatasetRecord is one structured row pulled into a dataset.
type DatasetRecord struct {
	ID        string
	DatasetID string
	Data      []byte
	JSONPath  string
	Label     string
	CreatedAt time.Time
}

// CreateDataset stores a dataset definition and returns its id.
func (s *Store) CreateDataset(ctx context.Context, d *Dataset) (string, error) {
	id := uuid.NewString()
	method := d.Method
	if method == "" {
		method = "GET"
	}
	headers := d.Headers
	if len(headers) == 0 {
		headers = []byte("{}")
	}
	extract := d.ExtractFields
	if len(extract) == 0 {
		extract = []byte("[]")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO datasets (id, name, url, method, token, headers, array_path, extract_fields, raw_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, d.Name, d.URL, method, d.Token, headers, d.ArrayPath, extract, d.RawData)
	if err != nil {
		return "", fmt.Errorf("failed to create dataset: %w", err)
	}
	return id, nil
}

// UpdateDataset overwrites the dataset definition.
func (s *Store) UpdateDataset(ctx context.Context, d *Dataset) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE datasets
		SET name = $2, url = $3, method = $4, token = $5, headers = $6,
		    array_path = $7, extract_fields = $8, updated_at = NOW()
		WHERE id = $1`,
		d.ID, d.Name, d.URL, d.Method, d.Token, d.Headers, d.ArrayPath, d.ExtractFields)
	if err != nil {
		return fmt.Errorf("failed to update dataset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDatasetRawData stores the last fetched payload for inspection.
func (s *Store) SetDatasetRawData(ctx context.Context, id string, raw []byte) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE datasets SET raw_data = $2, updated_at = NOW() WHERE id = $1", id, raw)
	if err != nil {
		return fmt.Errorf("failed to store dataset raw data: %w", err)
	}
	return nil
}

// DeleteDataset removes a dataset; its records cascade.
func (s *Store) DeleteDataset(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM datasets WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetDataset returns a dataset by id, including its last fetched payload.
func (s *Store) GetDataset(ctx context.Context, id string) (*Dataset, error) {
	var d Dataset
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, url, method, token, headers, array_path, extract_fields, raw_data, created_at, updated_at
		FROM datasets WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.URL, &d.Method, &d.Token, &d.Headers,
			&d.ArrayPath, &d.ExtractFields, &d.RawData, &d.CreatedAt, &d.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	return &d, nil
}

// GetDatasetByName matches the dataset name exactly.
func (s *Store) GetDatasetByName(ctx context.Context, name string) (*Dataset, error) {
	var d Dataset
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, url, method, token, headers, array_path, extract_fields, raw_data, created_at, updated_at
		FROM datasets WHERE name = $1`, name).
		Scan(&d.ID, &d.Name, &d.URL, &d.Method, &d.Token, &d.Headers,
			&d.ArrayPath, &d.ExtractFields, &d.RawData, &d.CreatedAt, &d.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	return &d, nil
}

// ListDatasets returns all datasets with their record counts, newest first.
func (s *Store) ListDatasets(ctx context.Context) ([]Dataset, map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.id, d.name, d.url, d.method, d.token, d.headers, d.array_path,
		       d.extract_fields, d.raw_data, d.created_at, d.updated_at,
		       COUNT(r.id)
		FROM datasets d LEFT JOIN dataset_records r ON r.dataset_id = d.id
		GROUP BY d.id
		ORDER BY d.created_at DESC`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	var datasets []Dataset
	counts := map[string]int{}
	for rows.Next() {
		var d Dataset
		var count int
		if err := rows.Scan(&d.ID, &d.Name, &d.URL, &d.Method, &d.Token, &d.Headers,
			&d.ArrayPath, &d.ExtractFields, &d.RawData, &d.CreatedAt, &d.UpdatedAt, &count); err != nil {
			return nil, nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		datasets = append(datasets, d)
		counts[d.ID] = count
	}
	return datasets, counts, rows.Err()
}

// AddDatasetRecords bulk-inserts records, skipping duplicates by content
// hash within each record's dataset. Returns the inserted count.
func (s *Store) AddDatasetRecords(ctx context.Context, records []DatasetRecord) (int, error) {
	inserted := 0
	for _, r := range records {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO dataset_records (id, dataset_id, data, json_path, label)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (dataset_id, (md5(data::text))) DO NOTHING`,
			uuid.NewString(), r.DatasetID, r.Data, r.JSONPath, r.Label)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert dataset record: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ListDatasetRecords pages through records, newest first, optionally scoped
// to one dataset. Returns the page plus the total matching count.
func (s *Store) ListDatasetRecords(ctx context.Context, datasetID string, page, limit int) ([]DatasetRecord, int, error) {
	where := ""
	args := pgx.NamedArgs{"limit": limit, "offset": (page - 1) * limit}
	if datasetID != "" {
		where = "WHERE dataset_id = @dataset_id"
		args["dataset_id"] = datasetID
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM dataset_records %s", where), args).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count dataset records: %w", err)
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, dataset_id, data, json_path, label, created_at
		FROM dataset_records
		%s
		ORDER BY created_at DESC
		LIMIT @limit OFFSET @offset`, where), args)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list dataset records: %w", err)
	}
	defer rows.Close()

	records, err := scanDatasetRecords(rows)
	return records, total, err
}

// AllDatasetRecords returns every record of a dataset in insertion order.
func (s *Store) AllDatasetRecords(ctx context.Context, datasetID string) ([]DatasetRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, dataset_id, data, json_path, label, created_at
		FROM dataset_records
		WHERE dataset_id = $1
		ORDER BY created_at ASC`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dataset records: %w", err)
	}
	defer rows.Close()
	return scanDatasetRecords(rows)
}

func scanDatasetRecords(rows pgx.Rows) ([]DatasetRecord, error) {
	var records []DatasetRecord
	for rows.Next() {
		var r DatasetRecord
		if err := rows.Scan(&r.ID, &r.DatasetID, &r.Data, &r.JSONPath, &r.Label, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dataset record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// DeleteDatasetRecord removes one record.
func (s *Store) DeleteDatasetRecord(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM dataset_records WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete dataset record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// BulkDeleteDatasetRecords removes records by id, returning the count.
func (s *Store) BulkDeleteDatasetRecords(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, "DELETE FROM dataset_records WHERE id = ANY($1)", ids)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk delete dataset records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ClearDatasetRecords removes all records of a dataset, returning the count.
func (s *Store) ClearDatasetRecords(ctx context.Context, datasetID string) (int, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM dataset_records WHERE dataset_id = $1", datasetID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear dataset records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// RecordHit is a dataset record joined with its dataset name, as surfaced
// to agent tools.
type RecordHit struct {
	ID          string
	DatasetID   string
	DatasetName string
	Data        []byte
	Label       string
}

// SearchRecords queries records across datasets. datasetID and search are
// each optional; search matches as a case-insensitive substring over the
// serialized row.
func (s *Store) SearchRecords(ctx context.Context, datasetID, search string, limit int) ([]RecordHit, error) {
	var conditions []string
	args := pgx.NamedArgs{"limit": limit}

	if datasetID != "" {
		conditions = append(conditions, "r.dataset_id = @dataset_id")
		args["dataset_id"] = datasetID
	}
	if search != "" {
		conditions = append(conditions, "r.data::text ILIKE @pattern")
		args["pattern"] = "%" + search + "%"
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT r.id, r.dataset_id, COALESCE(d.name, ''), r.data, r.label
		FROM dataset_records r
		LEFT JOIN datasets d ON d.id = r.dataset_id
		%s
		ORDER BY r.created_at DESC
		LIMIT @limit`, where), args)
	if err != nil {
		return nil, fmt.Errorf("failed to search dataset records: %w", err)
	}
	defer rows.Close()

	var hits []RecordHit
	for rows.Next() {
		var h RecordHit
		if err := rows.Scan(&h.ID, &h.DatasetID, &h.DatasetName, &h.Data, &h.Label); err != nil {
			return nil, fmt.Errorf("failed to scan dataset record: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// QueryDatasetRecords returns records matching the search term as a
// case-insensitive substring over the serialized row, newest first. An empty
// term matches everything.
func (s *Store) QueryDatasetRecords(ctx context.Context, datasetID, search string, limit int) ([]DatasetRecord, error) {
	args := pgx.NamedArgs{"dataset_id": datasetID, "limit": limit}
	filter := ""
	if search != "" {
		filter = "AND data::text ILIKE @pattern"
		args["pattern"] = "%" + search + "%"
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, dataset_id, data, json_path, label, created_at
		FROM dataset_records
		WHERE dataset_id = @dataset_id %s
		ORDER BY created_at DESC
		LIMIT @limit`, filter), args)
	if err != nil {
		return nil, fmt.Errorf("failed to query dataset records: %w", err)
	}
	defer rows.Close()

	var records []DatasetRecord
	for rows.Next() {
		var r DatasetRecord
		if err := rows.Scan(&r.ID, &r.DatasetID, &r.Data, &r.JSONPath, &r.Label, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dataset record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
