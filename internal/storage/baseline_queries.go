package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	pq "github.com/lib/pq"

	"catalogwatch/pkg/types"
)

const baselineColumns = `id, catalog_url, retailer, category, title, price, product_code, image_urls, fingerprint, discovered_date, scan_type`

// InsertBaseline appends one snapshot row. Each row commits independently so
// a crash mid-scan loses at most the in-flight entry.
func (s *Store) InsertBaseline(ctx context.Context, row types.BaselineEntry) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialised")
	}
	discovered := row.DiscoveredDate
	if discovered.IsZero() {
		discovered = time.Now().UTC()
	}
	scanType := row.ScanType
	if scanType == "" {
		scanType = types.ScanTypeMonitor
	}
	query := `
        INSERT INTO catalog_baseline
            (catalog_url, retailer, category, title, price, product_code, image_urls, fingerprint, discovered_date, scan_type)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	err := s.retryUndefinedTable(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query,
			row.CatalogURL,
			row.Retailer,
			row.Category,
			row.Title,
			nullFloat(row.Price),
			row.ProductCode,
			pq.Array(row.ImageURLs),
			row.Fingerprint,
			discovered,
			string(scanType),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert baseline row: %w", err)
	}
	return nil
}

// BaselineByURL returns the most recent snapshot row with this catalog URL.
func (s *Store) BaselineByURL(ctx context.Context, retailer, rawURL string) (*types.BaselineEntry, error) {
	query := `
        SELECT ` + baselineColumns + ` FROM catalog_baseline
        WHERE retailer = $1 AND catalog_url = $2
        ORDER BY discovered_date DESC
        LIMIT 1`
	return s.scanOneBaseline(ctx, query, retailer, rawURL)
}

// BaselineByNormalizedURL matches baseline rows with the query string
// removed and the trailing slash trimmed.
func (s *Store) BaselineByNormalizedURL(ctx context.Context, retailer, normURL string) (*types.BaselineEntry, error) {
	query := `
        SELECT ` + baselineColumns + ` FROM catalog_baseline
        WHERE retailer = $1
          AND rtrim(split_part(catalog_url, '?', 1), '/') = $2
        ORDER BY discovered_date DESC
        LIMIT 1`
	return s.scanOneBaseline(ctx, query, retailer, normURL)
}

// BaselineByCode returns the most recent snapshot row carrying this product code.
func (s *Store) BaselineByCode(ctx context.Context, retailer, code string) (*types.BaselineEntry, error) {
	query := `
        SELECT ` + baselineColumns + ` FROM catalog_baseline
        WHERE retailer = $1 AND product_code = $2 AND product_code <> ''
        ORDER BY discovered_date DESC
        LIMIT 1`
	return s.scanOneBaseline(ctx, query, retailer, code)
}

// BaselineListParams controls pagination and filtering of the snapshot log.
type BaselineListParams struct {
	Retailer string
	Category string
	Page     int
	PageSize int
}

// BaselineListResult wraps snapshot rows with pagination metadata.
type BaselineListResult struct {
	Total    int64                 `json:"total"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
	Items    []types.BaselineEntry `json:"items"`
}

// ListBaseline pages through the snapshot log, newest first, for operator
// reporting.
func (s *Store) ListBaseline(ctx context.Context, params BaselineListParams) (BaselineListResult, error) {
	if s == nil || s.db == nil {
		return BaselineListResult{}, errors.New("store not initialised")
	}
	page := params.Page
	if page <= 0 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}
	result := BaselineListResult{Page: page, PageSize: pageSize}

	where := []string{"1=1"}
	args := []any{}
	if r := strings.TrimSpace(params.Retailer); r != "" {
		args = append(args, r)
		where = append(where, fmt.Sprintf("retailer = $%d", len(args)))
	}
	if c := strings.TrimSpace(params.Category); c != "" {
		args = append(args, c)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	totalQuery := `SELECT COUNT(*) FROM catalog_baseline WHERE ` + cond
	if err := s.db.QueryRowContext(ctx, totalQuery, args...).Scan(&result.Total); err != nil {
		return BaselineListResult{}, fmt.Errorf("count baseline: %w", err)
	}

	args = append(args, pageSize, (page-1)*pageSize)
	listQuery := fmt.Sprintf(`
        SELECT `+baselineColumns+` FROM catalog_baseline
        WHERE %s
        ORDER BY discovered_date DESC
        LIMIT $%d OFFSET $%d`, cond, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return BaselineListResult{}, fmt.Errorf("list baseline: %w", err)
	}
	defer rows.Close()

	items := make([]types.BaselineEntry, 0, pageSize)
	for rows.Next() {
		var entry types.BaselineEntry
		if err := scanBaseline(rows, &entry); err != nil {
			return BaselineListResult{}, fmt.Errorf("scan baseline: %w", err)
		}
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return BaselineListResult{}, err
	}
	result.Items = items
	return result, nil
}

func (s *Store) scanOneBaseline(ctx context.Context, query string, args ...any) (*types.BaselineEntry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialised")
	}
	var entry types.BaselineEntry
	err := s.retryUndefinedTable(ctx, func() error {
		row := s.db.QueryRowContext(ctx, query, args...)
		return scanBaseline(row, &entry)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query baseline: %w", err)
	}
	return &entry, nil
}

func scanBaseline(row rowScanner, entry *types.BaselineEntry) error {
	var (
		price    sql.NullFloat64
		images   pq.StringArray
		scanType string
	)
	if err := row.Scan(
		&entry.ID,
		&entry.CatalogURL,
		&entry.Retailer,
		&entry.Category,
		&entry.Title,
		&price,
		&entry.ProductCode,
		&images,
		&entry.Fingerprint,
		&entry.DiscoveredDate,
		&scanType,
	); err != nil {
		return err
	}
	if price.Valid {
		v := price.Float64
		entry.Price = &v
	}
	entry.ImageURLs = []string(images)
	entry.ScanType = types.ScanType(scanType)
	return nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
