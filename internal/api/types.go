package api

import (
	"time"

	"catalogwatch/pkg/types"
)

// ScanStatus tracks the lifecycle of one submitted scan.
type ScanStatus string

const (
	ScanStatusPending   ScanStatus = "pending"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
	ScanStatusCancelled ScanStatus = "cancelled"
)

// ScanRequest is the payload for POST /api/scans. Entries are the already
// extracted catalog listings for one retailer/category crawl.
type ScanRequest struct {
	Retailer string               `json:"retailer"`
	Category string               `json:"category"`
	ScanType types.ScanType       `json:"scan_type,omitempty"`
	Entries  []types.CatalogEntry `json:"entries"`
}

// ScanSummary is the public state of one scan.
type ScanSummary struct {
	ScanID      string         `json:"scan_id"`
	Retailer    string         `json:"retailer"`
	Category    string         `json:"category"`
	ScanType    types.ScanType `json:"scan_type"`
	Status      ScanStatus     `json:"status"`
	Entries     int            `json:"entries"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	New         int            `json:"new"`
	Suspected   int            `json:"suspected_duplicates"`
	Existing    int            `json:"existing"`
	Rejected    int            `json:"rejected"`
	PriceAlerts int            `json:"price_changes"`
	Error       string         `json:"error,omitempty"`
}

// ScanDetail pairs a summary with the full report once the scan finished.
type ScanDetail struct {
	ScanSummary
	Report *types.ScanReport `json:"report,omitempty"`
}
