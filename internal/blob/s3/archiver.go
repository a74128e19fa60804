package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
)

// Narrow store interfaces: the archiver needs only the time-ranged query,
// not the full store surface. The Postgres, SQLite and memory stores satisfy
// these implicitly.

// PositionArchiveStore provides read access to closed composite positions.
type PositionArchiveStore interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.CompositePosition, error)
}

// HedgeArchiveStore provides read access to closed hedge records.
type HedgeArchiveStore interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.HedgePosition, error)
}

// PositionArchiver implements domain.Archiver by querying the stores for
// closed records, serializing them to JSONL, and uploading the result to
// object storage.
//
// Deleting archived rows from the primary store is intentionally NOT done
// here; that is a separate, explicit step after the archive is verified.
type PositionArchiver struct {
	writer    domain.BlobWriter
	positions PositionArchiveStore
	hedges    HedgeArchiveStore
	audit     domain.AuditStore
}

// NewArchiver creates a new PositionArchiver. audit may be nil when no audit
// store is configured.
func NewArchiver(writer domain.BlobWriter, positions PositionArchiveStore, hedges HedgeArchiveStore, audit domain.AuditStore) *PositionArchiver {
	return &PositionArchiver{
		writer:    writer,
		positions: positions,
		hedges:    hedges,
		audit:     audit,
	}
}

var _ domain.Archiver = (*PositionArchiver)(nil)

// archivedPosition is the JSONL representation of a composite position. WAD
// amounts are decimal strings so downstream tooling never rounds them.
type archivedPosition struct {
	ID             string     `json:"id"`
	Owner          string     `json:"owner"`
	BaseAsset      string     `json:"base_asset"`
	QuoteAsset     string     `json:"quote_asset"`
	YieldLegID     string     `json:"yield_leg_id"`
	YieldLiquidity string     `json:"yield_liquidity"`
	YieldAmount0   string     `json:"yield_amount0"`
	YieldAmount1   string     `json:"yield_amount1"`
	HedgeID        string     `json:"hedge_id"`
	HedgeValue     string     `json:"hedge_value"`
	ReferencePrice string     `json:"reference_price"`
	Status         string     `json:"status"`
	OpenedAt       time.Time  `json:"opened_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

// archivedHedge is the JSONL representation of a hedge record.
type archivedHedge struct {
	ID                 string     `json:"id"`
	Owner              string     `json:"owner"`
	CollateralAsset    string     `json:"collateral_asset"`
	ShortedAsset       string     `json:"shorted_asset"`
	Principal          string     `json:"principal"`
	Leverage           string     `json:"leverage"`
	LoanAmount         string     `json:"loan_amount"`
	CollateralSupplied string     `json:"collateral_supplied"`
	DebtBorrowed       string     `json:"debt_borrowed"`
	State              string     `json:"state"`
	OpenedAt           time.Time  `json:"opened_at"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func toArchivedPosition(p domain.CompositePosition) archivedPosition {
	return archivedPosition{
		ID:             p.ID,
		Owner:          p.Owner.Hex(),
		BaseAsset:      p.BaseAsset.Hex(),
		QuoteAsset:     p.QuoteAsset.Hex(),
		YieldLegID:     p.YieldLegID,
		YieldLiquidity: bigString(p.YieldLiquidity),
		YieldAmount0:   bigString(p.YieldAmount0),
		YieldAmount1:   bigString(p.YieldAmount1),
		HedgeID:        p.HedgeID,
		HedgeValue:     bigString(p.HedgeValue),
		ReferencePrice: bigString(p.ReferencePrice),
		Status:         string(p.Status),
		OpenedAt:       p.OpenedAt,
		ClosedAt:       p.ClosedAt,
	}
}

func toArchivedHedge(h domain.HedgePosition) archivedHedge {
	return archivedHedge{
		ID:                 h.ID,
		Owner:              h.Owner.Hex(),
		CollateralAsset:    h.CollateralAsset.Hex(),
		ShortedAsset:       h.ShortedAsset.Hex(),
		Principal:          bigString(h.Principal),
		Leverage:           bigString(h.Leverage),
		LoanAmount:         bigString(h.LoanAmount),
		CollateralSupplied: bigString(h.CollateralSupplied),
		DebtBorrowed:       bigString(h.DebtBorrowed),
		State:              string(h.State),
		OpenedAt:           h.OpenedAt,
		ClosedAt:           h.ClosedAt,
	}
}

// ArchivePositions queries closed positions before the cutoff, serializes
// them to JSONL, and uploads the file at archive/positions/YYYY-MM.jsonl.
// The upload is recorded in the audit log; the count of archived records is
// returned.
func (a *PositionArchiver) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.positions.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	records := make([]archivedPosition, 0, len(positions))
	for _, p := range positions {
		records = append(records, toArchivedPosition(p))
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	path := archivePath("positions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	count := int64(len(records))
	if err := a.logArchive(ctx, "archive.positions", path, count, before); err != nil {
		return count, err
	}
	return count, nil
}

// ArchiveHedges queries closed hedge records before the cutoff, serializes
// them to JSONL, and uploads the file at archive/hedges/YYYY-MM.jsonl.
func (a *PositionArchiver) ArchiveHedges(ctx context.Context, before time.Time) (int64, error) {
	hedges, err := a.hedges.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive hedges query: %w", err)
	}
	if len(hedges) == 0 {
		return 0, nil
	}

	records := make([]archivedHedge, 0, len(hedges))
	for _, h := range hedges {
		records = append(records, toArchivedHedge(h))
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive hedges marshal: %w", err)
	}

	path := archivePath("hedges", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive hedges upload: %w", err)
	}

	count := int64(len(records))
	if err := a.logArchive(ctx, "archive.hedges", path, count, before); err != nil {
		return count, err
	}
	return count, nil
}

func (a *PositionArchiver) logArchive(ctx context.Context, event, path string, count int64, before time.Time) error {
	if a.audit == nil {
		return nil
	}
	if err := a.audit.Log(ctx, event, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return fmt.Errorf("s3blob: %s audit log: %w", event, err)
	}
	return nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time:
//
//	archive/positions/2026-08.jsonl
//	archive/hedges/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
