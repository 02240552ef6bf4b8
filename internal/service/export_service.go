package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/p4-jakarta/portal-api/internal/models"
	appErrors "github.com/p4-jakarta/portal-api/pkg/errors"
	"github.com/p4-jakarta/portal-api/pkg/export"
)

// RosterFormat selects the rendered output for roster exports.
type RosterFormat string

// Supported roster export formats.
const (
	RosterFormatCSV RosterFormat = "csv"
	RosterFormatPDF RosterFormat = "pdf"
)

type rosterReader interface {
	ListRosterByQuota(ctx context.Context, quotaID string) ([]models.RegistrationDetail, error)
}

type exportQuotaReader interface {
	FindByID(ctx context.Context, id string) (*models.Quota, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// RosterExport is a rendered roster ready for download.
type RosterExport struct {
	FileName    string
	ContentType string
	Payload     []byte
}

// ExportService renders participant rosters for administrators.
type ExportService struct {
	registrations rosterReader
	quotas        exportQuotaReader
	csv           csvRenderer
	pdf           pdfRenderer
	logger        *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(registrations rosterReader, quotas exportQuotaReader, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{registrations: registrations, quotas: quotas, csv: csv, pdf: pdf, logger: logger}
}

// Roster renders the registration roster for a quota in the requested format.
func (s *ExportService) Roster(ctx context.Context, quotaID string, format RosterFormat) (*RosterExport, error) {
	quota, err := s.quotas.FindByID(ctx, quotaID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrQuotaNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load quota")
	}

	rows, err := s.registrations.ListRosterByQuota(ctx, quotaID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}

	dataset := buildRosterDataset(rows)
	title := fmt.Sprintf("Participant Roster %s (%s)", quota.Title, quota.AcademicYear)

	var payload []byte
	var contentType string
	switch format {
	case RosterFormatCSV:
		payload, err = s.csv.Render(dataset)
		contentType = "text/csv"
	case RosterFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
		contentType = "application/pdf"
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}

	return &RosterExport{
		FileName:    buildRosterFilename(quota, format),
		ContentType: contentType,
		Payload:     payload,
	}, nil
}

func buildRosterDataset(rows []models.RegistrationDetail) export.Dataset {
	dataRows := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		dataRows = append(dataRows, map[string]string{
			"No":            fmt.Sprintf("%d", row.SequenceNumber),
			"Name":          row.ActorName,
			"Identity No":   row.IdentityNo,
			"Email":         row.ActorEmail,
			"Role":          string(row.ActorRole),
			"Status":        string(row.Status),
			"Registered At": row.RegisteredAt.UTC().Format(time.RFC3339),
		})
	}
	return export.Dataset{
		Headers: []string{"No", "Name", "Identity No", "Email", "Role", "Status", "Registered At"},
		Rows:    dataRows,
	}
}

func buildRosterFilename(quota *models.Quota, format RosterFormat) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	return fmt.Sprintf("roster_%s_%s.%s", sanitizeFilename(quota.AcademicYear), timestamp, format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
