package services

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jung-kurt/gofpdf/v2"

	"voicedesk/internal/domain"
)

// PDFService renders transcript and audit-log exports.
type PDFService struct{}

func NewPDFService() *PDFService {
	return &PDFService{}
}

// GenerateTranscriptPDF writes the transcript with timestamps and speaker
// labels. Individually edited segments carry an [EDITED] marker.
func (s *PDFService) GenerateTranscriptPDF(title string, segments []domain.Segment, outPath string) error {
	pdf, err := s.newDocument(title)
	if err != nil {
		return err
	}

	s.writeTranscript(pdf, segments)
	return s.finish(pdf, outPath)
}

// GenerateAuditLogPDF writes the edit history as a chronological list.
func (s *PDFService) GenerateAuditLogPDF(title string, entries []domain.AuditEntry, outPath string) error {
	pdf, err := s.newDocument(title)
	if err != nil {
		return err
	}

	s.writeAuditLog(pdf, entries)
	return s.finish(pdf, outPath)
}

// GenerateCombinedPDF writes the transcript followed by the edit history in
// one document.
func (s *PDFService) GenerateCombinedPDF(title string, segments []domain.Segment, entries []domain.AuditEntry, outPath string) error {
	pdf, err := s.newDocument(title)
	if err != nil {
		return err
	}

	s.writeTranscript(pdf, segments)
	pdf.AddPage()
	s.writeAuditLog(pdf, entries)
	return s.finish(pdf, outPath)
}

func (s *PDFService) newDocument(title string) (*gofpdf.Fpdf, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, false)
	pdf.SetAuthor("voicedesk", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().Local().Format("02/01/2006 15:04")))
	pdf.Ln(12)

	return pdf, nil
}

func (s *PDFService) finish(pdf *gofpdf.Fpdf, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure pdf directory: %w", err)
	}
	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func (s *PDFService) writeTranscript(pdf *gofpdf.Fpdf, segments []domain.Segment) {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 8, "Transcript")
	pdf.Ln(10)

	if len(segments) == 0 {
		pdf.SetFont("Helvetica", "I", 12)
		pdf.MultiCell(0, 6, "(no segments)", "", "L", false)
		return
	}

	for _, seg := range segments {
		header := fmt.Sprintf("[%s] %s", seg.FormattedStart(), seg.Current.Speaker)
		if seg.TextWasChanged() || seg.SpeakerWasChanged() {
			header += " [EDITED]"
		}

		pdf.SetFont("Helvetica", "B", 11)
		pdf.MultiCell(0, 6, header, "", "L", false)

		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, seg.Current.Text, "", "L", false)
		pdf.Ln(3)
	}
}

func (s *PDFService) writeAuditLog(pdf *gofpdf.Fpdf, entries []domain.AuditEntry) {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 8, "Edit History")
	pdf.Ln(10)

	if len(entries) == 0 {
		pdf.SetFont("Helvetica", "I", 12)
		pdf.MultiCell(0, 6, "(no edits recorded)", "", "L", false)
		return
	}

	for i, entry := range entries {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.MultiCell(0, 6, fmt.Sprintf("%d. %s - %s", i+1, entry.Timestamp.Local().Format("02/01/2006 15:04:05"), entry.Action), "", "L", false)

		pdf.SetFont("Helvetica", "", 11)
		for _, line := range auditEntryLines(entry) {
			pdf.MultiCell(0, 6, line, "", "L", false)
		}
		pdf.Ln(3)
	}
}

// auditEntryLines renders the fields an entry actually carries; bulk and
// individual entries have different shapes.
func auditEntryLines(entry domain.AuditEntry) []string {
	lines := []string{}
	if entry.Description != "" {
		lines = append(lines, entry.Description)
	}
	if entry.LineNumber > 0 {
		lines = append(lines, fmt.Sprintf("Line %d at %s", entry.LineNumber, entry.StartTime))
	}
	if entry.OldSpeaker != "" && entry.NewSpeaker != "" {
		lines = append(lines, fmt.Sprintf("Speaker: %q -> %q", entry.OldSpeaker, entry.NewSpeaker))
	}
	if entry.OldText != "" || entry.NewText != "" {
		lines = append(lines, fmt.Sprintf("Before: %s", entry.OldText))
		lines = append(lines, fmt.Sprintf("After: %s", entry.NewText))
	}
	if entry.SegmentCount > 0 && entry.Description == "" {
		lines = append(lines, fmt.Sprintf("Affected segments: %d", entry.SegmentCount))
	}
	return lines
}
