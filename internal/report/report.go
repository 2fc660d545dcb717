// Package report exports call history as spreadsheets.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"voiceguard-service/internal/store"
)

// SheetName is the worksheet holding one row per call.
const SheetName = "Call History"

// Header is the first row of the history sheet.
var Header = []string{
	"Call ID", "Record ID", "Caller", "Started", "Ended", "Duration (s)",
	"End Reason", "Risk Score", "Risk Level", "Rationale",
	"Voiceprint Match %", "Number", "Sentiment", "Urgency", "Synthetic Voice",
	"Segments", "Transcript",
}

// WriteHistory writes calls as an xlsx workbook to w.
func WriteHistory(w io.Writer, calls []store.CallRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	if err := setRow(f, 1, toAny(Header)); err != nil {
		return err
	}
	for i, c := range calls {
		row := []any{
			c.CallID,
			c.RecordID,
			c.CallerLabel,
			c.StartedAt.UTC().Format(time.RFC3339),
			c.EndedAt.UTC().Format(time.RFC3339),
			c.Duration().Seconds(),
			c.EndReason,
			c.RiskScore,
			c.RiskLevel,
			c.Rationale,
			c.Analysis.VoiceprintMatchPercent,
			string(c.Analysis.NumberLegitimacy),
			string(c.Analysis.Sentiment),
			yesNo(c.Analysis.UrgencyDetected),
			yesNo(c.Analysis.SyntheticVoiceSuspected),
			c.Delivered,
			c.Transcript,
		}
		if err := setRow(f, i+2, row); err != nil {
			return err
		}
	}

	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
