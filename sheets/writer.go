package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"scrapekit/models"
	"scrapekit/storage"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Writer handles writing records to Google Sheets
type Writer struct {
	service       *sheets.Service
	spreadsheetID string
}

// NewWriter creates a new Google Sheets writer. spreadsheet is an ID or a
// spreadsheet URL. credentials is a path to a service account file or the
// JSON itself; empty falls back to GOOGLE_SHEETS_CREDENTIALS.
func NewWriter(ctx context.Context, spreadsheet string, credentials string) (*Writer, error) {
	spreadsheetID := spreadsheet
	if id := ExtractSpreadsheetID(spreadsheet); id != "" {
		spreadsheetID = id
	}
	if spreadsheetID == "" {
		return nil, fmt.Errorf("%w: spreadsheet id is empty", models.ErrConfiguration)
	}

	credsJSON, err := loadCredentials(credentials)
	if err != nil {
		return nil, err
	}

	service, err := sheets.NewService(ctx, option.WithCredentialsJSON(credsJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Writer{
		service:       service,
		spreadsheetID: spreadsheetID,
	}, nil
}

func loadCredentials(credentials string) ([]byte, error) {
	credentials = strings.TrimSpace(credentials)
	if credentials == "" {
		credentials = strings.TrimSpace(os.Getenv("GOOGLE_SHEETS_CREDENTIALS"))
		if credentials == "" {
			return nil, fmt.Errorf("%w: sheets credentials not found: GOOGLE_SHEETS_CREDENTIALS environment variable is empty or not set", models.ErrConfiguration)
		}
		log.Printf("Reading credentials from GOOGLE_SHEETS_CREDENTIALS environment variable (%d bytes)\n", len(credentials))
	}

	var credsJSON []byte
	if strings.HasPrefix(credentials, "{") {
		credsJSON = []byte(credentials)
	} else {
		data, err := os.ReadFile(credentials)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		credsJSON = data
	}

	var creds map[string]interface{}
	if err := json.Unmarshal(credsJSON, &creds); err != nil {
		return nil, fmt.Errorf("%w: invalid credentials JSON (check if JSON is properly formatted): %v", models.ErrConfiguration, err)
	}
	if creds["type"] != "service_account" {
		return nil, fmt.Errorf("%w: credentials must be a service account JSON file (type: service_account), got type: %v", models.ErrConfiguration, creds["type"])
	}
	return credsJSON, nil
}

// Sink returns a save function. A non-empty output names the sheet to
// overwrite; otherwise a new sheet is inserted for the run.
func (w *Writer) Sink() storage.SaveFunc {
	return func(ctx context.Context, records []models.Record, output string) error {
		if output != "" {
			return w.WriteRecords(ctx, output, records, true)
		}
		name := fmt.Sprintf("Run_%s", time.Now().Format("20060102_150405"))
		_, sheetID, err := w.CreateSheetAndWriteRecords(ctx, name, records, sourceOf(records), "")
		if err != nil {
			return err
		}
		log.Printf("Sheet available at %s\n", SheetURL(w.spreadsheetID, sheetID))
		return nil
	}
}

// WriteRecords writes records to an existing sheet.
// If clearFirst is true, clears existing data before writing
func (w *Writer) WriteRecords(ctx context.Context, sheetName string, records []models.Record, clearFirst bool) error {
	sheetName = sanitizeSheetName(sheetName)
	range_ := fmt.Sprintf("%s!A1", sheetName)

	if clearFirst {
		clearReq := &sheets.ClearValuesRequest{}
		_, err := w.service.Spreadsheets.Values.Clear(w.spreadsheetID, sheetName, clearReq).Context(ctx).Do()
		if err != nil {
			log.Printf("Warning: Failed to clear existing data: %v\n", err)
		}
	}

	if len(records) == 0 {
		log.Println("No records to write")
		return nil
	}

	valueRange := &sheets.ValueRange{
		Values: BuildValues(records, "", ""),
	}
	_, err := w.service.Spreadsheets.Values.Update(w.spreadsheetID, range_, valueRange).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to write to sheets: %w", err)
	}

	log.Printf("Successfully wrote %d records to sheet '%s'\n", len(records), sheetName)
	return nil
}

// CreateSheetAndWriteRecords creates a new sheet and writes records to it
// The sheet is inserted at the beginning (index 0) of the spreadsheet
// source and note are optional - if provided, they will be added as metadata in the first row
// Returns the sheet name and sheet ID (gid) that was created
func (w *Writer) CreateSheetAndWriteRecords(ctx context.Context, sheetName string, records []models.Record, source string, note string) (string, int64, error) {
	sheetName = sanitizeSheetName(sheetName)
	if len(sheetName) > 100 {
		sheetName = sheetName[:100]
	}

	insertIndex := int64(0)
	batchUpdateRequest := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{
				AddSheet: &sheets.AddSheetRequest{
					Properties: &sheets.SheetProperties{
						Title: sheetName,
						Index: insertIndex,
					},
				},
			},
		},
	}

	batchUpdateResp, err := w.service.Spreadsheets.BatchUpdate(w.spreadsheetID, batchUpdateRequest).Context(ctx).Do()
	if err != nil {
		return "", 0, fmt.Errorf("failed to create sheet: %w", err)
	}

	var sheetID int64
	if len(batchUpdateResp.Replies) > 0 && batchUpdateResp.Replies[0].AddSheet != nil {
		sheetID = batchUpdateResp.Replies[0].AddSheet.Properties.SheetId
	}

	log.Printf("Created sheet '%s' with ID %d at index %d\n", sheetName, sheetID, insertIndex)

	range_ := fmt.Sprintf("%s!A1", sheetName)
	valueRange := &sheets.ValueRange{
		Values: BuildValues(records, source, note),
	}

	_, err = w.service.Spreadsheets.Values.Update(w.spreadsheetID, range_, valueRange).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return "", 0, fmt.Errorf("failed to write to sheet: %w", err)
	}

	log.Printf("Successfully wrote %d records to sheet '%s'\n", len(records), sheetName)
	return sheetName, sheetID, nil
}

// BuildValues lays records out as rows: an optional metadata row, the
// header (union of record keys) and one row per record
func BuildValues(records []models.Record, source string, note string) [][]interface{} {
	var values [][]interface{}

	if source != "" || note != "" {
		metadataRow := []interface{}{"URL", source}
		if note != "" {
			metadataRow = append(metadataRow, "Notes", note)
		}
		values = append(values, metadataRow)
	}

	keys := models.Keys(records)
	header := make([]interface{}, len(keys))
	for i, k := range keys {
		header[i] = k
	}
	values = append(values, header)

	for _, r := range records {
		row := make([]interface{}, len(keys))
		for i, k := range keys {
			row[i] = cellValue(r[k])
		}
		values = append(values, row)
	}
	return values
}

// cellValue keeps scalars typed so Sheets stores numbers as numbers
func cellValue(v any) interface{} {
	switch t := v.(type) {
	case nil:
		return ""
	case string, bool, int, int64, float64:
		return t
	default:
		return storage.FormatValue(t)
	}
}

// sourceOf returns the first page URL of records, if any
func sourceOf(records []models.Record) string {
	if len(records) == 0 {
		return ""
	}
	url, _ := records[0][models.KeyPageURL].(string)
	return url
}

// sanitizeSheetName removes invalid characters from sheet name
func sanitizeSheetName(name string) string {
	// Google Sheets sheet names cannot contain: / \ ? * [ ]
	invalidChars := []string{"/", "\\", "?", "*", "[", "]"}
	result := name
	for _, char := range invalidChars {
		result = strings.ReplaceAll(result, char, "_")
	}
	result = strings.TrimSpace(result)
	if result == "" {
		result = "Sheet1"
	}
	return result
}

// SheetURL returns a URL opening a specific sheet of a spreadsheet
func SheetURL(spreadsheetID string, sheetID int64) string {
	return fmt.Sprintf("https://docs.google.com/spreadsheets/d/%s/edit#gid=%d", spreadsheetID, sheetID)
}

// ExtractSpreadsheetID extracts the spreadsheet ID from a Google Sheets URL
func ExtractSpreadsheetID(url string) string {
	// https://docs.google.com/spreadsheets/d/SPREADSHEET_ID/edit?usp=sharing
	parts := strings.Split(url, "/d/")
	if len(parts) < 2 {
		return ""
	}

	idPart := parts[1]
	if idx := strings.Index(idPart, "/"); idx != -1 {
		idPart = idPart[:idx]
	}
	if idx := strings.Index(idPart, "?"); idx != -1 {
		idPart = idPart[:idx]
	}

	return strings.TrimSpace(idPart)
}
