// Package sheet reads and writes person rosters as xlsx workbooks.
package sheet

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"registry-service/internal/domain/person"
	"registry-service/internal/rut"
)

const exportSheet = "Personas"

var ErrMissingRUTColumn = errors.New("rut column not found in header")

type column int

const (
	colUnknown column = iota
	colRUT
	colDV
	colFirstName
	colLastName
	colEmail
	colPhone
	colBirthDate
	colRegion
	colCommune
)

var headerAliases = map[string]column{
	"rut":              colRUT,
	"run":              colRUT,
	"dv":               colDV,
	"digito":           colDV,
	"nombres":          colFirstName,
	"nombre":           colFirstName,
	"first_name":       colFirstName,
	"apellidos":        colLastName,
	"apellido":         colLastName,
	"last_name":        colLastName,
	"email":            colEmail,
	"correo":           colEmail,
	"telefono":         colPhone,
	"teléfono":         colPhone,
	"phone":            colPhone,
	"fecha_nacimiento": colBirthDate,
	"fecha nacimiento": colBirthDate,
	"birth_date":       colBirthDate,
	"region":           colRegion,
	"región":           colRegion,
	"comuna":           colCommune,
	"commune":          colCommune,
}

var exportHeader = []interface{}{
	"RUT", "Nombres", "Apellidos", "Email", "Teléfono", "Fecha nacimiento", "Región", "Comuna",
}

// ReadPersons parses the first worksheet of an xlsx workbook. Columns are
// matched by header name; unrecognized columns are kept as attributes.
func ReadPersons(r io.Reader) ([]person.ImportRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	sheetName := sheets[0]

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrMissingRUTColumn
	}

	columns, names := mapHeader(rows[0])
	hasRUT := false
	birthCol := -1
	for i, c := range columns {
		switch c {
		case colRUT:
			hasRUT = true
		case colBirthDate:
			birthCol = i
		}
	}
	if !hasRUT {
		return nil, ErrMissingRUTColumn
	}

	result := make([]person.ImportRow, 0, len(rows)-1)
	for i, cells := range rows[1:] {
		if isBlank(cells) {
			continue
		}
		row := parseRow(i+2, cells, columns, names)
		if birthCol >= 0 && row.BirthDate != "" {
			if date, ok := dateCell(f, sheetName, birthCol+1, row.Line); ok {
				row.BirthDate = date
			}
		}
		result = append(result, row)
	}
	return result, nil
}

// dateCell reads a numeric cell as an Excel date serial. Displayed values
// depend on the cell's number format, so the raw serial is used instead.
func dateCell(f *excelize.File, sheetName string, col, line int) (string, bool) {
	cell, err := excelize.CoordinatesToCellName(col, line)
	if err != nil {
		return "", false
	}
	cellType, err := f.GetCellType(sheetName, cell)
	if err != nil || (cellType != excelize.CellTypeUnset && cellType != excelize.CellTypeNumber) {
		return "", false
	}
	raw, err := f.GetCellValue(sheetName, cell, excelize.Options{RawCellValue: true})
	if err != nil {
		return "", false
	}
	serial, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || serial < 1 {
		return "", false
	}

	date1904 := false
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		date1904 = *props.Date1904
	}
	t, err := excelize.ExcelDateToTime(serial, date1904)
	if err != nil {
		return "", false
	}
	return t.Format(person.DateLayout), true
}

func mapHeader(header []string) ([]column, []string) {
	columns := make([]column, len(header))
	names := make([]string, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		names[i] = name
		columns[i] = headerAliases[name]
	}
	return columns, names
}

func parseRow(line int, cells []string, columns []column, names []string) person.ImportRow {
	row := person.ImportRow{Line: line}
	var dv string

	for i, raw := range cells {
		if i >= len(columns) {
			break
		}
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}

		switch columns[i] {
		case colRUT:
			row.RUT = value
		case colDV:
			dv = value
		case colFirstName:
			row.FirstName = value
		case colLastName:
			row.LastName = value
		case colEmail:
			row.Email = value
		case colPhone:
			row.Phone = value
		case colBirthDate:
			row.BirthDate = value
		case colRegion:
			row.Region = value
		case colCommune:
			row.Commune = value
		default:
			if names[i] == "" {
				continue
			}
			if row.Attributes == nil {
				row.Attributes = make(map[string]interface{})
			}
			row.Attributes[names[i]] = value
		}
	}

	if dv != "" && row.RUT != "" {
		row.RUT = row.RUT + "-" + dv
	}
	return row
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// WritePersons renders persons as a workbook with one header row.
func WritePersons(persons []person.Person) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), exportSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(exportHeader))
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(exportSheet, "A1", lastCol+"1", style); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	for i, p := range persons {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}

		formatted, ok := rut.Format(p.RUT)
		if !ok {
			formatted = p.RUT
		}
		birthDate := ""
		if p.BirthDate != nil {
			birthDate = p.BirthDate.Format(person.DateLayout)
		}

		values := []interface{}{
			formatted, p.FirstName, p.LastName, p.Email, p.Phone, birthDate, p.Region, p.Commune,
		}
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
