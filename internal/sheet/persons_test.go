package sheet

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"registry-service/internal/domain/person"
)

func buildWorkbook(t *testing.T, rows [][]interface{}) *bytes.Reader {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheetName := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		values := row
		require.NoError(t, f.SetSheetRow(sheetName, cell, &values))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return bytes.NewReader(buf.Bytes())
}

func TestReadPersonsSpanishHeaders(t *testing.T) {
	r := buildWorkbook(t, [][]interface{}{
		{"RUT", "DV", "Nombres", "Apellidos", "Correo", "Fecha Nacimiento", "Comuna", "Unidad"},
		{"12345678", "5", "Juan", "Pérez", "juan@example.cl", "04-07-2010", "Ñuñoa", "Tropa"},
		{},
		{"10000013", "k", "Ana", "Soto", "", "", "Maipú", ""},
	})

	rows, err := ReadPersons(r)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, "12345678-5", rows[0].RUT)
	assert.Equal(t, "Juan", rows[0].FirstName)
	assert.Equal(t, "Pérez", rows[0].LastName)
	assert.Equal(t, "juan@example.cl", rows[0].Email)
	assert.Equal(t, "04-07-2010", rows[0].BirthDate)
	assert.Equal(t, "Ñuñoa", rows[0].Commune)
	assert.Equal(t, map[string]interface{}{"unidad": "Tropa"}, rows[0].Attributes)

	assert.Equal(t, 4, rows[1].Line)
	assert.Equal(t, "10000013-k", rows[1].RUT)
	assert.Nil(t, rows[1].Attributes)
}

func TestReadPersonsDateCells(t *testing.T) {
	r := buildWorkbook(t, [][]interface{}{
		{"RUT", "Nombres", "Apellidos", "Fecha Nacimiento"},
		{"12345678-5", "Juan", "Pérez", time.Date(2010, time.July, 4, 0, 0, 0, 0, time.UTC)},
		{"10000013-K", "Ana", "Soto", "21/03/2009"},
	})

	rows, err := ReadPersons(r)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "2010-07-04", rows[0].BirthDate)
	assert.Equal(t, "21/03/2009", rows[1].BirthDate)

	parsed, err := person.ParseDate(rows[0].BirthDate)
	require.NoError(t, err)
	assert.Equal(t, time.July, parsed.Month())
	assert.Equal(t, 4, parsed.Day())
}

func TestReadPersonsMissingRUTColumn(t *testing.T) {
	r := buildWorkbook(t, [][]interface{}{
		{"Nombres", "Apellidos"},
		{"Juan", "Pérez"},
	})

	_, err := ReadPersons(r)
	assert.True(t, errors.Is(err, ErrMissingRUTColumn))
}

func TestReadPersonsRejectsGarbage(t *testing.T) {
	_, err := ReadPersons(bytes.NewReader([]byte("not a workbook")))
	assert.Error(t, err)
}

func TestWritePersonsCanBeReimported(t *testing.T) {
	birth := time.Date(2012, time.May, 20, 0, 0, 0, 0, time.UTC)
	persons := []person.Person{
		{RUT: "123456785", FirstName: "Juan", LastName: "Pérez", Email: "juan@example.cl", BirthDate: &birth, Region: "Metropolitana", Commune: "Ñuñoa"},
		{RUT: "10000013K", FirstName: "Ana", LastName: "Soto"},
	}

	content, err := WritePersons(persons)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(content))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{exportSheet}, f.GetSheetList())

	rutCell, err := f.GetCellValue(exportSheet, "A2")
	require.NoError(t, err)
	assert.Equal(t, "12.345.678-5", rutCell)

	rows, err := ReadPersons(bytes.NewReader(content))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "12.345.678-5", rows[0].RUT)
	assert.Equal(t, "2012-05-20", rows[0].BirthDate)
	assert.Equal(t, "Metropolitana", rows[0].Region)
	assert.Equal(t, "10.000.013-K", rows[1].RUT)
	assert.Empty(t, rows[1].Email)
}
