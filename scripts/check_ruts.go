// Sends the RUT column of a CSV roster to the registry service and prints
// the rows that do not validate. Usage:
//
//	go run check_ruts.go <path-to-csv> [column-name]
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	registryServiceURL = "http://localhost:8080"
	batchSize          = 500
)

type rutCheck struct {
	Input      string `json:"input"`
	Valid      bool   `json:"valid"`
	Formatted  string `json:"formatted"`
	CheckDigit string `json:"check_digit"`
	Reason     string `json:"reason"`
}

type csvRUT struct {
	Line  int
	Value string
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run check_ruts.go <path-to-csv> [column-name]")
		os.Exit(1)
	}

	column := "rut"
	if len(os.Args) > 2 {
		column = strings.ToLower(os.Args[2])
	}

	values, err := readCSV(os.Args[1], column)
	if err != nil {
		fmt.Printf("Error reading CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Read %d values from column %q\n", len(values), column)

	client := &http.Client{Timeout: 30 * time.Second}
	invalid := 0
	for start := 0; start < len(values); start += batchSize {
		end := start + batchSize
		if end > len(values) {
			end = len(values)
		}

		checks, err := checkBatch(client, values[start:end])
		if err != nil {
			fmt.Printf("Error checking rows %d-%d: %v\n", values[start].Line, values[end-1].Line, err)
			os.Exit(1)
		}

		for i, check := range checks {
			if check.Valid {
				continue
			}
			invalid++
			row := values[start+i]
			hint := ""
			if check.CheckDigit != "" {
				hint = fmt.Sprintf(" (expected check digit %s)", check.CheckDigit)
			}
			fmt.Printf("  line %-5d %-14s %s%s\n", row.Line, row.Value, check.Reason, hint)
		}
	}

	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("  Total:   %d\n", len(values))
	fmt.Printf("  Valid:   %d\n", len(values)-invalid)
	fmt.Printf("  Invalid: %d\n", invalid)
	if invalid > 0 {
		os.Exit(2)
	}
}

func readCSV(path, column string) ([]csvRUT, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	index := -1
	for i, h := range header {
		if strings.ToLower(strings.TrimSpace(h)) == column {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, fmt.Errorf("column %q not found", column)
	}

	var values []csvRUT
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}
		line++

		if index >= len(record) || strings.TrimSpace(record[index]) == "" {
			continue
		}
		values = append(values, csvRUT{Line: line, Value: strings.TrimSpace(record[index])})
	}
	return values, nil
}

func checkBatch(client *http.Client, values []csvRUT) ([]rutCheck, error) {
	ruts := make([]string, len(values))
	for i, v := range values {
		ruts[i] = v.Value
	}

	body, err := json.Marshal(map[string][]string{"ruts": ruts})
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(registryServiceURL+"/api/v1/rut/validate/batch", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var payload struct {
		Data []rutCheck `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(payload.Data) != len(values) {
		return nil, fmt.Errorf("expected %d results, got %d", len(values), len(payload.Data))
	}
	return payload.Data, nil
}
