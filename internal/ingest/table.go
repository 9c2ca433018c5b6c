package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/raaihank/doc-sentinel/internal/model"
	"github.com/segmentio/parquet-go"
)

// loadCSV reads a header row and stores every record as a table block
// holding the JSON object of the row, in header order
func loadCSV(doc *model.Document, data []byte) error {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read CSV record: %w", err)
		}
		if len(record) == 1 && isBlank(record[0]) {
			continue
		}

		values := make([]any, len(header))
		for i := range header {
			if i < len(record) {
				values[i] = record[i]
			}
		}
		row, err := encodeRow(header, values)
		if err != nil {
			return err
		}
		doc.AddBlock(model.BlockTable, row)
	}
	return nil
}

// loadJSON stores each element of a top-level array, or the single value,
// as a table block
func loadJSON(doc *model.Document, data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}

	if trimmed[0] != '[' {
		return addJSONBlock(doc, trimmed)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return fmt.Errorf("invalid JSON array: %w", err)
	}
	for _, item := range items {
		if err := addJSONBlock(doc, item); err != nil {
			return err
		}
	}
	return nil
}

// loadJSONLines stores each JSON line as a table block
func loadJSONLines(doc *model.Document, data []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 16<<20)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if err := addJSONBlock(doc, raw); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return scanner.Err()
}

func addJSONBlock(doc *model.Document, raw []byte) error {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	doc.AddBlock(model.BlockTable, buf.String())
	return nil
}

// loadParquet stores each row as a table block keyed by column path
func loadParquet(doc *model.Document, data []byte) error {
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("failed to open parquet file: %w", err)
	}

	reader := parquet.NewReader(file)
	defer reader.Close()

	columns := file.Schema().Columns()
	names := make([]string, len(columns))
	for i, path := range columns {
		names[i] = strings.Join(path, ".")
	}

	rows := make([]parquet.Row, 64)
	for {
		n, err := reader.ReadRows(rows)
		for _, row := range rows[:n] {
			values := make([]any, len(names))
			for _, v := range row {
				col := v.Column()
				if col < 0 || col >= len(values) || values[col] != nil {
					continue
				}
				values[col] = parquetValue(v)
			}
			encoded, err := encodeRow(names, values)
			if err != nil {
				return err
			}
			doc.AddBlock(model.BlockTable, encoded)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}
}

func parquetValue(v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return v.Int32()
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return v.Float()
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return v.String()
	}
}

// encodeRow renders keys and values as a JSON object preserving key order
func encodeRow(keys []string, values []any) (string, error) {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return "", err
		}
		val, err := json.Marshal(values[i])
		if err != nil {
			return "", err
		}
		sb.Write(key)
		sb.WriteByte(':')
		sb.Write(val)
	}
	sb.WriteByte('}')
	return sb.String(), nil
}
