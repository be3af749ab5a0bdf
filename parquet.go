package umbradb

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

// parquetRow is the flat on-file shape of one table row: the hex form of
// its key plus a JSON object mapping column names to values. Blobs travel
// base64-encoded inside the JSON.
type parquetRow struct {
	Key      string `parquet:"name=key, type=BYTE_ARRAY, convertedtype=UTF8"`
	DataJSON string `parquet:"name=data_json, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportParquet writes every table to <dir>/<table>.parquet, one
// snappy-compressed file per table.
func (db *Database) ExportParquet(dir string) error {
	for _, name := range db.ListTables() {
		table := db.tables[name]
		path := filepath.Join(dir, fmt.Sprintf("%s.parquet", name))
		if err := table.ExportParquet(path); err != nil {
			return err
		}
	}
	return nil
}

// ExportParquet writes the table's rows to a Parquet file at path, in
// ascending key order. An empty table produces a valid empty file.
func (t *Table) ExportParquet(path string) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create Parquet file %s: %w", path, err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 4)
	if err != nil {
		return fmt.Errorf("create Parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, kr := range t.GetAll() {
		data, err := json.Marshal(t.rowToJSONMap(kr.Row))
		if err != nil {
			return fmt.Errorf("marshal row %s: %w", kr.Key, err)
		}
		if err := pw.Write(&parquetRow{
			Key:      hex.EncodeToString(kr.Key),
			DataJSON: string(data),
		}); err != nil {
			return fmt.Errorf("write Parquet row %s: %w", kr.Key, err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finish Parquet file %s: %w", path, err)
	}
	logger.Info("exported table %s (%d rows) to %s", t.Name, t.Len(), path)
	return nil
}

// ImportParquet reads rows previously written by ExportParquet into the
// table. Every row passes the usual schema validation and key rules, so a
// file that disagrees with the table's columns is rejected.
func (t *Table) ImportParquet(path string) error {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return fmt.Errorf("open Parquet file %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(parquetRow), 4)
	if err != nil {
		return fmt.Errorf("create Parquet reader: %w", err)
	}
	defer pr.ReadStop()

	numRows := int(pr.GetNumRows())
	if numRows == 0 {
		return nil
	}
	fileRows := make([]parquetRow, numRows)
	if err := pr.Read(&fileRows); err != nil {
		return fmt.Errorf("read Parquet rows: %w", err)
	}

	// Decode and validate the whole file before touching the tree, so a
	// bad row anywhere leaves the table unchanged.
	staged := make([]KeyRow, 0, numRows)
	seen := make(map[string]bool, numRows)
	for _, fileRow := range fileRows {
		rawKey, err := hex.DecodeString(fileRow.Key)
		if err != nil {
			return fmt.Errorf("decode key %q: %w", fileRow.Key, err)
		}
		row, err := t.rowFromJSON([]byte(fileRow.DataJSON))
		if err != nil {
			return fmt.Errorf("row %s: %w", fileRow.Key, err)
		}
		if err := t.validateRow(row); err != nil {
			return err
		}
		key, err := t.effectiveKey(Key(rawKey), row)
		if err != nil {
			return err
		}
		if seen[string(key)] {
			return fmt.Errorf("table %s key %s appears twice in %s: %w", t.Name, key, path, ErrKeyExists)
		}
		if _, err := t.tree.get(key); err == nil {
			return fmt.Errorf("table %s key %s: %w", t.Name, key, ErrKeyExists)
		}
		seen[string(key)] = true
		staged = append(staged, KeyRow{Key: key, Row: row})
	}
	for _, kr := range staged {
		if err := t.tree.insert(kr.Key, kr.Row, false); err != nil {
			return fmt.Errorf("table %s key %s: %w", t.Name, kr.Key, err)
		}
	}
	logger.Info("imported %d rows into table %s from %s", numRows, t.Name, path)
	return nil
}

// rowToJSONMap converts a row to plain Go values keyed by column name.
func (t *Table) rowToJSONMap(row Row) map[string]interface{} {
	m := make(map[string]interface{}, len(t.Columns))
	for i, col := range t.Columns {
		v := row[i]
		switch v.Type {
		case TypeInt:
			m[col.Name] = v.Int
		case TypeFloat:
			m[col.Name] = v.Float
		case TypeText:
			m[col.Name] = v.Str
		case TypeBool:
			m[col.Name] = v.Bool
		case TypeBlob:
			if v.Bytes == nil {
				m[col.Name] = []byte{}
			} else {
				m[col.Name] = v.Bytes // encoding/json base64-encodes []byte
			}
		}
	}
	return m
}

// rowFromJSON rebuilds a typed row from a JSON object, using the table
// schema to pick each column's variant.
func (t *Table) rowFromJSON(data []byte) (Row, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("unmarshal row data: %w", err)
	}

	row := make(Row, len(t.Columns))
	for i, col := range t.Columns {
		raw, ok := m[col.Name]
		if !ok {
			return nil, fmt.Errorf("table %s column %s missing from row data: %w",
				t.Name, col.Name, ErrSchemaViolation)
		}
		v, err := valueFromJSON(raw, col.Type)
		if err != nil {
			return nil, fmt.Errorf("table %s column %s: %w", t.Name, col.Name, err)
		}
		row[i] = v
	}
	return row, nil
}

func valueFromJSON(raw interface{}, ct ColumnType) (Value, error) {
	switch ct {
	case TypeInt:
		num, ok := raw.(json.Number)
		if !ok {
			return Value{}, fmt.Errorf("%v is not an integer: %w", raw, ErrTypeMismatch)
		}
		n, err := num.Int64()
		if err != nil {
			return Value{}, fmt.Errorf("%v is not an integer: %w", raw, ErrTypeMismatch)
		}
		return NewIntValue(n), nil
	case TypeFloat:
		num, ok := raw.(json.Number)
		if !ok {
			return Value{}, fmt.Errorf("%v is not a number: %w", raw, ErrTypeMismatch)
		}
		f, err := num.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%v is not a number: %w", raw, ErrTypeMismatch)
		}
		return NewFloatValue(f), nil
	case TypeText:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("%v is not a string: %w", raw, ErrTypeMismatch)
		}
		return NewTextValue(s), nil
	case TypeBool:
		b, ok := raw.(bool)
		if !ok {
			return Value{}, fmt.Errorf("%v is not a boolean: %w", raw, ErrTypeMismatch)
		}
		return NewBoolValue(b), nil
	case TypeBlob:
		s, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("%v is not base64 blob data: %w", raw, ErrTypeMismatch)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return Value{}, fmt.Errorf("decode blob: %w", err)
		}
		return NewBlobValue(b), nil
	default:
		return Value{}, fmt.Errorf("unknown column type %d: %w", uint8(ct), ErrTypeMismatch)
	}
}
