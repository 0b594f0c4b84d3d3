package types

// CSV persistence for the record shapes. All artifacts are plain CSV with a
// header row; the metadata column is JSON-encoded.

import (
	"encoding/csv"
	"io"
	"strings"

	"go.afterglow.org/research/go/skerr"
	"go.afterglow.org/research/go/util"
)

var (
	// sharedColumns identify a record in coder-facing extracts.
	sharedColumns = []string{"source", "data_id", "timestamp", "raw_text", "url"}
	codingColumns = []string{"primary_code", "secondary_code", "confidence", "notes"}
	tagColumns    = []string{"temporal_period", "resolution_status", "root_cause_category", "tag_reasoning"}

	// RawHeader is the canonical column order of raw record CSVs.
	RawHeader = []string{"source", "data_id", "timestamp", "raw_text", "author_id", "url", "metadata"}

	// CoderHeader is the column order of a single coder's extract.
	CoderHeader = concat(sharedColumns, codingColumns)

	// PilotHeader is the column order of the pilot master and merged files.
	PilotHeader = concat(sharedColumns, prefixed("coder1_"), prefixed("coder2_"))

	// CodedHeader is the column order of a fully coded dataset.
	CodedHeader = concat(RawHeader, prefixed("coder1_"), prefixed("coder2_"))

	// TaggedHeader is the column order of a tagged dataset.
	TaggedHeader = concat(CodedHeader, tagColumns)
)

func prefixed(prefix string) []string {
	out := make([]string, 0, len(codingColumns))
	for _, c := range codingColumns {
		out = append(out, prefix+c)
	}
	return out
}

func concat(headers ...[]string) []string {
	out := []string{}
	for _, h := range headers {
		out = append(out, h...)
	}
	return out
}

// WriteRecords writes records as a raw CSV.
func WriteRecords(path string, records []Record) error {
	return writeCSV(path, RawHeader, len(records), func(i int) ([]string, error) {
		return rawRow(records[i])
	})
}

// ReadRecords reads a raw CSV.
func ReadRecords(path string) ([]Record, error) {
	rows, err := readCSV(path, RawHeader)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		r, err := parseRawColumns(row, path)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// WriteCoderRows writes a single coder's extract.
func WriteCoderRows(path string, rows []CoderRow) error {
	return writeCSV(path, CoderHeader, len(rows), func(i int) ([]string, error) {
		r := rows[i]
		return concat([]string{string(r.Source), r.DataID, r.Timestamp, r.RawText, r.URL}, codingRow(r.Coding)), nil
	})
}

// ReadCoderRows reads a single coder's extract.
func ReadCoderRows(path string) ([]CoderRow, error) {
	rows, err := readCSV(path, CoderHeader)
	if err != nil {
		return nil, err
	}
	out := make([]CoderRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, CoderRow{
			Source:    Source(row[0]),
			DataID:    row[1],
			Timestamp: row[2],
			RawText:   row[3],
			URL:       row[4],
			Coding:    parseCodingColumns(row[5:9]),
		})
	}
	return out, nil
}

// WritePilotRecords writes a pilot master or merged file.
func WritePilotRecords(path string, rows []PilotRecord) error {
	return writeCSV(path, PilotHeader, len(rows), func(i int) ([]string, error) {
		r := rows[i]
		return concat([]string{string(r.Source), r.DataID, r.Timestamp, r.RawText, r.URL}, codingRow(r.Coder1), codingRow(r.Coder2)), nil
	})
}

// ReadPilotRecords reads a pilot master or merged file.
func ReadPilotRecords(path string) ([]PilotRecord, error) {
	rows, err := readCSV(path, PilotHeader)
	if err != nil {
		return nil, err
	}
	out := make([]PilotRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, PilotRecord{
			Source:    Source(row[0]),
			DataID:    row[1],
			Timestamp: row[2],
			RawText:   row[3],
			URL:       row[4],
			Coder1:    parseCodingColumns(row[5:9]),
			Coder2:    parseCodingColumns(row[9:13]),
		})
	}
	return out, nil
}

// WriteCodedRecords writes a coded dataset.
func WriteCodedRecords(path string, records []CodedRecord) error {
	return writeCSV(path, CodedHeader, len(records), func(i int) ([]string, error) {
		return codedRow(records[i])
	})
}

// ReadCodedRecords reads a coded dataset. A raw CSV is also accepted; its
// coding columns read as blank.
func ReadCodedRecords(path string) ([]CodedRecord, error) {
	rows, err := readCSVAnyHeader(path, CodedHeader, RawHeader)
	if err != nil {
		return nil, err
	}
	out := make([]CodedRecord, 0, len(rows))
	for _, row := range rows {
		r, err := parseRawColumns(row[:len(RawHeader)], path)
		if err != nil {
			return nil, err
		}
		cr := CodedRecord{Record: r}
		if len(row) == len(CodedHeader) {
			cr.Coder1 = parseCodingColumns(row[7:11])
			cr.Coder2 = parseCodingColumns(row[11:15])
		}
		out = append(out, cr)
	}
	return out, nil
}

// WriteTaggedRecords writes a tagged dataset.
func WriteTaggedRecords(path string, records []TaggedRecord) error {
	return writeCSV(path, TaggedHeader, len(records), func(i int) ([]string, error) {
		r := records[i]
		coded, err := codedRow(r.CodedRecord)
		if err != nil {
			return nil, err
		}
		return concat(coded, []string{r.TemporalPeriod, r.ResolutionStatus, r.RootCauseCategory, r.TagReasoning}), nil
	})
}

// ReadTaggedRecords reads a tagged dataset.
func ReadTaggedRecords(path string) ([]TaggedRecord, error) {
	rows, err := readCSV(path, TaggedHeader)
	if err != nil {
		return nil, err
	}
	out := make([]TaggedRecord, 0, len(rows))
	for _, row := range rows {
		r, err := parseRawColumns(row[:len(RawHeader)], path)
		if err != nil {
			return nil, err
		}
		out = append(out, TaggedRecord{
			CodedRecord: CodedRecord{
				Record: r,
				Coder1: parseCodingColumns(row[7:11]),
				Coder2: parseCodingColumns(row[11:15]),
			},
			TemporalPeriod:    row[15],
			ResolutionStatus:  row[16],
			RootCauseCategory: row[17],
			TagReasoning:      row[18],
		})
	}
	return out, nil
}

func rawRow(r Record) ([]string, error) {
	md, err := EncodeMetadata(r.Metadata)
	if err != nil {
		return nil, skerr.Wrapf(err, "encoding metadata for %s", r.DataID)
	}
	return []string{string(r.Source), r.DataID, r.Timestamp, r.RawText, r.AuthorID, r.URL, md}, nil
}

func parseRawColumns(row []string, path string) (Record, error) {
	md, err := DecodeMetadata(row[6])
	if err != nil {
		return Record{}, skerr.Wrapf(err, "decoding metadata for %s in %s", row[1], path)
	}
	return Record{
		Source:    Source(row[0]),
		DataID:    row[1],
		Timestamp: row[2],
		RawText:   row[3],
		AuthorID:  row[4],
		URL:       row[5],
		Metadata:  md,
	}, nil
}

func codedRow(r CodedRecord) ([]string, error) {
	raw, err := rawRow(r.Record)
	if err != nil {
		return nil, err
	}
	return concat(raw, codingRow(r.Coder1), codingRow(r.Coder2)), nil
}

func codingRow(c CoderColumns) []string {
	return []string{c.PrimaryCode, c.SecondaryCode, c.Confidence, c.Notes}
}

func parseCodingColumns(cols []string) CoderColumns {
	return CoderColumns{
		PrimaryCode:   cols[0],
		SecondaryCode: cols[1],
		Confidence:    cols[2],
		Notes:         cols[3],
	}
}

func writeCSV(path string, header []string, n int, row func(int) ([]string, error)) error {
	return util.WithWriteFile(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return skerr.Wrap(err)
		}
		for i := 0; i < n; i++ {
			cols, err := row(i)
			if err != nil {
				return err
			}
			if err := cw.Write(cols); err != nil {
				return skerr.Wrap(err)
			}
		}
		cw.Flush()
		return skerr.Wrap(cw.Error())
	})
}

func readCSV(path string, header []string) ([][]string, error) {
	return readCSVAnyHeader(path, header)
}

// readCSVAnyHeader reads a CSV whose header must exactly match one of the
// given layouts. Extra or reordered columns are an error.
func readCSVAnyHeader(path string, headers ...[]string) ([][]string, error) {
	var rows [][]string
	err := util.WithReadFile(path, func(f io.Reader) error {
		var err error
		rows, err = csv.NewReader(f).ReadAll()
		return err
	})
	if err != nil {
		return nil, skerr.Wrapf(err, "reading %s", path)
	}
	if len(rows) == 0 {
		return nil, skerr.Fmt("%s is empty, expected a header row", path)
	}
	for _, h := range headers {
		if headerMatches(rows[0], h) {
			return rows[1:], nil
		}
	}
	return nil, skerr.Fmt("%s has header %q, expected %q", path, strings.Join(rows[0], ","), strings.Join(headers[0], ","))
}

func headerMatches(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
