package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/lox/aqicast/internal/features"
	"github.com/lox/aqicast/internal/models"
)

const (
	SourceArchiveImport = features.SourceArchive
	ftpTimeout          = 30 * time.Second
)

// ArchiveImport is the outcome of reading a historical IAQI export.
type ArchiveImport struct {
	Readings    []models.Reading
	Raw         []byte
	ParseErrors int
}

// LoadArchive reads a WAQI historical CSV export from a local path or an
// ftp:// URL. Each row becomes a reading stamped at local midnight.
func LoadArchive(location, stationID string, loc *time.Location) (*ArchiveImport, error) {
	var body []byte
	var err error
	if strings.HasPrefix(location, "ftp://") {
		body, err = fetchFTP(location)
	} else {
		body, err = os.ReadFile(location)
	}
	if err != nil {
		return nil, err
	}
	imp, err := ParseArchive(bytes.NewReader(body), stationID, loc)
	if err != nil {
		return nil, err
	}
	imp.Raw = body
	return imp, nil
}

func fetchFTP(location string) ([]byte, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse ftp url: %w", err)
	}
	host := u.Host
	if u.Port() == "" {
		host += ":21"
	}

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(ftpTimeout))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	user, pass := "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		return nil, fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		return nil, fmt.Errorf("ftp retr: %w", err)
	}
	defer resp.Close()

	body, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// ParseArchive decodes the export format: a header naming "date" and the
// pollutant columns, dates written as YYYY/M/D, and blank cells for missing
// values. Rows with an unparseable date are skipped and counted.
func ParseArchive(r io.Reader, stationID string, loc *time.Location) (*ArchiveImport, error) {
	if loc == nil {
		loc = time.UTC
	}
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read archive header: %w", err)
	}
	dateCol := -1
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
		if header[i] == "date" {
			dateCol = i
		}
	}
	if dateCol == -1 {
		return nil, fmt.Errorf("archive header has no date column: %v", header)
	}

	imp := &ArchiveImport{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}
		if dateCol >= len(rec) {
			imp.ParseErrors++
			continue
		}
		d, err := time.ParseInLocation("2006/1/2", strings.TrimSpace(rec[dateCol]), loc)
		if err != nil {
			imp.ParseErrors++
			continue
		}

		reading := models.Reading{
			StationID:  stationID,
			ObservedAt: d.UTC(),
			Source:     SourceArchiveImport,
		}
		for i, cell := range rec {
			if i == dateCol || i >= len(header) {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				imp.ParseErrors++
				continue
			}
			reading.Set(header[i], v)
		}
		reading.QualityFlags = QualityFlagsToJSON(ValidateReading(&reading))
		imp.Readings = append(imp.Readings, reading)
	}
	return imp, nil
}
