package models

import (
	"time"
)

// FeedStatus is the lifecycle state of one import.
type FeedStatus string

const (
	StatusPending    FeedStatus = "pending"
	StatusAcquiring  FeedStatus = "acquiring"
	StatusParsing    FeedStatus = "parsing"
	StatusValidating FeedStatus = "validating"
	StatusPersisting FeedStatus = "persisting"
	StatusActive     FeedStatus = "active"
	StatusFailed     FeedStatus = "failed"
	StatusStale      FeedStatus = "stale"
)

// Terminal reports whether no further transition is expected. Stale is
// terminal for the feed itself even though its rows remain queryable.
func (s FeedStatus) Terminal() bool {
	return s == StatusActive || s == StatusFailed || s == StatusStale
}

// SourceType selects how a feed archive is acquired.
type SourceType string

const (
	SourceUpload SourceType = "upload"
	SourceURL    SourceType = "url"
	SourceFTP    SourceType = "ftp"
)

// FTPSource locates a feed archive on an FTP server.
type FTPSource struct {
	Host     string
	User     string
	Password string
	Path     string
}

// Source describes where a feed archive comes from. Exactly one of
// UploadPath, URL or FTP is consulted, selected by Type.
type Source struct {
	Type       SourceType
	UploadPath string
	URL        string
	FTP        *FTPSource
}

// Origin returns a storable reference for auditing, never including
// credentials.
func (s Source) Origin() string {
	switch s.Type {
	case SourceUpload:
		return s.UploadPath
	case SourceURL:
		return s.URL
	case SourceFTP:
		if s.FTP == nil {
			return ""
		}
		return "ftp://" + s.FTP.Host + "/" + s.FTP.Path
	}
	return ""
}

// Feed is one import event of a logical feed name.
type Feed struct {
	ID         int64
	Name       string
	OriginType SourceType
	OriginRef  string
	ImportedOn time.Time
	ValidFrom  *time.Time
	ValidUntil *time.Time
	Status     FeedStatus
	Version    string
	LastError  string
}

// ImportResult is what StartImport hands back to the caller: the terminal
// status, per-table row counts (zero-valued when nothing was persisted) and
// the full validation report, if validation ran.
type ImportResult struct {
	FeedID int64
	Name   string
	Status FeedStatus
	Counts map[string]int
	Report *Report
}

// MappingEntityType selects which GTFS entities to map to the booking system.
type MappingEntityType string

const (
	MapRoutes    MappingEntityType = "routes"
	MapStops     MappingEntityType = "stops"
	MapSchedules MappingEntityType = "schedules"
	MapFares     MappingEntityType = "fares"
)

// MappingRecord links one GTFS entity to one booking-system entity.
type MappingRecord struct {
	FeedID            int64
	GTFSEntityType    MappingEntityType
	GTFSEntityID      string
	BookingEntityType string
	BookingEntityID   int64
	MappingData       string
}

// MappingResult reports one MapEntities call. Mapping is best effort:
// Unmapped entries do not undo the Mapped ones.
type MappingResult struct {
	FeedID     int64
	EntityType MappingEntityType
	Mapped     int
	Unmapped   []UnmappableEntityError
}
