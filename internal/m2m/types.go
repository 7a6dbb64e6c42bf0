package m2m

import (
	"encoding/json"
)

// envelope is the wrapper every API response arrives in. A non-empty
// errorCode marks a protocol error even when the HTTP status is 200.
type envelope struct {
	RequestID    int64           `json:"requestId"`
	Version      string          `json:"version"`
	ErrorCode    string          `json:"errorCode"`
	ErrorMessage string          `json:"errorMessage"`
	Data         json.RawMessage `json:"data"`
}

type loginTokenRequest struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

// Coordinate is a lat/lon pair as the API spells it.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// GeoJSON carries a geometry verbatim; coordinates stay raw so arbitrary
// polygon nesting passes through untouched.
type GeoJSON struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// SpatialFilter restricts a search to an area, either by bounding box
// (filterType "mbr") or by geometry (filterType "geojson").
type SpatialFilter struct {
	FilterType string      `json:"filterType"`
	GeoJSON    *GeoJSON    `json:"geoJson,omitempty"`
	LowerLeft  *Coordinate `json:"lowerLeft,omitempty"`
	UpperRight *Coordinate `json:"upperRight,omitempty"`
}

// AcquisitionFilter bounds a search by acquisition date, YYYY-MM-DD.
type AcquisitionFilter struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// CloudCoverFilter bounds a search by scene cloud cover percentage.
type CloudCoverFilter struct {
	Max            int  `json:"max"`
	IncludeUnknown bool `json:"includeUnknown"`
}

type sceneFilter struct {
	SpatialFilter     *SpatialFilter     `json:"spatialFilter,omitempty"`
	AcquisitionFilter *AcquisitionFilter `json:"acquisitionFilter,omitempty"`
	CloudCoverFilter  *CloudCoverFilter  `json:"cloudCoverFilter,omitempty"`
}

type sceneSearchRequest struct {
	DatasetName    string       `json:"datasetName"`
	MaxResults     int          `json:"maxResults"`
	StartingNumber int          `json:"startingNumber,omitempty"`
	SceneFilter    *sceneFilter `json:"sceneFilter,omitempty"`
}

type sceneSearchResponse struct {
	Results         []SceneResult `json:"results"`
	RecordsReturned int           `json:"recordsReturned"`
	TotalHits       int           `json:"totalHits"`
	StartingNumber  int           `json:"startingNumber"`
	NextRecord      int           `json:"nextRecord"`
}

// TemporalCoverage is the scene's acquisition window.
type TemporalCoverage struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// SceneResult is one catalog hit from scene-search.
type SceneResult struct {
	EntityID         string            `json:"entityId"`
	DisplayID        string            `json:"displayId"`
	CloudCover       float64           `json:"cloudCover"`
	SpatialCoverage  *GeoJSON          `json:"spatialCoverage"`
	TemporalCoverage *TemporalCoverage `json:"temporalCoverage"`
	PublishDate      string            `json:"publishDate"`
}

type sceneListAddRequest struct {
	ListID      string   `json:"listId"`
	DatasetName string   `json:"datasetName"`
	IDField     string   `json:"idField"`
	EntityIDs   []string `json:"entityIds"`
}

type sceneListRemoveRequest struct {
	ListID string `json:"listId"`
}

type downloadOptionsRequest struct {
	DatasetName string `json:"datasetName"`
	ListID      string `json:"listId"`
}

// DownloadOption is one orderable product. Scene-level products carry the
// individual band files as secondary downloads.
type DownloadOption struct {
	ID                 string           `json:"id"`
	EntityID           string           `json:"entityId"`
	DisplayID          string           `json:"displayId"`
	Available          bool             `json:"available"`
	DownloadSystem     string           `json:"downloadSystem"`
	FileSize           int64            `json:"filesize"`
	ProductName        string           `json:"productName"`
	SecondaryDownloads []DownloadOption `json:"secondaryDownloads,omitempty"`
}

// DownloadRef selects one product of one entity for download-request.
type DownloadRef struct {
	EntityID  string `json:"entityId"`
	ProductID string `json:"productId"`
}

type downloadRequest struct {
	Downloads []DownloadRef `json:"downloads"`
	Label     string        `json:"label"`
}

// PreparedDownload is a download the service has staged: the URL is directly
// fetchable once present.
type PreparedDownload struct {
	DownloadID int64  `json:"downloadId"`
	EntityID   string `json:"entityId"`
	DisplayID  string `json:"displayId"`
	URL        string `json:"url"`
	FileSize   int64  `json:"filesize"`
}

// DownloadRequestResult splits the response of download-request into URLs
// that are ready now and orders still being prepared.
type DownloadRequestResult struct {
	Available []PreparedDownload `json:"availableDownloads"`
	Preparing []PreparedDownload `json:"preparingDownloads"`
}

type downloadRetrieveRequest struct {
	Label string `json:"label"`
}

type downloadRetrieveResponse struct {
	Available []PreparedDownload `json:"available"`
	Requested []PreparedDownload `json:"requested"`
	QueueSize int                `json:"queueSize"`
}
