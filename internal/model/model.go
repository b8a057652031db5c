// Package model defines the wire payloads and beat-level types shared by the
// ingest pipeline, the store adapter, and the post-processor.
package model

// ArtifactType labels the classifier's verdict for one RR interval.
type ArtifactType string

const (
	ArtifactNone           ArtifactType = "none"
	ArtifactEctopic        ArtifactType = "ectopic"
	ArtifactMissed         ArtifactType = "missed"
	ArtifactMissedInserted ArtifactType = "missed_inserted"
	ArtifactExtra          ArtifactType = "extra"
	ArtifactExtraAbsorbed  ArtifactType = "extra_absorbed"
	ArtifactLongShort      ArtifactType = "longshort"
)

// Ingest paths for raw beats.
const (
	PathRealtime = "realtime"
	PathBatch    = "batch"
)

// BeatsPayload is the body of POST /beats: one relay frame carrying zero or
// more RR intervals laid head-to-tail from Timestamp.
// RRIntervals is a pointer so a missing field (400) is distinguishable from
// an empty array (accepted, zero beats).
type BeatsPayload struct {
	Source      string     `json:"source,omitempty"`
	Device      string     `json:"device" validate:"required"`
	Timestamp   *int64     `json:"timestamp,omitempty"`
	HeartRate   *float64   `json:"heartRate,omitempty"`
	RRIntervals *[]float64 `json:"rrIntervals" validate:"required"`
	Posture     string     `json:"posture,omitempty"`
	RSSI        *int       `json:"rssi,omitempty"`
}

// BatchBeat is one retroactively uploaded beat. Timestamp is mandatory; the
// handler rejects the whole request before any write when one is missing.
type BatchBeat struct {
	Timestamp   *int64    `json:"timestamp"`
	HeartRate   *float64  `json:"heartRate,omitempty"`
	RRIntervals []float64 `json:"rrIntervals,omitempty"`
}

// BatchPayload is the body of POST /beats/batch.
type BatchPayload struct {
	Source string       `json:"source,omitempty"`
	Device string       `json:"device" validate:"required"`
	Beats  *[]BatchBeat `json:"beats" validate:"required"`
}

// BatchResult summarizes a batch upload: Received = New + Duplicates.
type BatchResult struct {
	Received   int `json:"received"`
	New        int `json:"new"`
	Duplicates int `json:"duplicates"`
}

// PosturePayload is the body of POST /posture.
type PosturePayload struct {
	Source              string   `json:"source,omitempty"`
	Device              string   `json:"device,omitempty"`
	FromPosture         string   `json:"fromPosture" validate:"required"`
	ToPosture           string   `json:"toPosture" validate:"required"`
	FromDurationSeconds *float64 `json:"fromDurationSeconds,omitempty"`
	Confidence          *float64 `json:"confidence,omitempty"`
}

// StatusPayload is the body of POST /status.
type StatusPayload struct {
	Source      string         `json:"source,omitempty"`
	Device      string         `json:"device,omitempty"`
	Category    string         `json:"category" validate:"required"`
	Event       string         `json:"event" validate:"required"`
	Description string         `json:"description,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// RawBeat is one R-peak written to the raw measurement.
type RawBeat struct {
	TS     int64   // ms since epoch
	RR     float64 // ms; 0 means absent (synthetic beats only)
	HR     float64 // device-reported bpm; 0 means absent
	Source string
	Path   string // realtime | batch
}

// StoredBeat is a raw beat read back from the store, including any canonical
// fields the post-processor has merged in.
type StoredBeat struct {
	TS       int64
	RR       float64 // 0 when rr_interval is absent (synthetic beat)
	HR       float64
	RRClean  float64
	Artifact ArtifactType // "" when not yet classified
}

// CanonicalUpdate merges classifier output into the raw measurement at TS.
// When Synthetic is true the point did not previously exist (inserted half of
// a missed beat) and carries no rr_interval.
type CanonicalUpdate struct {
	TS        int64
	RRClean   float64
	HRClean   float64
	Artifact  ArtifactType
	Synthetic bool
}

// RealtimePoint is one per-beat HRV sample for the live dashboard.
type RealtimePoint struct {
	TS    int64
	RMSSD float64
	SDNN  float64
	PNN50 float64
	HR    float64
}

// Summary is a five-minute HRV aggregate. TS is the window end, always a
// multiple of the summary interval.
type Summary struct {
	TS            int64
	RMSSD         float64
	SDNN          float64
	PNN50         float64
	HeartRate     float64
	SampleCount   int
	ArtifactCount int
	Posture       string // optional tag
}

// DeviceSnapshot is the per-device slice of a status broadcast.
type DeviceSnapshot struct {
	Device      string    `json:"device"`
	TotalBeats  int64     `json:"totalBeats"`
	LastBeatTS  int64     `json:"lastBeatTs,omitempty"`
	LastRMSSD   float64   `json:"lastRmssd,omitempty"`
	RMSSDSeries []float64 `json:"rmssdSeries,omitempty"`
	LastPosture string    `json:"lastPosture,omitempty"`
}

// StatusSnapshot is the full state pushed to SSE listeners.
type StatusSnapshot struct {
	Timestamp int64            `json:"timestamp"`
	UptimeSec int64            `json:"uptimeSec"`
	Devices   []DeviceSnapshot `json:"devices"`
}
