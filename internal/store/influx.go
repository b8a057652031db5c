package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"
	"github.com/rs/zerolog"

	"github.com/mtakala/polarhub/internal/model"
)

// requestTimeout bounds every store round-trip.
const requestTimeout = 5 * time.Second

// Influx is the InfluxDB 1.x implementation of Store. Writes use batch
// points at millisecond precision; queries use InfluxQL with epoch=ms.
type Influx struct {
	c   client.Client
	db  string
	log zerolog.Logger
}

// NewInflux connects to InfluxDB over HTTP. The database must already exist
// (CREATE DATABASE is issued once, idempotently).
func NewInflux(host string, port int, database string, log zerolog.Logger) (*Influx, error) {
	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:    fmt.Sprintf("http://%s:%d", host, port),
		Timeout: requestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("influx client: %w", err)
	}
	s := &Influx{c: c, db: database, log: log.With().Str("component", "store").Logger()}
	if err := s.ensureDatabase(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the underlying HTTP client.
func (s *Influx) Close() error { return s.c.Close() }

func (s *Influx) ensureDatabase() error {
	q := client.NewQuery(fmt.Sprintf("CREATE DATABASE %q", s.db), "", "")
	resp, err := s.c.Query(q)
	if err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	if resp.Error() != nil {
		return fmt.Errorf("create database: %w", resp.Error())
	}
	return nil
}

func (s *Influx) writePoints(ctx context.Context, pts []*client.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  s.db,
		Precision: "ms",
	})
	if err != nil {
		return fmt.Errorf("batch points: %w", err)
	}
	bp.AddPoints(pts)
	if err := s.c.Write(bp); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

func (s *Influx) WriteRawBeats(ctx context.Context, device string, beats []model.RawBeat) error {
	for start := 0; start < len(beats); start += WriteChunkSize {
		end := start + WriteChunkSize
		if end > len(beats) {
			end = len(beats)
		}
		pts := make([]*client.Point, 0, end-start)
		for _, b := range beats[start:end] {
			fields := map[string]any{"path": b.Path}
			if b.RR > 0 {
				fields["rr_interval"] = b.RR
			}
			if b.HR > 0 {
				fields["heart_rate"] = b.HR
			}
			if b.Source != "" {
				fields["source"] = b.Source
			}
			pt, err := client.NewPoint(MeasurementRaw,
				map[string]string{"device": device}, fields, time.UnixMilli(b.TS))
			if err != nil {
				return fmt.Errorf("raw point: %w", err)
			}
			pts = append(pts, pt)
		}
		if err := s.writePoints(ctx, pts); err != nil {
			return err
		}
	}
	return nil
}

func (s *Influx) WriteRealtime(ctx context.Context, device string, p model.RealtimePoint) error {
	pt, err := client.NewPoint(MeasurementRealtime,
		map[string]string{"device": device},
		map[string]any{
			"rmssd": p.RMSSD,
			"sdnn":  p.SDNN,
			"pnn50": p.PNN50,
			"hr":    p.HR,
		}, time.UnixMilli(p.TS))
	if err != nil {
		return fmt.Errorf("realtime point: %w", err)
	}
	return s.writePoints(ctx, []*client.Point{pt})
}

func (s *Influx) WriteCanonical(ctx context.Context, device string, updates []model.CanonicalUpdate) error {
	for start := 0; start < len(updates); start += WriteChunkSize {
		end := start + WriteChunkSize
		if end > len(updates) {
			end = len(updates)
		}
		pts := make([]*client.Point, 0, end-start)
		for _, u := range updates[start:end] {
			fields := map[string]any{
				"rr_clean":      u.RRClean,
				"hr_clean":      u.HRClean,
				"artifact_type": string(u.Artifact),
			}
			pt, err := client.NewPoint(MeasurementRaw,
				map[string]string{"device": device}, fields, time.UnixMilli(u.TS))
			if err != nil {
				return fmt.Errorf("canonical point: %w", err)
			}
			pts = append(pts, pt)
		}
		if err := s.writePoints(ctx, pts); err != nil {
			return err
		}
	}
	return nil
}

func (s *Influx) WriteSummary(ctx context.Context, device string, sum model.Summary) error {
	tags := map[string]string{"device": device}
	if sum.Posture != "" {
		tags["posture"] = sum.Posture
	}
	pt, err := client.NewPoint(MeasurementSummary, tags,
		map[string]any{
			"rmssd":          sum.RMSSD,
			"sdnn":           sum.SDNN,
			"pnn50":          sum.PNN50,
			"heart_rate":     sum.HeartRate,
			"sample_count":   sum.SampleCount,
			"artifact_count": sum.ArtifactCount,
		}, time.UnixMilli(sum.TS))
	if err != nil {
		return fmt.Errorf("summary point: %w", err)
	}
	return s.writePoints(ctx, []*client.Point{pt})
}

func (s *Influx) WritePosture(ctx context.Context, p model.PosturePayload, ts int64) error {
	tags := map[string]string{
		"from_posture": p.FromPosture,
		"to_posture":   p.ToPosture,
	}
	if p.Source != "" {
		tags["source"] = p.Source
	}
	fields := map[string]any{}
	if p.FromDurationSeconds != nil {
		fields["from_duration_seconds"] = *p.FromDurationSeconds
	}
	if p.Confidence != nil {
		fields["confidence"] = *p.Confidence
	}
	if len(fields) == 0 {
		fields["value"] = 1
	}
	pt, err := client.NewPoint(MeasurementPosture, tags, fields, time.UnixMilli(ts))
	if err != nil {
		return fmt.Errorf("posture point: %w", err)
	}
	return s.writePoints(ctx, []*client.Point{pt})
}

func (s *Influx) WriteStatus(ctx context.Context, st model.StatusPayload, ts int64) error {
	tags := map[string]string{
		"category": st.Category,
		"event":    st.Event,
	}
	if st.Source != "" {
		tags["source"] = st.Source
	}
	if st.Device != "" {
		tags["device"] = st.Device
	}
	fields := map[string]any{}
	for k, v := range st.Fields {
		fields[k] = v
	}
	if st.Description != "" {
		fields["description"] = st.Description
	}
	if len(fields) == 0 {
		fields["value"] = 1
	}
	pt, err := client.NewPoint(MeasurementStatus, tags, fields, time.UnixMilli(ts))
	if err != nil {
		return fmt.Errorf("status point: %w", err)
	}
	return s.writePoints(ctx, []*client.Point{pt})
}

func (s *Influx) QueryRawRange(ctx context.Context, device string, startMs, endMs int64) ([]model.StoredBeat, error) {
	q := fmt.Sprintf(
		"SELECT rr_interval, heart_rate, rr_clean, artifact_type FROM %s WHERE device = '%s' AND time >= %dms AND time <= %dms ORDER BY time ASC",
		MeasurementRaw, escapeValue(device), startMs, endMs)
	return s.queryBeats(ctx, q, false)
}

func (s *Influx) QueryContextBefore(ctx context.Context, device string, beforeMs int64, limit int) ([]model.StoredBeat, error) {
	q := fmt.Sprintf(
		"SELECT rr_interval, heart_rate, rr_clean, artifact_type FROM %s WHERE device = '%s' AND time < %dms AND rr_interval > 0 ORDER BY time DESC LIMIT %d",
		MeasurementRaw, escapeValue(device), beforeMs, limit)
	return s.queryBeats(ctx, q, true)
}

func (s *Influx) QueryContextAfter(ctx context.Context, device string, afterMs int64, limit int) ([]model.StoredBeat, error) {
	q := fmt.Sprintf(
		"SELECT rr_interval, heart_rate, rr_clean, artifact_type FROM %s WHERE device = '%s' AND time > %dms AND rr_interval > 0 ORDER BY time ASC LIMIT %d",
		MeasurementRaw, escapeValue(device), afterMs, limit)
	return s.queryBeats(ctx, q, false)
}

func (s *Influx) QueryCleanWindow(ctx context.Context, device string, startMs, endMs int64) ([]model.StoredBeat, error) {
	q := fmt.Sprintf(
		"SELECT rr_interval, heart_rate, rr_clean, artifact_type FROM %s WHERE device = '%s' AND time >= %dms AND time < %dms AND rr_clean > 0 ORDER BY time ASC",
		MeasurementRaw, escapeValue(device), startMs, endMs)
	return s.queryBeats(ctx, q, false)
}

func (s *Influx) LastProcessed(ctx context.Context, device string) (int64, bool, error) {
	q := fmt.Sprintf(
		"SELECT last(rr_clean) FROM %s WHERE device = '%s' AND rr_clean > 0",
		MeasurementRaw, escapeValue(device))
	rows, err := s.query(ctx, q)
	if err != nil {
		return 0, false, err
	}
	if len(rows) == 0 || len(rows[0].Values) == 0 {
		return 0, false, nil
	}
	ts, err := toInt64(rows[0].Values[0][0])
	if err != nil {
		return 0, false, fmt.Errorf("last processed timestamp: %w", err)
	}
	return ts, true, nil
}

type row struct {
	Columns []string
	Values  [][]any
}

func (s *Influx) query(ctx context.Context, q string) ([]row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := s.c.Query(client.NewQuery(q, s.db, "ms"))
	if err != nil {
		return nil, fmt.Errorf("influx query: %w", err)
	}
	if resp.Error() != nil {
		return nil, fmt.Errorf("influx query: %w", resp.Error())
	}
	var rows []row
	for _, res := range resp.Results {
		for _, series := range res.Series {
			rows = append(rows, row{Columns: series.Columns, Values: series.Values})
		}
	}
	return rows, nil
}

// queryBeats runs a raw-beat query and decodes the result. When reverse is
// set the store returned newest-first (DESC limit query) and the slice is
// flipped back to oldest-first.
func (s *Influx) queryBeats(ctx context.Context, q string, reverse bool) ([]model.StoredBeat, error) {
	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}
	var beats []model.StoredBeat
	for _, r := range rows {
		col := make(map[string]int, len(r.Columns))
		for i, c := range r.Columns {
			col[c] = i
		}
		for _, vals := range r.Values {
			var b model.StoredBeat
			b.TS, err = toInt64(vals[col["time"]])
			if err != nil {
				return nil, fmt.Errorf("beat timestamp: %w", err)
			}
			b.RR = toFloat(vals, col, "rr_interval")
			b.HR = toFloat(vals, col, "heart_rate")
			b.RRClean = toFloat(vals, col, "rr_clean")
			if i, ok := col["artifact_type"]; ok && vals[i] != nil {
				if str, ok := vals[i].(string); ok {
					b.Artifact = model.ArtifactType(str)
				}
			}
			beats = append(beats, b)
		}
	}
	if reverse {
		sort.Slice(beats, func(i, j int) bool { return beats[i].TS < beats[j].TS })
	}
	return beats, nil
}

func toInt64(v any) (int64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("unexpected value %T", v)
	}
	return n.Int64()
}

func toFloat(vals []any, col map[string]int, name string) float64 {
	i, ok := col[name]
	if !ok || vals[i] == nil {
		return 0
	}
	n, ok := vals[i].(json.Number)
	if !ok {
		return 0
	}
	f, err := n.Float64()
	if err != nil {
		return 0
	}
	return f
}

// escapeValue escapes a string literal for an InfluxQL WHERE clause.
func escapeValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `'`, `\'`)
}
