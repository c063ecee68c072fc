// Package snapshot implements the JSON-lines export/import contract:
// the only replication/backup surface the core exposes, with cloud
// backup/restore itself left to an external collaborator.
package snapshot

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/bao243092078-crypto/memory-anchor/internal/kernel"
	"github.com/bao243092078-crypto/memory-anchor/internal/model"
	registryvector "github.com/bao243092078-crypto/memory-anchor/internal/registry/vector"
)

// record is one exported line: a Memory plus its vector, base64-encoded as
// little-endian float32s. Fields mirror model.Memory's json tags so
// a line round-trips without the caller needing model internals.
type record struct {
	ID           uuid.UUID      `json:"id"`
	Content      string         `json:"content"`
	Layer        model.Layer    `json:"layer"`
	Category     model.Category `json:"category,omitempty"`
	Confidence   float64        `json:"confidence"`
	CreatedAt    time.Time      `json:"createdAt"`
	ValidAt      *time.Time     `json:"validAt,omitempty"`
	ExpiresAt    *time.Time     `json:"expiresAt,omitempty"`
	CreatedBy    string         `json:"createdBy"`
	SessionID    *string        `json:"sessionId,omitempty"`
	RelatedFiles []string       `json:"relatedFiles,omitempty"`
	IsActive     bool           `json:"isActive"`
	Vector       string         `json:"vector"`
}

const scrollPageSize = 500

// Export streams every point in the Kernel's collection (active and
// soft-deleted alike, so export/import round-trips) as JSON-lines to w.
// Records are order-independent, so callers may write them in scroll
// order without further sorting.
func Export(ctx context.Context, k *kernel.Kernel, w io.Writer) (int, error) {
	store := k.VectorStore()
	collection := k.Config().CollectionName()

	bw := bufio.NewWriter(w)
	defer bw.Flush()

	enc := json.NewEncoder(bw)
	n := 0
	cursor := ""
	for {
		page, err := store.Scroll(ctx, collection, registryvector.Filter{}, cursor, scrollPageSize)
		if err != nil {
			return n, fmt.Errorf("snapshot: scroll failed: %w", err)
		}
		for _, p := range page.Points {
			if err := enc.Encode(pointToRecord(p)); err != nil {
				return n, fmt.Errorf("snapshot: encode failed: %w", err)
			}
			n++
		}
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}
	return n, bw.Flush()
}

// Import reads JSON-lines produced by Export and upserts each one back into
// the Kernel's collection. Upsert-by-id makes this idempotent: importing
// the same stream twice leaves no duplicates.
func Import(ctx context.Context, k *kernel.Kernel, r io.Reader) (int, error) {
	store := k.VectorStore()
	collection := k.Config().CollectionName()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	n := 0
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			return n, fmt.Errorf("snapshot: decode line %d: %w", n+1, err)
		}
		point, err := recordToPoint(rec)
		if err != nil {
			return n, fmt.Errorf("snapshot: line %d: %w", n+1, err)
		}
		if err := store.Upsert(ctx, collection, point); err != nil {
			return n, fmt.Errorf("snapshot: upsert %s: %w", rec.ID, err)
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("snapshot: scan failed: %w", err)
	}
	return n, nil
}

func pointToRecord(p registryvector.Point) record {
	return record{
		ID:           p.ID,
		Content:      p.Payload.Content,
		Layer:        model.Layer(p.Payload.Layer),
		Category:     model.Category(p.Payload.Category),
		Confidence:   p.Payload.Confidence,
		CreatedAt:    time.Unix(p.Payload.CreatedAt, 0).UTC(),
		ValidAt:      unixToTime(p.Payload.ValidAt),
		ExpiresAt:    unixToTime(p.Payload.ExpiresAt),
		CreatedBy:    p.Payload.CreatedBy,
		SessionID:    p.Payload.SessionID,
		RelatedFiles: p.Payload.RelatedFiles,
		IsActive:     p.Payload.IsActive,
		Vector:       encodeVector(p.Vector),
	}
}

func recordToPoint(rec record) (registryvector.Point, error) {
	vec, err := decodeVector(rec.Vector)
	if err != nil {
		return registryvector.Point{}, err
	}
	return registryvector.Point{
		ID:     rec.ID,
		Vector: vec,
		Payload: registryvector.Payload{
			Content:      rec.Content,
			Layer:        string(rec.Layer),
			Category:     string(rec.Category),
			Confidence:   rec.Confidence,
			CreatedAt:    rec.CreatedAt.Unix(),
			ValidAt:      timeToUnix(rec.ValidAt),
			ExpiresAt:    timeToUnix(rec.ExpiresAt),
			IsActive:     rec.IsActive,
			SessionID:    rec.SessionID,
			RelatedFiles: rec.RelatedFiles,
			CreatedBy:    rec.CreatedBy,
		},
	}, nil
}

func encodeVector(v []float32) string {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func decodeVector(s string) ([]float32, error) {
	if s == "" {
		return nil, nil
	}
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 vector: %w", err)
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector byte length %d not a multiple of 4", len(buf))
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}

func unixToTime(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}

func timeToUnix(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	u := t.Unix()
	return &u
}
