package sqlite

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scrypster/engramind/pkg/engram"
)

// selectColumns is shared by every query that assembles a full Engram, so the
// column order here and the Scan order in scanEngram must stay in lockstep.
const selectColumns = `
	SELECT id, content, category, importance, protected, access_count,
	       last_accessed_at, decay_rate, embedding_f32, embedding_i8,
	       supersedes_id, superseded_at, supersession_type,
	       valid_from, valid_until, validity_source, inserted_at, metadata
	FROM engrams`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEngram(row rowScanner) (*engram.Engram, error) {
	var (
		e                              engram.Engram
		protected                      int
		lastAccessedAt, supersededAt   sql.NullTime
		validFrom, validUntil          sql.NullTime
		embeddingF32, embeddingI8      []byte
		supersedesID                   sql.NullInt64
		supersessionType, validitySrc  sql.NullString
		metadataJSON                   []byte
	)

	if err := row.Scan(
		&e.ID, &e.Content, &e.Category, &e.Importance, &protected, &e.AccessCount,
		&lastAccessedAt, &e.DecayRate, &embeddingF32, &embeddingI8,
		&supersedesID, &supersededAt, &supersessionType,
		&validFrom, &validUntil, &validitySrc, &e.InsertedAt, &metadataJSON,
	); err != nil {
		return nil, err
	}

	e.Protected = protected != 0
	e.InsertedAt = e.InsertedAt.UTC()

	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time.UTC()
		e.LastAccessedAt = &t
	}
	if supersededAt.Valid {
		t := supersededAt.Time.UTC()
		e.SupersededAt = &t
	}
	if validFrom.Valid {
		t := validFrom.Time.UTC()
		e.ValidFrom = &t
	}
	if validUntil.Valid {
		t := validUntil.Time.UTC()
		e.ValidUntil = &t
	}
	if supersedesID.Valid {
		id := supersedesID.Int64
		e.SupersedesID = &id
	}
	if supersessionType.Valid && supersessionType.String != "" {
		st := engram.SupersessionType(supersessionType.String)
		e.SupersessionType = &st
	}
	if validitySrc.Valid {
		e.ValiditySource = validitySrc.String
	}

	if len(embeddingF32) > 0 {
		f32, err := decodeF32(embeddingF32)
		if err != nil {
			return nil, fmt.Errorf("decode embedding_f32: %w", err)
		}
		e.EmbeddingF32 = f32
	}
	if len(embeddingI8) > 0 {
		e.EmbeddingI8 = decodeI8(embeddingI8)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}

	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// encodeF32 packs a float32 slice into a little-endian byte blob.
func encodeF32(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := new(bytes.Buffer)
	buf.Grow(len(v) * 4)
	for _, f := range v {
		binary.Write(buf, binary.LittleEndian, f)
	}
	return buf.Bytes()
}

func decodeF32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding_f32 blob length %d not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	r := bytes.NewReader(b)
	for i := range out {
		if err := binary.Read(r, binary.LittleEndian, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// encodeI8 packs an int8 slice directly into bytes (int8 and byte share width).
func encodeI8(v []int8) []byte {
	if len(v) == 0 {
		return nil
	}
	out := make([]byte, len(v))
	for i, x := range v {
		out[i] = byte(x)
	}
	return out
}

func decodeI8(b []byte) []int8 {
	out := make([]int8, len(b))
	for i, x := range b {
		out[i] = int8(x)
	}
	return out
}
