package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"dreamweaver-server/internal/models"

	"github.com/klauspost/compress/zstd"
)

const (
	snapshotFormat        = "dreamweaver.world"
	snapshotFormatVersion = 1
)

// snapshotHeader precedes the state inside every persisted blob.
type snapshotHeader struct {
	Format        string    `json:"format"`
	FormatVersion int       `json:"formatVersion"`
	WorldID       string    `json:"worldId"`
	Version       int64     `json:"version"`
	SavedAt       time.Time `json:"savedAt"`
}

type snapshotEnvelope struct {
	Header snapshotHeader     `json:"header"`
	State  *models.WorldState `json:"state"`
}

// EncodeAll/DecodeAll are safe for concurrent use on a shared coder.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

func encodeSnapshot(state *models.WorldState, savedAt time.Time) ([]byte, error) {
	raw, err := json.Marshal(snapshotEnvelope{
		Header: snapshotHeader{
			Format:        snapshotFormat,
			FormatVersion: snapshotFormatVersion,
			WorldID:       state.ID,
			Version:       state.Version,
			SavedAt:       savedAt.UTC(),
		},
		State: state,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot %s: %w", state.ID, err)
	}
	return zstdEncoder.EncodeAll(raw, nil), nil
}

func decodeSnapshot(data []byte) (*models.WorldState, snapshotHeader, error) {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, snapshotHeader{}, fmt.Errorf("decompress snapshot: %w", err)
	}
	var env snapshotEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, snapshotHeader{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if env.Header.Format != snapshotFormat {
		return nil, env.Header, fmt.Errorf("unexpected snapshot format %q", env.Header.Format)
	}
	if env.Header.FormatVersion > snapshotFormatVersion {
		return nil, env.Header, fmt.Errorf("snapshot format version %d is newer than supported %d", env.Header.FormatVersion, snapshotFormatVersion)
	}
	if env.State == nil || env.State.ID != env.Header.WorldID || env.State.Version != env.Header.Version {
		return nil, env.Header, fmt.Errorf("snapshot header does not match state")
	}
	normalize(env.State)
	return env.State, env.Header, nil
}

// normalize restores empty maps dropped by older writers.
func normalize(w *models.WorldState) {
	if w.Regions == nil {
		w.Regions = map[string]models.Region{}
	}
	if w.Characters == nil {
		w.Characters = map[string]models.Character{}
	}
	if w.Quests == nil {
		w.Quests = map[string]models.Quest{}
	}
	if w.TurnLog == nil {
		w.TurnLog = []models.TurnRecord{}
	}
}
