// Package archive keeps a snapshot of every committed survey structure in
// S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"surveygraph/api/internal/graph"
)

var (
	ErrRevisionNotFound = errors.New("revision not found")
	ErrInvalidKey       = errors.New("invalid revision key")
)

// Snapshot is the canonical graph of a survey at one point in time.
type Snapshot struct {
	SurveyID  string                     `json:"surveyId"`
	CreatedAt time.Time                  `json:"createdAt"`
	Questions []graph.NormalizedQuestion `json:"questions"`
	Options   []graph.NormalizedOption   `json:"options"`
}

// Revision describes a stored snapshot.
type Revision struct {
	Key       string    `json:"key"`
	SurveyID  string    `json:"surveyId"`
	CreatedAt time.Time `json:"createdAt"`
	Size      int64     `json:"size"`
}

type objectInfo struct {
	Key  string
	Size int64
}

// objectStore is the subset of an object storage client the archive uses.
type objectStore interface {
	put(ctx context.Context, key string, body io.Reader, size int64) error
	get(ctx context.Context, key string) ([]byte, error)
	list(ctx context.Context, prefix string) ([]objectInfo, error)
}

type Archive struct {
	objects objectStore
	now     func() time.Time
}

func newArchive(objects objectStore) *Archive {
	return &Archive{objects: objects, now: func() time.Time { return time.Now().UTC() }}
}

// Save writes a snapshot and returns the revision it was stored under.
func (a *Archive) Save(ctx context.Context, snapshot Snapshot) (Revision, error) {
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = a.now()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return Revision{}, fmt.Errorf("marshal snapshot: %w", err)
	}

	key := revisionKey(snapshot.SurveyID, snapshot.CreatedAt)
	if err := a.objects.put(ctx, key, bytes.NewReader(payload), int64(len(payload))); err != nil {
		return Revision{}, fmt.Errorf("put revision %s: %w", key, err)
	}
	return Revision{Key: key, SurveyID: snapshot.SurveyID, CreatedAt: snapshot.CreatedAt, Size: int64(len(payload))}, nil
}

// List returns a survey's revisions, newest first.
func (a *Archive) List(ctx context.Context, surveyID string) ([]Revision, error) {
	objects, err := a.objects.list(ctx, revisionPrefix(surveyID))
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}

	revisions := make([]Revision, 0, len(objects))
	for _, obj := range objects {
		owner, createdAt, err := parseRevisionKey(obj.Key)
		if err != nil || owner != surveyID {
			continue
		}
		revisions = append(revisions, Revision{Key: obj.Key, SurveyID: owner, CreatedAt: createdAt, Size: obj.Size})
	}
	sort.Slice(revisions, func(i, j int) bool { return revisions[i].Key > revisions[j].Key })
	return revisions, nil
}

// Load reads the snapshot stored under key, which must belong to surveyID.
func (a *Archive) Load(ctx context.Context, surveyID, key string) (Snapshot, error) {
	owner, _, err := parseRevisionKey(key)
	if err != nil {
		return Snapshot{}, err
	}
	if owner != surveyID {
		return Snapshot{}, ErrRevisionNotFound
	}

	payload, err := a.objects.get(ctx, key)
	if err != nil {
		return Snapshot{}, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode revision %s: %w", key, err)
	}
	return snapshot, nil
}

func revisionPrefix(surveyID string) string {
	return "surveys/" + surveyID + "/revisions/"
}

// revisionKey zero-pads the timestamp so lexical order is chronological.
func revisionKey(surveyID string, createdAt time.Time) string {
	return fmt.Sprintf("%s%019d.json", revisionPrefix(surveyID), createdAt.UnixNano())
}

func parseRevisionKey(key string) (string, time.Time, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 || parts[0] != "surveys" || parts[1] == "" || parts[2] != "revisions" {
		return "", time.Time{}, ErrInvalidKey
	}
	stamp, ok := strings.CutSuffix(parts[3], ".json")
	if !ok {
		return "", time.Time{}, ErrInvalidKey
	}
	nanos, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return "", time.Time{}, ErrInvalidKey
	}
	return parts[1], time.Unix(0, nanos).UTC(), nil
}
