// Package dataset loads, merges and writes the canonical cards.json file the
// comparison front-end consumes. Merging is deterministic and idempotent:
// replaying the same batch against its own output changes nothing.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cardscope/card-pipeline/internal/model"
)

const initialVersion = "1.0"

// Load reads a dataset file. A missing file is not an error; it returns an
// empty dataset so first runs need no bootstrap step.
func Load(path string) (model.Dataset, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return model.Dataset{Version: initialVersion}, nil
	}
	if err != nil {
		return model.Dataset{}, eris.Wrapf(err, "dataset: read %s", path)
	}

	var ds model.Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return model.Dataset{}, eris.Wrapf(err, "dataset: parse %s", path)
	}
	if ds.Version == "" {
		ds.Version = initialVersion
	}
	return ds, nil
}

// Write atomically replaces the dataset file: marshal to a temp file in the
// same directory, then rename over the target. A crash mid-write leaves the
// previous dataset intact.
func Write(path string, ds model.Dataset) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "dataset: create %s", dir)
	}

	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return eris.Wrap(err, "dataset: marshal")
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, ".cards-*.json")
	if err != nil {
		return eris.Wrap(err, "dataset: create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "dataset: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "dataset: close temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return eris.Wrapf(err, "dataset: replace %s", path)
	}
	return nil
}

// MergeResult is the outcome of folding one batch into a dataset.
type MergeResult struct {
	Dataset   model.Dataset
	Added     int
	Updated   int
	Unchanged int
	Conflicts []model.ConflictWarning
}

// Merge folds incoming cards into the existing dataset by card id. Cards
// absent from the batch are retained untouched. When both sides hold a card,
// a record not flagged for manual review beats a flagged one; within the
// same review state the higher confidence wins, newer data on a tie. The
// losing side is never dropped silently; it surfaces as a ConflictWarning.
// The version bumps only when card content actually changed.
func Merge(existing model.Dataset, incoming []model.Card, now time.Time) MergeResult {
	res := MergeResult{Dataset: model.Dataset{
		Version:     existing.Version,
		LastUpdated: existing.LastUpdated,
	}}
	if res.Dataset.Version == "" {
		res.Dataset.Version = initialVersion
	}

	byID := make(map[string]model.Card, len(existing.Cards))
	order := make([]string, 0, len(existing.Cards))
	for _, c := range existing.Cards {
		if _, dup := byID[c.ID]; !dup {
			order = append(order, c.ID)
		}
		byID[c.ID] = c
	}

	changed := false
	for _, in := range incoming {
		cur, exists := byID[in.ID]
		if !exists {
			byID[in.ID] = in
			order = append(order, in.ID)
			res.Added++
			changed = true
			continue
		}

		if sameContent(cur, in) {
			// Fresher provenance for the same facts is not a content
			// change and does not bump the version. Precedence still
			// applies: a weaker record never drags down the stored
			// confidence or review state unannounced.
			if incomingWins(cur, in) {
				byID[in.ID] = in
			} else {
				res.Conflicts = append(res.Conflicts, conflict(in.ID, cur, in,
					"incoming record lost to existing"))
			}
			res.Unchanged++
			continue
		}

		if incomingWins(cur, in) {
			byID[in.ID] = in
			res.Updated++
			changed = true
			res.Conflicts = append(res.Conflicts, conflict(in.ID, cur, in,
				"existing record replaced by incoming"))
		} else {
			res.Unchanged++
			res.Conflicts = append(res.Conflicts, conflict(in.ID, cur, in,
				"incoming record lost to existing"))
		}
	}

	for i := range res.Conflicts {
		res.Conflicts[i].RecordedAt = now
		zap.L().Warn("merge conflict",
			zap.String("card", res.Conflicts[i].CardID),
			zap.String("reason", res.Conflicts[i].Reason),
			zap.Float64("existing_confidence", res.Conflicts[i].ExistingConfidence),
			zap.Float64("incoming_confidence", res.Conflicts[i].IncomingConfidence))
	}

	sort.Strings(order)
	res.Dataset.Cards = make([]model.Card, 0, len(order))
	for _, id := range order {
		res.Dataset.Cards = append(res.Dataset.Cards, byID[id])
	}

	if changed {
		res.Dataset.Version = bumpVersion(res.Dataset.Version)
		res.Dataset.LastUpdated = now.UTC().Format("2006-01-02")
	}
	return res
}

// incomingWins applies the precedence rule: unflagged beats flagged, then
// higher confidence, then recency.
func incomingWins(existing, incoming model.Card) bool {
	if existing.Metadata.ManualReview != incoming.Metadata.ManualReview {
		return !incoming.Metadata.ManualReview
	}
	return incoming.Metadata.Confidence >= existing.Metadata.Confidence
}

// sameContent compares everything except provenance, so a re-scrape of an
// unchanged page does not count as a content change.
func sameContent(a, b model.Card) bool {
	a.Metadata = model.Metadata{}
	b.Metadata = model.Metadata{}
	return reflect.DeepEqual(a, b)
}

func conflict(id string, existing, incoming model.Card, reason string) model.ConflictWarning {
	return model.ConflictWarning{
		CardID:             id,
		Reason:             reason,
		ExistingConfidence: existing.Metadata.Confidence,
		IncomingConfidence: incoming.Metadata.Confidence,
	}
}

// bumpVersion increments the minor component of a MAJOR.MINOR version.
// Anything unparseable restarts at the initial version.
func bumpVersion(v string) string {
	parts := strings.SplitN(v, ".", 2)
	if len(parts) != 2 {
		return initialVersion
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return initialVersion
	}
	return fmt.Sprintf("%d.%d", major, minor+1)
}
