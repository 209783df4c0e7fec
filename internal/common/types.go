package common

import (
	"fmt"
	"time"
)

// Dataset split an image belongs to
type Split string

const (
	SplitTrain Split = "train"
	SplitTest  Split = "test"
)

func (s Split) Valid() bool {
	return s == SplitTrain || s == SplitTest
}

func ParseSplit(s string) (Split, error) {
	split := Split(s)
	if !split.Valid() {
		return "", fmt.Errorf("unknown split %q", s)
	}
	return split, nil
}

// Ground-truth label for an image
type Label string

const (
	LabelReal       Label = "real"
	LabelArtificial Label = "artificial"
)

// KnownLabels is the closed set of labels votes and storage paths may carry
var KnownLabels = []Label{LabelReal, LabelArtificial}

func (l Label) Valid() bool {
	for _, known := range KnownLabels {
		if l == known {
			return true
		}
	}
	return false
}

func ParseLabel(s string) (Label, error) {
	label := Label(s)
	if !label.Valid() {
		return "", fmt.Errorf("unknown label %q", s)
	}
	return label, nil
}

// Vote is a single user's label for an image, one per (ImageHash, UserID)
type Vote struct {
	ID        string
	ImageHash string
	UserID    string
	Label     Label
	ChangedAt time.Time
}

// LabelCount is a single row of the vote aggregation
type LabelCount struct {
	Label Label
	Count int
}

// Provenance names the mechanism that produced a classification decision
type Provenance string

const (
	ProvenanceUser     Provenance = "user"
	ProvenanceVote     Provenance = "vote"
	ProvenanceDetector Provenance = "detector"
)
