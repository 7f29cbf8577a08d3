package protocol

import "strings"

// StageID identifies one of the six fixed pipeline phases.
type StageID string

const (
	StageIngestion       StageID = "ingestion"
	StageAnalysis        StageID = "analysis"
	StageAnnotation      StageID = "annotation"
	StageReportSynthesis StageID = "report_synthesis"
	StagePersistence     StageID = "persistence"
	StageFinalization    StageID = "finalization"
)

var stageOrder = []StageID{
	StageIngestion,
	StageAnalysis,
	StageAnnotation,
	StageReportSynthesis,
	StagePersistence,
	StageFinalization,
}

var stageIndex = func() map[StageID]int {
	idx := make(map[StageID]int, len(stageOrder))
	for i, id := range stageOrder {
		idx[id] = i
	}
	return idx
}()

// Stages returns the ordered list of pipeline stages.
func Stages() []StageID {
	cp := make([]StageID, len(stageOrder))
	copy(cp, stageOrder)
	return cp
}

// StageCount is the number of pipeline stages.
const StageCount = 6

// Index returns the zero-based position of the stage in pipeline order.
func (s StageID) Index() (int, bool) {
	i, ok := stageIndex[s]
	return i, ok
}

// ParseStageID converts a string into a known StageID.
func ParseStageID(value string) (StageID, bool) {
	normalized := StageID(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stageIndex[normalized]
	return normalized, ok
}

// stageForCode is the closed mapping from backend status codes to stages.
// The backend vocabulary is a fixed set; unrecognized codes are a protocol
// violation, never matched by substring.
var stageForCode = map[string]StageID{
	"ingestion":    StageIngestion,
	"analysis":     StageAnalysis,
	"annotation":   StageAnnotation,
	"report":       StageReportSynthesis,
	"persistence":  StagePersistence,
	"finalization": StageFinalization,
}

// CodeComplete and CodeError are backend status codes that describe the whole
// workflow rather than a single stage.
const (
	CodeComplete = "complete"
	CodeError    = "error"
)

// StageForCode resolves a backend status code to a stage identifier.
func StageForCode(code string) (StageID, bool) {
	id, ok := stageForCode[strings.ToLower(strings.TrimSpace(code))]
	return id, ok
}
