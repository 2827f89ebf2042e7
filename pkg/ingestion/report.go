package ingestion

import (
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Ramsey-B/sunflower/pkg/deviation"
	"github.com/Ramsey-B/sunflower/pkg/models"
)

// State is where a region's pass stopped.
type State string

const (
	StateFetching   State = "fetching"
	StateSelecting  State = "selecting"
	StateUpserting  State = "upserting"
	StateEvaluating State = "evaluating"
	StateDone       State = "done"
	StateSkipped    State = "skipped"
	StateFailed     State = "failed"
)

type CandidateReport struct {
	Hour      int               `json:"hour"`
	Rollover  bool              `json:"rollover"`
	Action    models.Action     `json:"action,omitempty"`
	RecordID  int64             `json:"record_id,omitempty"`
	Deviation *deviation.Result `json:"deviation,omitempty"`
	Alerted   bool              `json:"alerted"`
	Dropped   bool              `json:"dropped,omitempty"`
	Error     string            `json:"error,omitempty"`
}

type RegionReport struct {
	Region     string            `json:"region"`
	State      State             `json:"state"`
	Reason     string            `json:"reason,omitempty"`
	Candidates []CandidateReport `json:"candidates,omitempty"`
	Duration   time.Duration     `json:"duration_ns"`
}

type PassReport struct {
	PassID     string         `json:"pass_id"`
	Trigger    string         `json:"trigger"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Regions    []RegionReport `json:"regions"`
}

// Count returns how many regions ended in state.
func (r *PassReport) Count(state State) int {
	n := 0
	for _, region := range r.Regions {
		if region.State == state {
			n++
		}
	}
	return n
}

// RegionsIn lists the regions that ended in state.
func (r *PassReport) RegionsIn(state State) []string {
	var matching []RegionReport
	for _, region := range r.Regions {
		if region.State == state {
			matching = append(matching, region)
		}
	}
	return ectolinq.Map(matching, func(region RegionReport) string { return region.Region })
}
