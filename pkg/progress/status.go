/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package progress

import (
	"encoding/json"
	"os"
)

// Status is the document a worker process atomically replaces in its status
// directory. It is the only channel from worker to supervisor.
type Status struct {
	State           string                 `json:"state"`
	Step            int                    `json:"step"`
	TotalSteps      int                    `json:"total_steps"`
	Epoch           *int                   `json:"epoch,omitempty"`
	TotalEpochs     *int                   `json:"total_epochs,omitempty"`
	Loss            *float64               `json:"loss,omitempty"`
	LearningRate    *float64               `json:"lr,omitempty"`
	TokensProcessed int64                  `json:"tokens_processed"`
	EtaSeconds      *float64               `json:"eta_seconds,omitempty"`
	LossHistory     []float64              `json:"loss_history,omitempty"`
	Error           string                 `json:"error,omitempty"`
	AdapterId       string                 `json:"adapter_id,omitempty"`
	Results         map[string]interface{} `json:"results,omitempty"`
}

const lossHistoryCap = 100

// Progress projects the step counters onto [0, 100].
func (s *Status) Progress() float64 {
	if s.TotalSteps <= 0 {
		return 0
	}
	pct := float64(s.Step) / float64(s.TotalSteps) * 100
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

// Normalize clamps counters and caps the loss history at its last 100 points.
func (s *Status) Normalize() {
	if s.Step < 0 {
		s.Step = 0
	}
	if s.TotalSteps > 0 && s.Step > s.TotalSteps {
		s.Step = s.TotalSteps
	}
	if len(s.LossHistory) > lossHistoryCap {
		s.LossHistory = s.LossHistory[len(s.LossHistory)-lossHistoryCap:]
	}
}

// Read loads a status file. Workers replace the file atomically, but a reader
// racing a slow writer may still see malformed JSON; callers treat any error
// as transient and retry on the next tick.
func Read(path string) (*Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var status Status
	if err = json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	status.Normalize()
	return &status, nil
}
