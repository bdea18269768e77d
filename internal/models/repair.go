package models

// RepairTask asks for a message copy that failed to persist to be written again.
type RepairTask struct {
	Owner       string  `json:"owner"`
	Counterpart string  `json:"counterpart"`
	Message     Message `json:"message"`
	Attempt     int     `json:"attempt"`
}
