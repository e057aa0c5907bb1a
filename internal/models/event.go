package models

import (
	"encoding/json"
	"fmt"
)

// EventType tags a progress event on the wire.
type EventType string

// Wire tags, one per event type.
const (
	EventPhase       EventType = "phase"
	EventStep        EventType = "step"
	EventTickerStart EventType = "ticker_start"
	EventTickerDone  EventType = "ticker_done"
	EventWarning     EventType = "warning"
	EventHeartbeat   EventType = "heartbeat"
	EventDone        EventType = "done"
	EventError       EventType = "error"
)

// Stage names one step of the per-ticker ingestion pipeline.
type Stage string

// Pipeline stages in execution order.
const (
	StageDownload Stage = "download"
	StageExtract  Stage = "extract"
	StageParse    Stage = "parse"
	StageChunk    Stage = "chunk"
	StageEmbed    Stage = "embed"
	StageStore    Stage = "store"
)

// Stages lists the ingestion stages in execution order.
var Stages = []Stage{StageDownload, StageExtract, StageParse, StageChunk, StageEmbed, StageStore}

// StepStatus is the state a step event reports.
type StepStatus string

const (
	StepStarted StepStatus = "started"
	StepDone    StepStatus = "done"
	StepError   StepStatus = "error"
)

// PhaseReplaying is announced to consumers that attach after events were produced.
const PhaseReplaying = "replaying"

// Event is a progress event. The set of implementations is closed.
type Event interface {
	Type() EventType
	isEvent()
}

// PhaseEvent marks a job-wide phase such as "replaying" for late subscribers.
type PhaseEvent struct {
	Phase   string `json:"phase"`
	Message string `json:"message,omitempty"`
}

// StepEvent reports one pipeline stage of one filing starting, finishing or
// failing. Message carries the stage summary or the error text.
type StepEvent struct {
	Step      Stage      `json:"step"`
	Ticker    string     `json:"ticker"`
	Accession string     `json:"accession,omitempty"`
	Status    StepStatus `json:"status"`
	Message   string     `json:"message,omitempty"`
}

// TickerStartEvent opens a ticker once its filings are listed.
type TickerStartEvent struct {
	Ticker       string `json:"ticker"`
	TotalFilings int    `json:"total_filings"`
}

// TickerDoneEvent closes a ticker with the number of chunks it stored.
type TickerDoneEvent struct {
	Ticker  string     `json:"ticker"`
	Status  StepStatus `json:"status"` // StepDone or StepError
	Chunks  int        `json:"chunks"`
	Message string     `json:"message,omitempty"`
}

// WarningEvent reports a recoverable problem, such as a filing that
// produced no chunks. Ticker is empty for job-wide warnings.
type WarningEvent struct {
	Ticker  string `json:"ticker,omitempty"`
	Message string `json:"message"`
}

// HeartbeatEvent keeps an idle stream alive. It is sent to subscribers only
// and never stored in the job's event log.
type HeartbeatEvent struct {
	ElapsedSeconds int `json:"elapsed_seconds"`
}

// DoneEvent closes a completed job. TotalChunks counts only tickers that succeeded.
type DoneEvent struct {
	TotalChunks   int      `json:"total_chunks"`
	Tickers       []string `json:"tickers"`
	FailedTickers []string `json:"failed_tickers,omitempty"`
	Message       string   `json:"message,omitempty"`
}

// ErrorEvent closes a failed job.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (PhaseEvent) Type() EventType       { return EventPhase }
func (StepEvent) Type() EventType        { return EventStep }
func (TickerStartEvent) Type() EventType { return EventTickerStart }
func (TickerDoneEvent) Type() EventType  { return EventTickerDone }
func (WarningEvent) Type() EventType     { return EventWarning }
func (HeartbeatEvent) Type() EventType   { return EventHeartbeat }
func (DoneEvent) Type() EventType        { return EventDone }
func (ErrorEvent) Type() EventType       { return EventError }

func (PhaseEvent) isEvent()       {}
func (StepEvent) isEvent()        {}
func (TickerStartEvent) isEvent() {}
func (TickerDoneEvent) isEvent()  {}
func (WarningEvent) isEvent()     {}
func (HeartbeatEvent) isEvent()   {}
func (DoneEvent) isEvent()        {}
func (ErrorEvent) isEvent()       {}

// IsTerminal reports whether e ends a job's event sequence.
func IsTerminal(e Event) bool {
	switch e.(type) {
	case DoneEvent, ErrorEvent:
		return true
	}
	return false
}

// MarshalEvent encodes e as a flat JSON object with a "type" discriminator.
func MarshalEvent(e Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.Type(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.Type(), err)
	}
	fields["type"], _ = json.Marshal(e.Type())
	return json.Marshal(fields)
}

// UnmarshalEvent decodes an event produced by MarshalEvent.
func UnmarshalEvent(data []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}

	var (
		e   Event
		err error
	)
	switch head.Type {
	case EventPhase:
		e, err = decodeAs[PhaseEvent](data)
	case EventStep:
		e, err = decodeAs[StepEvent](data)
	case EventTickerStart:
		e, err = decodeAs[TickerStartEvent](data)
	case EventTickerDone:
		e, err = decodeAs[TickerDoneEvent](data)
	case EventWarning:
		e, err = decodeAs[WarningEvent](data)
	case EventHeartbeat:
		e, err = decodeAs[HeartbeatEvent](data)
	case EventDone:
		e, err = decodeAs[DoneEvent](data)
	case EventError:
		e, err = decodeAs[ErrorEvent](data)
	default:
		return nil, fmt.Errorf("unmarshal event: unknown type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s event: %w", head.Type, err)
	}
	return e, nil
}

func decodeAs[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
