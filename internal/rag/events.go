package rag

import (
	"encoding/json"
	"errors"
	"strings"

	"tos-rag/internal/index"
	"tos-rag/internal/models"
)

type Kind string

const (
	KindLog        Kind = "log"
	KindData       Kind = "data"
	KindIndexReady Kind = "index_ready"
	KindResult     Kind = "result"
	KindError      Kind = "error"
)

// Event is one item of a pipeline run's output. The set of kinds is closed;
// every run ends with exactly one terminal event (result or error).
type Event interface {
	Kind() Kind
	Terminal() bool
	Validate() error
	event()
}

type LogEvent struct {
	Message string
}

// DataEvent carries the fetch result into the rest of the run.
type DataEvent struct {
	Scrape *models.ScrapeResult
}

// IndexReadyEvent reports the outcome of index setup. Session is nil when
// retrieval was skipped or degraded.
type IndexReadyEvent struct {
	Session *index.Session
	Name    string
}

type ResultEvent struct {
	Payload *models.ResultPayload
}

type ErrorEvent struct {
	Message string
}

func (LogEvent) Kind() Kind        { return KindLog }
func (DataEvent) Kind() Kind       { return KindData }
func (IndexReadyEvent) Kind() Kind { return KindIndexReady }
func (ResultEvent) Kind() Kind     { return KindResult }
func (ErrorEvent) Kind() Kind      { return KindError }

func (LogEvent) Terminal() bool        { return false }
func (DataEvent) Terminal() bool       { return false }
func (IndexReadyEvent) Terminal() bool { return false }
func (ResultEvent) Terminal() bool     { return true }
func (ErrorEvent) Terminal() bool      { return true }

func (LogEvent) event()        {}
func (DataEvent) event()       {}
func (IndexReadyEvent) event() {}
func (ResultEvent) event()     {}
func (ErrorEvent) event()      {}

func (e LogEvent) Validate() error {
	if strings.TrimSpace(e.Message) == "" {
		return errors.New("log event without message")
	}
	return nil
}

func (e DataEvent) Validate() error {
	if e.Scrape == nil {
		return errors.New("data event without scrape result")
	}
	return nil
}

func (e IndexReadyEvent) Validate() error {
	if e.Session != nil && e.Session.Name() != e.Name {
		return errors.New("index_ready name does not match session")
	}
	return nil
}

func (e ResultEvent) Validate() error {
	if e.Payload == nil {
		return errors.New("result event without payload")
	}
	return nil
}

func (e ErrorEvent) Validate() error {
	if strings.TrimSpace(e.Message) == "" {
		return errors.New("error event without message")
	}
	return nil
}

// NewLogEvent, NewResultEvent and NewErrorEvent build validated events.

func NewLogEvent(msg string) (LogEvent, error) {
	e := LogEvent{Message: msg}
	return e, e.Validate()
}

func NewResultEvent(p *models.ResultPayload) (ResultEvent, error) {
	e := ResultEvent{Payload: p}
	return e, e.Validate()
}

func NewErrorEvent(msg string) (ErrorEvent, error) {
	e := ErrorEvent{Message: msg}
	return e, e.Validate()
}

type wireEvent struct {
	Type Kind                  `json:"type"`
	Msg  string                `json:"msg,omitempty"`
	Data *models.ResultPayload `json:"data,omitempty"`
}

// Encode renders e as one NDJSON line, newline included. Only log, error and
// result events go over the wire; ok is false for the others.
func Encode(e Event) (line []byte, ok bool, err error) {
	var w wireEvent
	switch ev := e.(type) {
	case LogEvent:
		w = wireEvent{Type: KindLog, Msg: ev.Message}
	case ErrorEvent:
		w = wireEvent{Type: KindError, Msg: ev.Message}
	case ResultEvent:
		w = wireEvent{Type: KindResult, Data: ev.Payload}
	default:
		return nil, false, nil
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, false, err
	}
	return append(b, '\n'), true, nil
}
