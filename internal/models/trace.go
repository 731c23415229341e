package models

import (
	"encoding/json"
	"fmt"
)

// Trace is one hydrated trace: its id and the raw segment documents the
// backend returned for it.
type Trace struct {
	ID       string
	Segments []string
}

// Segment is the subset of the X-Ray segment document schema
// (xray-segmentdocument-schema-v1.0.0) this exporter reads. Fields are
// pointers so absent and zero values stay distinguishable.
type Segment struct {
	Name      *string  `json:"name"`
	ID        *string  `json:"id"`
	StartTime *float64 `json:"start_time"`
	EndTime   *float64 `json:"end_time"`

	Error    *bool `json:"error,omitempty"`
	Fault    *bool `json:"fault,omitempty"`
	Throttle *bool `json:"throttle,omitempty"`

	HTTP        *HTTPData `json:"http,omitempty"`
	Subsegments []Segment `json:"subsegments,omitempty"`
}

type HTTPData struct {
	Request  *RequestData  `json:"request,omitempty"`
	Response *ResponseData `json:"response,omitempty"`
}

type RequestData struct {
	Method        *string  `json:"method,omitempty"`
	URL           *string  `json:"url,omitempty"`
	ClientIP      *string  `json:"client_ip,omitempty"`
	ContentLength *float64 `json:"content_length,omitempty"`
}

type ResponseData struct {
	Status        *int64   `json:"status,omitempty"`
	ContentLength *float64 `json:"content_length,omitempty"`
}

func ParseSegment(document []byte) (*Segment, error) {
	var seg Segment
	if err := json.Unmarshal(document, &seg); err != nil {
		return nil, fmt.Errorf("failed to decode segment document: %w", err)
	}
	return &seg, nil
}

// ServiceName returns the segment's name, or "unknown" when absent.
func (s *Segment) ServiceName() string {
	if s.Name == nil || *s.Name == "" {
		return "unknown"
	}
	return *s.Name
}

// DurationMillis is (end_time - start_time) in milliseconds. Zero when
// either bound is absent, never negative.
func (s *Segment) DurationMillis() float64 {
	if s.StartTime == nil || s.EndTime == nil {
		return 0
	}
	d := (*s.EndTime - *s.StartTime) * 1000
	if d < 0 {
		return 0
	}
	return d
}

func (s *Segment) StatusCode() int64 {
	if s.HTTP == nil || s.HTTP.Response == nil || s.HTTP.Response.Status == nil {
		return 0
	}
	return *s.HTTP.Response.Status
}

func (s *Segment) RequestURL() string {
	if s.HTTP == nil || s.HTTP.Request == nil || s.HTTP.Request.URL == nil {
		return ""
	}
	return *s.HTTP.Request.URL
}

func (s *Segment) RequestMethod() string {
	if s.HTTP == nil || s.HTTP.Request == nil || s.HTTP.Request.Method == nil {
		return ""
	}
	return *s.HTTP.Request.Method
}

func (s *Segment) ClientIP() string {
	if s.HTTP == nil || s.HTTP.Request == nil || s.HTTP.Request.ClientIP == nil {
		return ""
	}
	return *s.HTTP.Request.ClientIP
}

func (s *Segment) RequestSize() float64 {
	if s.HTTP == nil || s.HTTP.Request == nil || s.HTTP.Request.ContentLength == nil {
		return 0
	}
	return *s.HTTP.Request.ContentLength
}

func (s *Segment) ResponseSize() float64 {
	if s.HTTP == nil || s.HTTP.Response == nil || s.HTTP.Response.ContentLength == nil {
		return 0
	}
	return *s.HTTP.Response.ContentLength
}

func (s *Segment) IsError() bool {
	return s.Error != nil && *s.Error
}

func (s *Segment) IsFault() bool {
	return s.Fault != nil && *s.Fault
}

func (s *Segment) IsThrottle() bool {
	return s.Throttle != nil && *s.Throttle
}
