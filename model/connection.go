package model

import (
	"encoding/json"
	"time"
)

// Metadata describes the endpoints of a proxied flow, as reported by the controller.
type Metadata struct {
	Network         string `json:"network"`
	Type            string `json:"type"`
	SourceIP        string `json:"sourceIP"`
	DestinationIP   string `json:"destinationIP"`
	SourcePort      string `json:"sourcePort"`
	DestinationPort string `json:"destinationPort"`
	Host            string `json:"host"`
	DNSMode         string `json:"dnsMode,omitempty"`
	ProcessPath     string `json:"processPath,omitempty"`
}

// Speed is the byte delta between the two most recent ticks that carried a connection.
type Speed struct {
	Upload   int64 `json:"upload"`
	Download int64 `json:"download"`
}

// IsZero reports whether both directions are idle.
func (s Speed) IsZero() bool {
	return s.Upload == 0 && s.Download == 0
}

// Connection is one proxy-routed flow keyed by its controller-assigned ID.
type Connection struct {
	ID          string    `json:"id"`
	Metadata    Metadata  `json:"metadata"`
	Chains      []string  `json:"chains"` // outbound first, as received
	Rule        string    `json:"rule"`
	RulePayload string    `json:"rulePayload"`
	Start       time.Time `json:"start"`
	Upload      int64     `json:"upload"`
	Download    int64     `json:"download"`

	// Store-computed; never taken from the wire.
	Speed     Speed `json:"-"`
	Completed bool  `json:"-"`
}

// Valid reports whether the record carries the fields reconciliation depends on.
func (c *Connection) Valid() bool {
	return c.ID != "" && !c.Start.IsZero() && c.Upload >= 0 && c.Download >= 0
}

// Clone returns a deep copy safe to hand to readers.
func (c Connection) Clone() Connection {
	if c.Chains != nil {
		chains := make([]string, len(c.Chains))
		copy(chains, c.Chains)
		c.Chains = chains
	}
	return c
}

// Snapshot is one telemetry tick: global totals plus the complete active set.
type Snapshot struct {
	UploadTotal   int64        `json:"uploadTotal"`
	DownloadTotal int64        `json:"downloadTotal"`
	Connections   []Connection `json:"connections"`

	// Malformed counts connection records that could not be decoded.
	Malformed int `json:"-"`
	// MalformedIDs holds the ids recovered from undecodable records.
	MalformedIDs []string `json:"-"`
}

// UnmarshalJSON decodes each connection record on its own so one bad
// record does not discard the rest of the tick.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw struct {
		UploadTotal   int64             `json:"uploadTotal"`
		DownloadTotal int64             `json:"downloadTotal"`
		Connections   []json.RawMessage `json:"connections"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.UploadTotal = raw.UploadTotal
	s.DownloadTotal = raw.DownloadTotal
	s.Connections = make([]Connection, 0, len(raw.Connections))
	s.Malformed = 0
	s.MalformedIDs = nil
	for _, rc := range raw.Connections {
		var c Connection
		if err := json.Unmarshal(rc, &c); err != nil {
			s.Malformed++
			var id struct {
				ID string `json:"id"`
			}
			if json.Unmarshal(rc, &id) == nil && id.ID != "" {
				s.MalformedIDs = append(s.MalformedIDs, id.ID)
			}
			continue
		}
		s.Connections = append(s.Connections, c)
	}
	return nil
}

// Totals are the process-wide cumulative counters reported by the controller.
type Totals struct {
	Upload   int64 `json:"upload"`
	Download int64 `json:"download"`
}
