package engine

import (
	"net"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ftahirops/xconn/model"
	"github.com/ftahirops/xconn/util"
)

// Row is a display-ready connection record. Raw fields stay alongside the
// formatted ones so sorting never has to re-read the store.
type Row struct {
	ID          string `json:"id"`
	Host        string `json:"host"`
	Type        string `json:"type"`
	Chains      string `json:"chains"`
	Rule        string `json:"rule"`
	Time        string `json:"time"`
	Upload      string `json:"upload"`
	Download    string `json:"download"`
	Speed       string `json:"speed"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Process     string `json:"process,omitempty"`
	Completed   bool   `json:"completed"`

	Start         time.Time `json:"start"`
	UploadBytes   int64     `json:"uploadBytes"`
	DownloadBytes int64     `json:"downloadBytes"`
}

// Project maps connections to rows without touching the inputs.
func Project(conns []model.Connection, now time.Time) []Row {
	rows := make([]Row, len(conns))
	for i := range conns {
		rows[i] = ProjectOne(&conns[i], now)
	}
	return rows
}

// ProjectOne formats a single connection.
func ProjectOne(c *model.Connection, now time.Time) Row {
	md := c.Metadata
	host := md.Host
	if host == "" {
		host = md.DestinationIP
	}
	return Row{
		ID:            c.ID,
		Host:          joinHostPort(host, md.DestinationPort),
		Type:          connType(md),
		Chains:        chainsLabel(c.Chains),
		Rule:          ruleLabel(c.Rule, c.RulePayload),
		Time:          humanize.RelTime(c.Start, now, "ago", "from now"),
		Upload:        util.FormatTraffic(c.Upload),
		Download:      util.FormatTraffic(c.Download),
		Speed:         util.FormatSpeed(c.Speed.Upload, c.Speed.Download),
		Source:        joinHostPort(md.SourceIP, md.SourcePort),
		Destination:   joinHostPort(md.DestinationIP, md.DestinationPort),
		Process:       processName(md.ProcessPath),
		Completed:     c.Completed,
		Start:         c.Start,
		UploadBytes:   c.Upload,
		DownloadBytes: c.Download,
	}
}

func joinHostPort(host, port string) string {
	if host == "" {
		return ""
	}
	if port == "" {
		return host
	}
	return net.JoinHostPort(host, port)
}

func connType(md model.Metadata) string {
	switch {
	case md.Type == "" && md.Network == "":
		return ""
	case md.Network == "":
		return md.Type
	case md.Type == "":
		return md.Network
	}
	return md.Type + "(" + md.Network + ")"
}

// chainsLabel shows the hops inbound-first; the wire order is outbound-first.
func chainsLabel(chains []string) string {
	if len(chains) == 0 {
		return ""
	}
	rev := make([]string, len(chains))
	for i, c := range chains {
		rev[len(chains)-1-i] = c
	}
	return strings.Join(rev, " / ")
}

func ruleLabel(rule, payload string) string {
	if payload == "" {
		return rule
	}
	return rule + "(" + payload + ")"
}

func processName(path string) string {
	if path == "" {
		return ""
	}
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
