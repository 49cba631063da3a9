package view

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

// Attr names one rendered attribute of a job card.
type Attr int

const (
	AttrName Attr = iota
	AttrStateLabel
	AttrStateClass
	AttrProgressWidth
	AttrPercent
	AttrSize
	AttrSeedsPeers
	AttrDownRate
	AttrUpRate
	AttrETA
	AttrEnrichment
	numAttrs
)

var attrNames = [numAttrs]string{
	AttrName:          "name",
	AttrStateLabel:    "state-label",
	AttrStateClass:    "state-class",
	AttrProgressWidth: "progress-width",
	AttrPercent:       "percent",
	AttrSize:          "size",
	AttrSeedsPeers:    "seeds-peers",
	AttrDownRate:      "down-rate",
	AttrUpRate:        "up-rate",
	AttrETA:           "eta",
	AttrEnrichment:    "enrichment",
}

func (a Attr) String() string {
	if a < 0 || a >= numAttrs {
		return "attr(" + strconv.Itoa(int(a)) + ")"
	}
	return attrNames[a]
}

// Attrs is the full rendered text of one card.
type Attrs [numAttrs]string

// Get returns one attribute.
func (a *Attrs) Get(attr Attr) string {
	return a[attr]
}

// qBittorrent reports 8640000 (100 days) for "never".
const etaInfinite = 8640000

// RenderAttrs formats a record into card text.
func RenderAttrs(r types.JobRecord) Attrs {
	var a Attrs
	pct := r.Progress * 100
	a[AttrName] = r.Name
	a[AttrStateLabel] = r.State.Label()
	a[AttrStateClass] = string(r.State.Class())
	a[AttrProgressWidth] = strconv.FormatFloat(pct, 'f', 2, 64)
	a[AttrPercent] = fmt.Sprintf("%.1f%%", pct)
	a[AttrSize] = humanize.IBytes(uint64(max(r.SizeBytes, 0)))
	a[AttrSeedsPeers] = fmt.Sprintf("%d seeds · %d peers", r.SeedCount, r.PeerCount)
	a[AttrDownRate] = rate(r.DownloadRate)
	a[AttrUpRate] = rate(r.UploadRate)
	a[AttrETA] = FormatETA(r.ETASeconds)
	a[AttrEnrichment] = enrichmentText(r.Enrichment)
	return a
}

func rate(bps int64) string {
	if bps <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(bps)) + "/s"
}

// FormatETA renders seconds as "2h 05m", "4m 10s" or "∞".
func FormatETA(sec int64) string {
	switch {
	case sec < 0 || sec >= etaInfinite:
		return "∞"
	case sec >= 86400:
		return fmt.Sprintf("%dd %02dh", sec/86400, sec%86400/3600)
	case sec >= 3600:
		return fmt.Sprintf("%dh %02dm", sec/3600, sec%3600/60)
	case sec >= 60:
		return fmt.Sprintf("%dm %02ds", sec/60, sec%60)
	}
	return fmt.Sprintf("%ds", sec)
}

func enrichmentText(e *types.Enrichment) string {
	if e == nil {
		return ""
	}
	var parts []string
	if e.Rating > 0 {
		parts = append(parts, fmt.Sprintf("★ %.1f", e.Rating))
	}
	if len(e.Genres) > 0 {
		parts = append(parts, strings.Join(e.Genres, ", "))
	}
	if e.Description != "" {
		parts = append(parts, e.Description)
	}
	return strings.Join(parts, " · ")
}
