// Package report renders a resident's day as markdown and HTML.
package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"

	"citysim/internal/city"
	"citysim/internal/persistence/snapshot"
	"citysim/internal/sim/actor"
	"citysim/internal/sim/schedule"
)

// Resident is the renderable view of one actor, built from a live actor or a snapshot.
type Resident struct {
	ID       int
	Home     string
	Work     string
	Eatery   string
	Leisure  string
	Schedule schedule.Schedule
	Events   []Entry
	Trips    []Trip
}

type Entry struct {
	Kind     string
	Hour     float64
	Location string
}

type Trip struct {
	Purpose string
	Origin  string
	Hour    float64
	Hops    int
}

func label(names map[city.Cell]string, c city.Cell) string {
	if n, ok := names[c]; ok {
		return n
	}
	return c.String()
}

func FromActor(a *actor.Actor, names map[city.Cell]string) Resident {
	r := Resident{
		ID:       int(a.ID),
		Home:     label(names, a.Home),
		Work:     label(names, a.Work),
		Eatery:   label(names, a.Eatery),
		Schedule: a.Schedule,
	}
	if a.HasLeisure {
		r.Leisure = label(names, a.Leisure)
	}
	for _, ev := range a.Log {
		r.Events = append(r.Events, Entry{Kind: string(ev.Kind), Hour: ev.Hour, Location: ev.Location})
	}
	for _, p := range a.Paths {
		r.Trips = append(r.Trips, Trip{Purpose: string(p.Purpose), Origin: p.Origin.String(), Hour: p.Hour, Hops: len(p.Cells) - 1})
	}
	return r
}

func FromSnapshot(a snapshot.ActorV1, names map[city.Cell]string) Resident {
	r := Resident{
		ID:       a.ID,
		Home:     label(names, a.Home),
		Work:     label(names, a.Work),
		Eatery:   label(names, a.Eatery),
		Schedule: a.Schedule,
	}
	if a.HasLeisure {
		r.Leisure = label(names, a.Leisure)
	}
	for _, ev := range a.Log {
		r.Events = append(r.Events, Entry{Kind: ev.Kind, Hour: ev.Hour, Location: ev.Location})
	}
	for _, p := range a.Paths {
		r.Trips = append(r.Trips, Trip{Purpose: p.Purpose, Origin: p.Origin, Hour: p.Hour, Hops: len(p.Cells) - 1})
	}
	return r
}

var eventText = map[string]string{
	string(actor.EventWake):              "Woke up",
	string(actor.EventLeftHome):          "Left home",
	string(actor.EventArrivedWork):       "Arrived at work",
	string(actor.EventOrderedDelivery):   "Ordered lunch delivery",
	string(actor.EventDeliveryReceived):  "Lunch delivered",
	string(actor.EventDeliveryCancelled): "Delivery cancelled",
	string(actor.EventLeftForLunch):      "Left for lunch",
	string(actor.EventArrivedLunch):      "Arrived for lunch",
	string(actor.EventLeftLunch):         "Left lunch",
	string(actor.EventLunchAbandoned):    "Gave up on lunch",
	string(actor.EventLeftWork):          "Left work",
	string(actor.EventArrivedHome):       "Arrived home",
	string(actor.EventArrivedLeisure):    "Arrived for leisure",
	string(actor.EventLeftLeisure):       "Left leisure",
	string(actor.EventSleep):             "Went to sleep",
}

func describe(kind string) string {
	if s, ok := eventText[kind]; ok {
		return s
	}
	return kind
}

// mdCell escapes the characters that would break a table cell.
func mdCell(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

// Markdown renders the resident's plan, event log and trips.
func Markdown(r Resident) []byte {
	var b bytes.Buffer
	s := r.Schedule
	fmt.Fprintf(&b, "# Resident %d\n\n", r.ID)
	fmt.Fprintf(&b, "Lives at **%s**, works at **%s**, eats at **%s**.\n\n", mdCell(r.Home), mdCell(r.Work), mdCell(r.Eatery))

	b.WriteString("## Plan\n\n| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Wake | %s |\n", schedule.FormatHour(s.Wake))
	fmt.Fprintf(&b, "| Work | %s to %s |\n", schedule.FormatHour(s.WorkStart), schedule.FormatHour(s.WorkEnd))
	switch {
	case s.OrdersDelivery:
		fmt.Fprintf(&b, "| Lunch | delivered %s to %s (ordered %s) |\n", schedule.FormatHour(s.LunchStart), schedule.FormatHour(s.LunchEnd), schedule.FormatHour(s.OrderTime))
	case s.LunchInsideWork():
		fmt.Fprintf(&b, "| Lunch | %s to %s |\n", schedule.FormatHour(s.LunchStart), schedule.FormatHour(s.LunchEnd))
	default:
		b.WriteString("| Lunch | none |\n")
	}
	if s.LeisureEligible && r.Leisure != "" {
		fmt.Fprintf(&b, "| Leisure | %s, up to %.1fh |\n", mdCell(r.Leisure), s.LeisureDuration)
	}
	fmt.Fprintf(&b, "| Bed | %s (curfew %s) |\n", schedule.FormatHour(s.Bedtime), schedule.FormatHour(s.Curfew))

	b.WriteString("\n## Day\n\n")
	if len(r.Events) == 0 {
		b.WriteString("Nothing happened yet.\n")
	} else {
		b.WriteString("| Time | Event | Where |\n|---|---|---|\n")
		for _, ev := range r.Events {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", schedule.FormatHour(ev.Hour), describe(ev.Kind), mdCell(ev.Location))
		}
	}

	if len(r.Trips) > 0 {
		b.WriteString("\n## Trips\n\n")
		for _, t := range r.Trips {
			fmt.Fprintf(&b, "- %s: %s from %s, %d hops\n", schedule.FormatHour(t.Hour), t.Purpose, strings.ToLower(t.Origin), t.Hops)
		}
	}
	return b.Bytes()
}

var md = goldmark.New(
	goldmark.WithExtensions(extension.Table),
	goldmark.WithRendererOptions(goldmarkhtml.WithHardWraps()),
)

// HTML renders the markdown itinerary. Raw HTML in names is escaped.
func HTML(r Resident) ([]byte, error) {
	var out bytes.Buffer
	if err := md.Convert(Markdown(r), &out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
