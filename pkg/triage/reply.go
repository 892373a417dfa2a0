package triage

import (
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/triage/pkg/common"
)

var urgencyLabels = map[int]string{
	1: "MINIMAL",
	2: "LOW",
	3: "MEDIUM",
	4: "HIGH",
	5: "CRITICAL",
}

var responseTimes = map[int]string{
	1: "When possible (1+ hours)",
	2: "Normal (21-60 minutes)",
	3: "Moderate (11-20 minutes)",
	4: "Urgent (5-10 minutes)",
	5: "Immediate (0-4 minutes)",
}

// UrgencyLabel names an urgency level, e.g. 5 is CRITICAL.
func UrgencyLabel(level int) string {
	if l, ok := urgencyLabels[level]; ok {
		return l
	}
	return "UNKNOWN"
}

// ResponseTimeBand returns the typical response time for an urgency level.
func ResponseTimeBand(level int) string {
	if t, ok := responseTimes[level]; ok {
		return t
	}
	return responseTimes[common.DefaultUrgency]
}

// Contact is the public number of an emergency service.
type Contact struct {
	Service common.EmergencyType `json:"service"`
	Name    string               `json:"name"`
	Phone   string               `json:"phone"`
}

var contacts = map[common.EmergencyType]Contact{
	common.EmergencyMedical: {Service: common.EmergencyMedical, Name: "SAMU (mobile emergency care)", Phone: "192"},
	common.EmergencyPolice:  {Service: common.EmergencyPolice, Name: "Military Police", Phone: "190"},
	common.EmergencyFire:    {Service: common.EmergencyFire, Name: "Fire Department", Phone: "193"},
}

// Contacts lists the services for types. Unclassified reports get every
// service so the caller is never left without a number.
func Contacts(types []common.EmergencyType) []Contact {
	var out []Contact
	for _, t := range types {
		if c, ok := contacts[t]; ok {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		for _, t := range common.EmergencyLabels {
			out = append(out, contacts[t])
		}
	}
	return out
}

// Reply renders r as the message sent back to the reporter.
func Reply(r common.ClassificationResult) string {
	var b strings.Builder

	b.WriteString("Emergency report received.\n\n")
	if r.HasType(common.EmergencyUnclassified) {
		b.WriteString("We could not determine the service automatically. An operator will review your report.\n")
	} else {
		names := make([]string, len(r.EmergencyTypes))
		for i, t := range r.EmergencyTypes {
			names[i] = string(t)
		}
		fmt.Fprintf(&b, "Services: %s\n", strings.Join(names, ", "))
	}
	fmt.Fprintf(&b, "Urgency: %d (%s)\n", r.UrgencyLevel, UrgencyLabel(r.UrgencyLevel))
	if r.ResponseTime != "" {
		fmt.Fprintf(&b, "Expected response: %s\n", r.ResponseTime)
	}

	if len(r.SuggestedActions) > 0 {
		b.WriteString("\nWhat to do now:\n")
		for _, a := range r.SuggestedActions {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}

	b.WriteString("\nCall directly:\n")
	for _, c := range Contacts(r.EmergencyTypes) {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Phone)
	}
	fmt.Fprintf(&b, "\nReference: %s", r.ID)
	return b.String()
}
