// Package prompt turns a user message into the instruction sent to the model.
// Building is pure: the current time is an argument.
package prompt

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrEmptyMessage = errors.New("message is required")

// Payload is everything the gateway needs for one generation request.
type Payload struct {
	Instruction      string
	Temperature      float32
	MaxOutputTokens  int32
	ResponseMIMEType string
}

const replyContract = `Respond with raw JSON only. Do not add any text before or after it and do not wrap it in a markdown code fence.
The JSON must have exactly this shape:
{"reply": "<your message to the user>", "memo": null}
or, when the user asked you to remember or remind them of something:
{"reply": "<your message to the user>", "memo": {"title": "<short task title>", "time": "YYYY-MM-DD HH:mm"}}`

// Build renders the instruction for message under settings at time now.
func Build(message string, settings Settings, now time.Time) (Payload, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Payload{}, ErrEmptyMessage
	}
	if settings.Persona == "" {
		settings.Persona = PersonaCompanion
	}
	if settings.Verbosity == "" {
		settings.Verbosity = VerbosityShort
	}

	var b strings.Builder
	b.WriteString(personaLine(settings.Persona))
	b.WriteString("\n")
	b.WriteString(verbosityLine(settings.Verbosity))
	b.WriteString("\n\n")

	if settings.ManagesTasks() {
		fmt.Fprintf(&b, "The current time is %s (%s).\n", now.Format("2006-01-02 15:04"), now.Weekday())
		b.WriteString("When the user mentions a task or a time, create a memo for it. ")
		b.WriteString("Convert every relative time expression (for example \"in 10 minutes\" or \"tomorrow morning\") ")
		b.WriteString("into an absolute time computed from the current time, formatted exactly as YYYY-MM-DD HH:mm. ")
		b.WriteString("If no time is given, use an empty string for time.\n\n")
	} else {
		b.WriteString("Set memo to null unless the user explicitly asks you to remember something.\n\n")
	}

	b.WriteString(replyContract)
	b.WriteString("\n\nUser message:\n")
	b.WriteString(message)

	p := Payload{
		Instruction:      b.String(),
		Temperature:      0.7,
		MaxOutputTokens:  512,
		ResponseMIMEType: "application/json",
	}
	if settings.Verbosity == VerbosityDetailed {
		p.Temperature = 0.9
		p.MaxOutputTokens = 2048
	}
	if settings.ManagesTasks() {
		// Time arithmetic wants less creativity.
		p.Temperature = 0.2
	}
	return p, nil
}

func personaLine(p Persona) string {
	switch p {
	case PersonaManager:
		return "You are a dependable personal manager. You keep track of the user's tasks and appointments and answer in a friendly, efficient tone."
	default:
		return "You are a warm, casual chat friend. Answer naturally, like a friend texting back."
	}
}

func verbosityLine(v Verbosity) string {
	if v == VerbosityDetailed {
		return "Give a thorough, well-explained answer."
	}
	return "Keep the reply short: one or two sentences."
}
